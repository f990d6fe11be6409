package fleet

import (
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

const defaultDashboardID = "default"

// Dashboard returns the stored dashboard, or an empty default one, with
// template references resolved against the current templates.
func (s *Service) Dashboard() *model.DashboardConfiguration {
	dashes := store.GetAll[model.DashboardConfiguration](s.store)
	if len(dashes) == 0 {
		return &model.DashboardConfiguration{ID: defaultDashboardID, Name: "Dashboard", Pages: []model.DashboardPage{}}
	}
	d := dashes[0]

	reports := make(map[string]model.ReportTemplate)
	for _, t := range s.ReportTemplates() {
		reports[t.ID] = t
	}
	commands := make(map[string]model.CommandTemplate)
	for _, t := range s.CommandTemplates() {
		commands[t.ID] = t
	}
	eachElement(d, func(el *model.DashboardElement) {
		if el.ReportTemplate != nil {
			if t, ok := reports[el.ReportTemplate.ID]; ok {
				el.ReportTemplate = &t
			}
		}
		if el.CommandTemplate != nil {
			if t, ok := commands[el.CommandTemplate.ID]; ok {
				el.CommandTemplate = &t
			}
		}
	})
	return d
}

// SaveDashboardConfiguration stores the dashboard with template bodies
// reduced to their ids.
func (s *Service) SaveDashboardConfiguration(d *model.DashboardConfiguration) (string, error) {
	if d.ID == "" {
		d.ID = defaultDashboardID
	}
	eachElement(d, func(el *model.DashboardElement) {
		if el.ReportTemplate != nil {
			el.ReportTemplate = &model.ReportTemplate{ID: el.ReportTemplate.ID}
		}
		if el.CommandTemplate != nil {
			el.CommandTemplate = &model.CommandTemplate{ID: el.CommandTemplate.ID}
		}
	})
	return store.Save(s.store, d, true)
}

func eachElement(d *model.DashboardConfiguration, fn func(*model.DashboardElement)) {
	for i := range d.Pages {
		for j := range d.Pages[i].Components {
			c := &d.Pages[i].Components[j]
			for k := range c.Elements {
				fn(&c.Elements[k])
			}
		}
	}
}
