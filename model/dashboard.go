package model

type DashboardConfiguration struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Pages []DashboardPage `json:"pages"`
}

type DashboardPage struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Components []DashboardComponent `json:"components"`
}

type DashboardComponent struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Elements []DashboardElement `json:"elements"`
}

// DashboardElement references templates by id; bodies are resolved on read.
type DashboardElement struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	ReportTemplate  *ReportTemplate  `json:"reportTemplate,omitempty"`
	CommandTemplate *CommandTemplate `json:"commandTemplate,omitempty"`
}
