// Package fleet is the configuration view of the node fleet: node and
// device configurations, their templates, variables, rules and the
// dashboard, all backed by the object store.
package fleet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

// ErrDuplicateID is returned when a template id is already in use.
var ErrDuplicateID = errors.New("fleet: template id already in use")

type Service struct {
	store *store.Store
	orch  config.OrchestratorConfig
	idx   indexes
}

func NewService(s *store.Store, orch config.OrchestratorConfig) *Service {
	return &Service{store: s, orch: orch}
}

// OrchestratorConfiguration returns the identity this orchestrator announces.
func (s *Service) OrchestratorConfiguration() config.OrchestratorConfig { return s.orch }

// NodeConfigurations returns every stored node configuration with command
// templates stamped with their owning node id.
func (s *Service) NodeConfigurations() []*model.NodeDeviceConfiguration {
	nodes := store.GetAll[model.NodeDeviceConfiguration](s.store)
	for _, n := range nodes {
		stampNodeID(n)
	}
	return nodes
}

func (s *Service) NodeConfiguration(id string) (*model.NodeDeviceConfiguration, bool) {
	n, ok := store.Get[model.NodeDeviceConfiguration](s.store, id)
	if !ok {
		return nil, false
	}
	stampNodeID(n)
	return n, true
}

func stampNodeID(n *model.NodeDeviceConfiguration) {
	for i := range n.DeviceConfigurations {
		dc := &n.DeviceConfigurations[i]
		for j := range dc.CommandTemplates {
			dc.CommandTemplates[j].NodeID = n.ID
		}
	}
}

// ReportTemplates returns every device report template followed by one
// synthetic template per variable.
func (s *Service) ReportTemplates() []model.ReportTemplate {
	var out []model.ReportTemplate
	for _, n := range s.NodeConfigurations() {
		for _, dc := range n.DeviceConfigurations {
			out = append(out, dc.ReportTemplates...)
		}
	}
	for _, v := range s.Variables() {
		out = append(out, v.ReportTemplate())
	}
	return out
}

func (s *Service) ReportTemplate(id string) (model.ReportTemplate, bool) {
	t, ok := s.templateIndex().reports[id]
	return t, ok
}

// CommandTemplates returns every device command template followed by one
// synthetic template per variable.
func (s *Service) CommandTemplates() []model.CommandTemplate {
	var out []model.CommandTemplate
	for _, n := range s.NodeConfigurations() {
		for _, dc := range n.DeviceConfigurations {
			out = append(out, dc.CommandTemplates...)
		}
	}
	for _, v := range s.Variables() {
		out = append(out, v.CommandTemplate())
	}
	return out
}

func (s *Service) CommandTemplate(id string) (model.CommandTemplate, bool) {
	t, ok := s.templateIndex().commands[id]
	return t, ok
}

// FindNodeID resolves the node owning a command template.
func (s *Service) FindNodeID(commandID string) (string, bool) {
	if commandID == "" {
		return "", false
	}
	id, ok := s.templateIndex().owners[commandID]
	return id, ok
}

// SaveNodeConfiguration assigns ids to devices and templates that have none,
// stamps command back-references and persists the configuration. Existing
// ids are never regenerated.
func (s *Service) SaveNodeConfiguration(cfg *model.NodeDeviceConfiguration) (string, error) {
	if cfg.ID == "" {
		return "", fmt.Errorf("save node configuration: %w", store.ErrMissingID)
	}
	for i := range cfg.DeviceConfigurations {
		dc := &cfg.DeviceConfigurations[i]
		if dc.ID == "" {
			dc.ID = uuid.NewString()
		}
		for j := range dc.ReportTemplates {
			if dc.ReportTemplates[j].ID == "" {
				dc.ReportTemplates[j].ID = uuid.NewString()
			}
		}
		for j := range dc.CommandTemplates {
			if dc.CommandTemplates[j].ID == "" {
				dc.CommandTemplates[j].ID = uuid.NewString()
			}
		}
	}
	stampNodeID(cfg)
	if err := s.checkUniqueIDs(cfg); err != nil {
		return "", err
	}
	return store.Save(s.store, cfg, true)
}

// checkUniqueIDs rejects template ids that collide within cfg, with another
// node's templates, or with a variable.
func (s *Service) checkUniqueIDs(cfg *model.NodeDeviceConfiguration) error {
	owner := make(map[string]string)
	for _, n := range store.GetAll[model.NodeDeviceConfiguration](s.store) {
		if n.ID == cfg.ID {
			continue
		}
		for _, dc := range n.DeviceConfigurations {
			for _, t := range dc.ReportTemplates {
				owner[t.ID] = "node " + n.ID
			}
			for _, t := range dc.CommandTemplates {
				owner[t.ID] = "node " + n.ID
			}
		}
	}
	for _, v := range store.GetAll[model.Variable](s.store) {
		owner[v.ID] = "variable"
	}

	seen := make(map[string]bool)
	check := func(id string) error {
		if seen[id] {
			return fmt.Errorf("save node configuration %s: %w: %s appears twice", cfg.ID, ErrDuplicateID, id)
		}
		seen[id] = true
		if o, taken := owner[id]; taken {
			return fmt.Errorf("save node configuration %s: %w: %s belongs to %s", cfg.ID, ErrDuplicateID, id, o)
		}
		return nil
	}
	for _, dc := range cfg.DeviceConfigurations {
		for _, t := range dc.ReportTemplates {
			if err := check(t.ID); err != nil {
				return err
			}
		}
		for _, t := range dc.CommandTemplates {
			if err := check(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) DeleteNodeConfiguration(id string) error {
	return store.Delete[model.NodeDeviceConfiguration](s.store, id, true)
}

func (s *Service) Variables() []*model.Variable {
	return store.GetAll[model.Variable](s.store)
}

func (s *Service) Variable(id string) (*model.Variable, bool) {
	return store.Get[model.Variable](s.store, id)
}

// SaveVariable persists v. Its id may not collide with a node template id.
func (s *Service) SaveVariable(v *model.Variable) (string, error) {
	if v.ID != "" {
		if node, taken := s.templateOwner(v.ID); taken {
			return "", fmt.Errorf("save variable: %w: %s belongs to node %s", ErrDuplicateID, v.ID, node)
		}
	}
	return store.Save(s.store, v, true)
}

func (s *Service) templateOwner(id string) (string, bool) {
	for _, n := range store.GetAll[model.NodeDeviceConfiguration](s.store) {
		for _, dc := range n.DeviceConfigurations {
			for _, t := range dc.ReportTemplates {
				if t.ID == id {
					return n.ID, true
				}
			}
			for _, t := range dc.CommandTemplates {
				if t.ID == id {
					return n.ID, true
				}
			}
		}
	}
	return "", false
}

func (s *Service) DeleteVariable(id string) error {
	return store.Delete[model.Variable](s.store, id, true)
}

func (s *Service) Rules() []*model.Rule {
	return store.GetAll[model.Rule](s.store)
}

// Rule implements rules.RuleSource.
func (s *Service) Rule(id string) (*model.Rule, bool) {
	return store.Get[model.Rule](s.store, id)
}

func (s *Service) SaveRule(r *model.Rule) (string, error) {
	return store.Save(s.store, r, true)
}

func (s *Service) DeleteRule(id string) error {
	return store.Delete[model.Rule](s.store, id, true)
}
