package model

import "time"

// Variable is an orchestrator-local value that acts as a virtual device.
type Variable struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	IsPersistent bool      `json:"isPersistant"`
	Type         ValueType `json:"type"`
	Value        any       `json:"value"`
}

// CreateReport synthesizes the report that announces the variable's value.
func (v *Variable) CreateReport() Report {
	return Report{ID: v.ID, Value: v.Value, TimeStamp: time.Now().UTC()}
}

// ReportTemplate exposes the variable as a report source.
func (v *Variable) ReportTemplate() ReportTemplate {
	return ReportTemplate{
		ID:    v.ID,
		Name:  v.Name,
		Type:  v.Type,
		Model: v.Value,
	}
}

// CommandTemplate exposes the variable as a rule output target.
func (v *Variable) CommandTemplate() CommandTemplate {
	return CommandTemplate{
		ID:    v.ID,
		Name:  v.Name,
		Type:  v.Type,
		Model: v.Value,
	}
}
