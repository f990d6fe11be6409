package model

// ValueType describes the shape of a template's value model.
type ValueType int

const (
	ValueTypeBoolean ValueType = iota
	ValueTypeNumber
	ValueTypeText
	ValueTypeEntity
	ValueTypeTable
)

// NodeDeviceConfiguration is the persisted configuration of one field node.
type NodeDeviceConfiguration struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	DeviceConfigurations []DeviceConfiguration `json:"deviceConfigurations"`
}

// DeviceConfiguration belongs to exactly one node.
type DeviceConfiguration struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	ClassFullName    string            `json:"classFullName,omitempty"`
	RefreshSchedule  string            `json:"refreshSchedule,omitempty"`
	DeviceParameters map[string]string `json:"deviceParameters,omitempty"`
	ReportTemplates  []ReportTemplate  `json:"reportTemplates"`
	CommandTemplates []CommandTemplate `json:"commandTemplates"`
}

type ReportTemplate struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            ValueType `json:"type"`
	Address         string    `json:"address"`
	Model           any       `json:"model"`
	RefreshSchedule string    `json:"refreshSchedule,omitempty"`
	MaintainHistory bool      `json:"maintainHistory"`
	Filters         []string  `json:"filters,omitempty"`
}

// AsReport returns the template's default model as a report.
func (t ReportTemplate) AsReport() Report {
	return Report{ID: t.ID, Value: t.Model}
}

type CommandTemplate struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Type    ValueType `json:"type"`
	Address string    `json:"address"`
	Model   any       `json:"model"`
	NodeID  string    `json:"nodeId,omitempty"` // owning node, stamped by the fleet service
}

// AsCommand returns the template's default model as a command.
func (t CommandTemplate) AsCommand() Command {
	return Command{ID: t.ID, Value: t.Model}
}

// DeviceStatus is reported by a node's device-state endpoint.
type DeviceStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}
