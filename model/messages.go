package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Report is a telemetry value from a node, or one synthesized from a Variable.
type Report struct {
	ID        string    `json:"id"`
	Value     any       `json:"value"`
	Filter    string    `json:"filter,omitempty"`
	TimeStamp time.Time `json:"timeStamp"`
}

// Command is a directive published to a node.
type Command struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// DecodeReport parses a report message. A report without an id is rejected.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.ID == "" {
		return nil, errors.New("decode report: missing id")
	}
	if r.TimeStamp.IsZero() {
		r.TimeStamp = time.Now().UTC()
	}
	return &r, nil
}

// NodeType distinguishes ordinary device nodes from the external workflow engine.
type NodeType int

const (
	NodeTypeDevice NodeType = iota
	NodeTypeWorkflow
)

// NodeOnlineMessage is the payload of a node's online announcement.
type NodeOnlineMessage struct {
	IsOnline    bool     `json:"isOnline"`
	NodeBaseURL string   `json:"nodeBaseUrl"`
	NodeType    NodeType `json:"nodeType"`
	Name        string   `json:"name,omitempty"`
}

// OnlineNode is an in-memory presence entry. It is never persisted.
type OnlineNode struct {
	ID       string            `json:"id"`
	Settings NodeOnlineMessage `json:"onlineNodeSettings"`
}

// ConfigurationCommand is pushed to a node whenever it connects or its
// configuration changes; the node pulls its configuration from ApiBaseURL.
type ConfigurationCommand struct {
	APIBaseURL string `json:"apiBaseUrl"`
}

// OutputOperation selects what a rule output does with its value.
type OutputOperation int

const (
	OperationSetValue OutputOperation = iota
	OperationVariable
)

func (o OutputOperation) String() string {
	switch o {
	case OperationSetValue:
		return "set_value"
	case OperationVariable:
		return "variable"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// RuleEvaluationResult is one output of the rule pipeline.
type RuleEvaluationResult struct {
	CommandID string          `json:"commandId"`
	Value     any             `json:"value"`
	Operation OutputOperation `json:"operation"`
}
