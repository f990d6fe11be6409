package engine

import (
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

const (
	EventObjectChanged EventType = iota + 1
	EventReportAccepted
	EventReportDropped
	EventCommandSent
	EventVariableChanged
	EventNodeOnline
	EventNodeOffline
	EventMessageFailed
	EventRuleFailed
	EventMessagingConnected
	EventMessagingDisconnected
)

// --- Event payloads ---

type ObjectChangedEvent struct {
	Change store.Change
}

type ReportAcceptedEvent struct {
	Report model.Report
}

type ReportDroppedEvent struct {
	ReportID string
	Reason   string
}

type CommandSentEvent struct {
	NodeID  string
	Command model.Command
}

type VariableChangedEvent struct {
	Variable model.Variable
}

type NodeOnlineEvent struct {
	NodeID   string
	Settings model.NodeOnlineMessage
}

type NodeOfflineEvent struct {
	NodeID string
}

type MessageFailedEvent struct {
	Topic string
	Err   error
}

type RuleFailedEvent struct {
	RuleID string
	Err    error
}

type ConnectionEvent struct {
	Detail string
}
