package dispatch

import "github.com/revolutionized-iot2/riot2-orchestrator/model"

// Emitter decouples the dispatcher from the engine's event bus.
type Emitter interface {
	EmitReportAccepted(r model.Report)
	EmitReportDropped(reportID, reason string)
	EmitCommandSent(nodeID string, c model.Command)
	EmitVariableChanged(v model.Variable)
	EmitNodeOnline(nodeID string, settings model.NodeOnlineMessage)
	EmitNodeOffline(nodeID string)
	EmitMessageFailed(topic string, err error)
}

// Publisher sends raw payloads to the bus.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}
