package engine

import (
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

// storeEmitter bridges object store change notifications to the EventBus.
type storeEmitter struct {
	bus *EventBus
}

func (e *storeEmitter) EmitObjectChanged(c store.Change) {
	e.bus.Emit(Event{Type: EventObjectChanged, Payload: ObjectChangedEvent{Change: c}})
}

// dispatchEmitter bridges the dispatch package's emitter interface to the EventBus.
type dispatchEmitter struct {
	bus *EventBus
}

func (e *dispatchEmitter) EmitReportAccepted(r model.Report) {
	e.bus.Emit(Event{Type: EventReportAccepted, Payload: ReportAcceptedEvent{Report: r}})
}

func (e *dispatchEmitter) EmitReportDropped(reportID, reason string) {
	e.bus.Emit(Event{Type: EventReportDropped, Payload: ReportDroppedEvent{ReportID: reportID, Reason: reason}})
}

func (e *dispatchEmitter) EmitCommandSent(nodeID string, c model.Command) {
	e.bus.Emit(Event{Type: EventCommandSent, Payload: CommandSentEvent{NodeID: nodeID, Command: c}})
}

func (e *dispatchEmitter) EmitVariableChanged(v model.Variable) {
	e.bus.Emit(Event{Type: EventVariableChanged, Payload: VariableChangedEvent{Variable: v}})
}

func (e *dispatchEmitter) EmitNodeOnline(nodeID string, settings model.NodeOnlineMessage) {
	e.bus.Emit(Event{Type: EventNodeOnline, Payload: NodeOnlineEvent{NodeID: nodeID, Settings: settings}})
}

func (e *dispatchEmitter) EmitNodeOffline(nodeID string) {
	e.bus.Emit(Event{Type: EventNodeOffline, Payload: NodeOfflineEvent{NodeID: nodeID}})
}

func (e *dispatchEmitter) EmitMessageFailed(topic string, err error) {
	e.bus.Emit(Event{Type: EventMessageFailed, Payload: MessageFailedEvent{Topic: topic, Err: err}})
}
