package engine

import (
	"github.com/revolutionized-iot2/riot2-orchestrator/messaging"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

var topicLabels = map[messaging.Topic]string{
	messaging.TopicReport:             "report",
	messaging.TopicNodeOnline:         "online",
	messaging.TopicCommand:            "command",
	messaging.TopicConfiguration:      "configuration",
	messaging.TopicOrchestratorOnline: "orchestrator",
}

func (e *Engine) wireEventHandlers() {
	// Store changes: metrics, then the reactions that follow a change
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ObjectChangedEvent)
		e.metrics.StoreChanges.WithLabelValues(string(ev.Change.Kind), ev.Change.Op.String()).Inc()
		e.debugFn("engine: %s %s %s", ev.Change.Kind, ev.Change.ID, ev.Change.Op)
		switch ev.Change.Kind {
		case model.KindVariable:
			e.handleVariableChanged(ev.Change)
		case model.KindNodeConfiguration:
			e.handleNodeConfigurationChanged(ev.Change)
		}
	}, EventObjectChanged)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ReportAcceptedEvent)
		e.metrics.Reports.WithLabelValues("accepted").Inc()
		if e.exporter != nil {
			e.exporter.ExportReport(ev.Report)
		}
	}, EventReportAccepted)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ReportDroppedEvent)
		e.metrics.Reports.WithLabelValues("dropped").Inc()
		e.debugFn("engine: report %s dropped: %s", ev.ReportID, ev.Reason)
	}, EventReportDropped)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(CommandSentEvent)
		e.metrics.CommandsSent.Inc()
		e.debugFn("engine: command %s sent to %s", ev.Command.ID, ev.NodeID)
		if e.exporter != nil {
			e.exporter.ExportCommand(ev.NodeID, ev.Command)
		}
	}, EventCommandSent)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(VariableChangedEvent)
		e.metrics.VariableUpdates.Inc()
		e.debugFn("engine: variable %s set to %v", ev.Variable.ID, ev.Variable.Value)
	}, EventVariableChanged)

	// Presence changes keep the gauge in step with the registry
	e.Events.SubscribeTypes(func(evt Event) {
		e.metrics.OnlineNodes.Set(float64(len(e.registry.OnlineNodes())))
	}, EventNodeOnline, EventNodeOffline)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(MessageFailedEvent)
		label := "unknown"
		if kind, _, ok := e.topics.Classify(ev.Topic); ok {
			label = topicLabels[kind]
		}
		e.metrics.MessagesFailed.WithLabelValues(label).Inc()
	}, EventMessageFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(RuleFailedEvent)
		e.metrics.RuleFailures.Inc()
		e.debugFn("engine: rule %s failed: %v", ev.RuleID, ev.Err)
	}, EventRuleFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.logFn("engine: %s", ev.Detail)
	}, EventMessagingConnected, EventMessagingDisconnected)
}

// handleVariableChanged seeds state for new variables and republishes an
// updated variable as a report so that rules triggered by it run.
func (e *Engine) handleVariableChanged(c store.Change) {
	v, ok := c.Object.(*model.Variable)
	if !ok {
		return
	}
	switch c.Op {
	case store.Created:
		e.tracker.SetReport(v.CreateReport(), false)
	case store.Updated:
		report := v.CreateReport()
		e.enqueue("publish variable "+v.ID, func() error {
			return e.dispatcher.SendReport(report)
		})
	}
}

// handleNodeConfigurationChanged tells an online node to pull its new
// configuration.
func (e *Engine) handleNodeConfigurationChanged(c store.Change) {
	if c.Op == store.Deleted {
		return
	}
	if _, online := e.registry.Node(c.ID); !online {
		return
	}
	nodeID := c.ID
	e.enqueue("push configuration to "+nodeID, func() error {
		return e.dispatcher.SendConfigurationCommand(nodeID)
	})
}
