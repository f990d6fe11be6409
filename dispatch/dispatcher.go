package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/fleet"
	"github.com/revolutionized-iot2/riot2-orchestrator/messaging"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/presence"
	"github.com/revolutionized-iot2/riot2-orchestrator/rules"
	"github.com/revolutionized-iot2/riot2-orchestrator/state"
)

var (
	ErrUnknownCommand  = errors.New("dispatch: command id maps to no node")
	ErrUnknownVariable = errors.New("dispatch: unknown variable")
)

// Dispatcher routes inbound bus messages and publishes outbound ones.
type Dispatcher struct {
	fleet     *fleet.Service
	presence  *presence.Registry
	tracker   *state.Tracker
	processor *rules.Processor
	pub       Publisher
	emitter   Emitter
	topics    messaging.Topics
	orch      config.OrchestratorConfig
	timeout   time.Duration
}

func NewDispatcher(fl *fleet.Service, reg *presence.Registry, tracker *state.Tracker, proc *rules.Processor,
	pub Publisher, emitter Emitter, topics messaging.Topics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		fleet:     fl,
		presence:  reg,
		tracker:   tracker,
		processor: proc,
		pub:       pub,
		emitter:   emitter,
		topics:    topics,
		orch:      fl.OrchestratorConfiguration(),
		timeout:   timeout,
	}
}

// HandleMessage is the subscription callback. It never panics or returns an
// error; failures are logged with the raw payload.
func (d *Dispatcher) HandleMessage(topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.fail(topic, payload, fmt.Errorf("panic: %v", r))
		}
	}()

	kind, id, ok := d.topics.Classify(topic)
	if !ok {
		log.Printf("dispatch: ignoring message on unrecognised topic %s", topic)
		return
	}
	switch kind {
	case messaging.TopicReport:
		if err := d.handleReport(payload); err != nil {
			d.fail(topic, payload, err)
		}
	case messaging.TopicNodeOnline:
		if err := d.handleNodeOnline(id, payload); err != nil {
			d.fail(topic, payload, err)
		}
	case messaging.TopicOrchestratorOnline:
		// Our own retained announcement.
	default:
		log.Printf("dispatch: ignoring %s", topic)
	}
}

func (d *Dispatcher) fail(topic string, payload []byte, err error) {
	log.Printf("dispatch: message on %s failed: %v (payload %q)", topic, err, payload)
	d.emitter.EmitMessageFailed(topic, err)
}

func (d *Dispatcher) handleReport(payload []byte) error {
	report, err := model.DecodeReport(payload)
	if err != nil {
		return err
	}
	tpl, ok := d.fleet.ReportTemplate(report.ID)
	if !ok {
		d.emitter.EmitReportDropped(report.ID, "unregistered")
		return nil
	}
	d.tracker.SetReport(*report, tpl.MaintainHistory)
	d.emitter.EmitReportAccepted(*report)

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if d.orch.UseExtWorkflowEngine {
		if err := d.presence.TriggerWorkflow(ctx, *report); err != nil {
			log.Printf("dispatch: workflow forward of %s dropped: %v", report.ID, err)
		}
		return nil
	}

	candidates := rules.MatchingRules(d.fleet.RulesTriggeredBy(report.ID), *report)
	if len(candidates) == 0 {
		return nil
	}
	d.processor.ProcessReport(ctx, *report, candidates, func(results []model.RuleEvaluationResult) {
		for _, res := range results {
			if err := d.ProcessOutput(ctx, res); err != nil {
				log.Printf("dispatch: rule output %s: %v", res.CommandID, err)
			}
		}
	})
	return nil
}

func (d *Dispatcher) handleNodeOnline(nodeID string, payload []byte) error {
	var msg model.NodeOnlineMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode online message: %w", err)
	}
	if !msg.IsOnline {
		d.presence.Remove(nodeID)
		d.emitter.EmitNodeOffline(nodeID)
		log.Printf("dispatch: node %s offline", nodeID)
		return nil
	}
	d.presence.Add(model.OnlineNode{ID: nodeID, Settings: msg})
	d.emitter.EmitNodeOnline(nodeID, msg)
	log.Printf("dispatch: node %s online at %s", nodeID, msg.NodeBaseURL)
	return d.SendConfigurationCommand(nodeID)
}

// ProcessOutput applies one rule or operator output. An empty command id is
// a no-op. Variable outputs update and persist the variable without
// publishing; other outputs are published to the owning node's command
// topic. Unknown targets change nothing and return an error.
func (d *Dispatcher) ProcessOutput(ctx context.Context, res model.RuleEvaluationResult) error {
	if res.CommandID == "" {
		return nil
	}
	if res.Operation == model.OperationVariable {
		v, ok := d.fleet.Variable(res.CommandID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownVariable, res.CommandID)
		}
		v.Value = res.Value
		if _, err := d.fleet.SaveVariable(v); err != nil {
			return fmt.Errorf("save variable %s: %w", v.ID, err)
		}
		d.emitter.EmitVariableChanged(*v)
		return nil
	}

	nodeID, ok := d.fleet.FindNodeID(res.CommandID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, res.CommandID)
	}
	cmd := model.Command{ID: res.CommandID, Value: res.Value}
	d.tracker.SetCommand(cmd, false)
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command %s: %w", cmd.ID, err)
	}
	if err := d.pub.Publish(d.topics.Get(nodeID, messaging.TopicCommand), data, false); err != nil {
		return fmt.Errorf("publish command %s to %s: %w", cmd.ID, nodeID, err)
	}
	d.emitter.EmitCommandSent(nodeID, cmd)
	return nil
}

// SendConfigurationCommand tells a node to pull its configuration.
func (d *Dispatcher) SendConfigurationCommand(nodeID string) error {
	data, err := json.Marshal(model.ConfigurationCommand{APIBaseURL: d.orch.URL})
	if err != nil {
		return err
	}
	if err := d.pub.Publish(d.topics.Get(nodeID, messaging.TopicConfiguration), data, false); err != nil {
		return fmt.Errorf("push configuration to %s: %w", nodeID, err)
	}
	return nil
}

// SendReport publishes a report on the orchestrator's own report topic so it
// re-enters the pipeline like node telemetry.
func (d *Dispatcher) SendReport(r model.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := d.pub.Publish(d.topics.Get(d.orch.ID, messaging.TopicReport), data, false); err != nil {
		return fmt.Errorf("publish report %s: %w", r.ID, err)
	}
	return nil
}

// OnlineMessage is the orchestrator's presence payload.
func (d *Dispatcher) OnlineMessage(online bool) []byte {
	data, _ := json.Marshal(model.NodeOnlineMessage{
		IsOnline:    online,
		NodeBaseURL: d.orch.URL,
		Name:        d.orch.ID,
	})
	return data
}

// Announce publishes the retained orchestrator-online message.
func (d *Dispatcher) Announce() error {
	topic := d.topics.Get(d.orch.ID, messaging.TopicOrchestratorOnline)
	if err := d.pub.Publish(topic, d.OnlineMessage(true), true); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	return nil
}
