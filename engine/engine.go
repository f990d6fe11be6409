package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/dispatch"
	"github.com/revolutionized-iot2/riot2-orchestrator/fleet"
	"github.com/revolutionized-iot2/riot2-orchestrator/messaging"
	"github.com/revolutionized-iot2/riot2-orchestrator/metrics"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/presence"
	"github.com/revolutionized-iot2/riot2-orchestrator/rules"
	"github.com/revolutionized-iot2/riot2-orchestrator/state"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

type LogFunc func(format string, args ...any)

// MessageClient is the slice of the MQTT client the engine drives.
// *messaging.Client satisfies it.
type MessageClient interface {
	SetWill(topic string, payload []byte, retained bool)
	Connect() error
	Subscribe(filters []string, handler messaging.Handler) error
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
	Drain()
	Close()
}

type Config struct {
	AppConfig *config.Config
	Store     *store.Store
	MsgClient MessageClient
	Exporter  *messaging.Exporter // optional
	Mirror    state.Mirror        // optional
	Metrics   *metrics.Metrics    // created when nil
	Functions *rules.FunctionLibrary
	LogFunc   LogFunc
	Debug     bool
}

const reactionQueueSize = 256

type reaction struct {
	name string
	run  func() error
}

type Engine struct {
	cfg        *config.Config
	store      *store.Store
	msgClient  MessageClient
	exporter   *messaging.Exporter
	metrics    *metrics.Metrics
	topics     messaging.Topics
	fleet      *fleet.Service
	registry   *presence.Registry
	tracker    *state.Tracker
	processor  *rules.Processor
	dispatcher *dispatch.Dispatcher
	Events     *EventBus
	logFn      LogFunc
	debugFn    LogFunc

	queueMu     sync.RWMutex
	queue       chan reaction
	queueClosed bool
	limiter     *rate.Limiter // nil when reactions are not throttled
	wg          sync.WaitGroup

	stopChan     chan struct{}
	stopOnce     sync.Once
	msgConnected bool
}

// New builds the orchestrator's services around the given store and client.
// Nothing touches the network until Start.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	debugFn := func(string, ...any) {}
	if c.Debug {
		debugFn = logFn
	}
	m := c.Metrics
	if m == nil {
		m = metrics.New()
	}

	e := &Engine{
		cfg:       c.AppConfig,
		store:     c.Store,
		msgClient: c.MsgClient,
		exporter:  c.Exporter,
		metrics:   m,
		topics:    messaging.NewTopics(c.AppConfig.Messaging.TopicPrefix),
		Events:    NewEventBus(),
		logFn:     logFn,
		debugFn:   debugFn,
		queue:     make(chan reaction, reactionQueueSize),
		limiter:   reactionLimiter(c.AppConfig.Messaging),
		stopChan:  make(chan struct{}),
	}

	e.fleet = fleet.NewService(c.Store, c.AppConfig.Orchestrator)
	e.registry = presence.NewRegistry(presence.NewClient(c.AppConfig.Nodes), c.AppConfig.Nodes.MaxConcurrentFetches)
	e.tracker = state.New(c.AppConfig.History)
	if c.Mirror != nil {
		e.tracker.SetMirror(c.Mirror)
	}
	e.processor = rules.NewProcessor(c.Functions)
	e.processor.SetLogFunc(rules.LogFunc(logFn))
	e.processor.OnRuleError = func(ruleID string, err error) {
		e.Events.Emit(Event{Type: EventRuleFailed, Payload: RuleFailedEvent{RuleID: ruleID, Err: err}})
	}
	e.dispatcher = dispatch.NewDispatcher(
		e.fleet,
		e.registry,
		e.tracker,
		e.processor,
		c.MsgClient,
		&dispatchEmitter{bus: e.Events},
		e.topics,
		c.AppConfig.Nodes.RequestTimeout,
	)
	return e
}

// Start wires event handlers, seeds variable state, connects to the broker
// and announces the orchestrator. A failed initial connect is returned.
func (e *Engine) Start() error {
	e.wireEventHandlers()
	e.store.SetEmitter(&storeEmitter{bus: e.Events})

	e.wg.Add(1)
	go e.runReactions()

	e.seedVariables()
	e.restoreHistory()

	e.msgClient.SetWill(e.topics.Get(e.cfg.Orchestrator.ID, messaging.TopicOrchestratorOnline),
		e.dispatcher.OnlineMessage(false), true)
	if err := e.msgClient.Connect(); err != nil {
		return fmt.Errorf("engine: connect: %w", err)
	}

	filters := []string{
		e.topics.Subscription(messaging.TopicReport),
		e.topics.Subscription(messaging.TopicNodeOnline),
	}
	if err := e.msgClient.Subscribe(filters, e.dispatcher.HandleMessage); err != nil {
		return fmt.Errorf("engine: subscribe: %w", err)
	}
	if err := e.dispatcher.Announce(); err != nil {
		e.logFn("engine: %v", err)
	}

	e.checkConnectionStatus()
	go e.connectionHealthLoop()

	e.logFn("engine: started as %s (%d variables, %d rules)", e.cfg.Orchestrator.ID,
		len(e.fleet.Variables()), len(e.fleet.Rules()))
	return nil
}

// Stop shuts down in dependency order: inbound messages are drained first so
// the reactions they cause are queued, then reactions are drained, then the
// offline announcement goes out before the broker connection and exporter
// are closed.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.msgClient.Drain()

		e.queueMu.Lock()
		e.queueClosed = true
		close(e.queue)
		e.queueMu.Unlock()
		e.wg.Wait()

		if e.msgClient.IsConnected() {
			topic := e.topics.Get(e.cfg.Orchestrator.ID, messaging.TopicOrchestratorOnline)
			if err := e.msgClient.Publish(topic, e.dispatcher.OnlineMessage(false), true); err != nil {
				e.logFn("engine: offline announcement: %v", err)
			}
		}
		e.msgClient.Close()
		if e.exporter != nil {
			if err := e.exporter.Close(); err != nil {
				e.logFn("engine: close exporter: %v", err)
			}
		}
		e.logFn("engine: stopped")
	})
}

// Accessors
func (e *Engine) AppConfig() *config.Config        { return e.cfg }
func (e *Engine) Store() *store.Store              { return e.store }
func (e *Engine) Fleet() *fleet.Service            { return e.fleet }
func (e *Engine) Registry() *presence.Registry     { return e.registry }
func (e *Engine) Tracker() *state.Tracker          { return e.tracker }
func (e *Engine) Processor() *rules.Processor      { return e.processor }
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }
func (e *Engine) Metrics() *metrics.Metrics        { return e.metrics }
func (e *Engine) Topics() messaging.Topics         { return e.topics }
func (e *Engine) MsgClient() MessageClient         { return e.msgClient }

// ProcessOutput applies an operator-issued output with the node request timeout.
func (e *Engine) ProcessOutput(res model.RuleEvaluationResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout())
	defer cancel()
	return e.dispatcher.ProcessOutput(ctx, res)
}

func (e *Engine) requestTimeout() time.Duration {
	if t := e.cfg.Nodes.RequestTimeout; t > 0 {
		return t
	}
	return 10 * time.Second
}

// seedVariables makes every stored variable's value readable as a report
// before any update arrives.
func (e *Engine) seedVariables() {
	for _, v := range e.fleet.Variables() {
		e.tracker.SetReport(v.CreateReport(), false)
	}
}

// restoreHistory reloads mirrored history for templates that keep it.
func (e *Engine) restoreHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), e.requestTimeout())
	defer cancel()
	total := 0
	for _, t := range e.fleet.ReportTemplates() {
		if !t.MaintainHistory {
			continue
		}
		n, err := e.tracker.RestoreHistory(ctx, t.ID)
		if err != nil {
			e.logFn("engine: restore history %s: %v", t.ID, err)
			continue
		}
		total += n
	}
	if total > 0 {
		e.logFn("engine: restored %d history entries", total)
	}
}

// enqueue hands a store-change reaction to the single consumer so that
// reactions run in change order, off the writer's goroutine.
func (e *Engine) enqueue(name string, fn func() error) {
	e.queueMu.RLock()
	defer e.queueMu.RUnlock()
	if e.queueClosed {
		e.logFn("engine: dropping %s after stop", name)
		return
	}
	e.queue <- reaction{name: name, run: fn}
}

func reactionLimiter(cfg config.MessagingConfig) *rate.Limiter {
	if cfg.ReactionRate <= 0 {
		return nil
	}
	burst := cfg.ReactionBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.ReactionRate), burst)
}

func (e *Engine) runReactions() {
	defer e.wg.Done()
	for r := range e.queue {
		if e.limiter != nil {
			if err := e.limiter.Wait(context.Background()); err != nil {
				e.logFn("engine: %s: throttle: %v", r.name, err)
			}
		}
		if err := r.run(); err != nil {
			e.logFn("engine: %s: %v", r.name, err)
		}
	}
}

func (e *Engine) checkConnectionStatus() {
	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else {
		if e.msgConnected {
			e.msgConnected = false
			e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
		}
	}
}

func (e *Engine) connectionHealthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkConnectionStatus()
		}
	}
}
