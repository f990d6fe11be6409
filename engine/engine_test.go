package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/messaging"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

// --- Fake message client ---

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeClient struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	closed     bool
	will       published
	filters    []string
	handler    messaging.Handler
	msgs       []published
	inbound    []published // delivered to the handler by Drain
	drained    bool
}

func (c *fakeClient) SetWill(topic string, payload []byte, retained bool) {
	c.will = published{topic, payload, retained}
}

func (c *fakeClient) Connect() error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Subscribe(filters []string, handler messaging.Handler) error {
	c.filters = filters
	c.handler = handler
	return nil
}

func (c *fakeClient) Publish(topic string, payload []byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, payload, retained})
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Drain() {
	for _, m := range c.inbound {
		c.handler(m.topic, m.payload)
	}
	c.inbound = nil
	c.mu.Lock()
	c.drained = true
	c.mu.Unlock()
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.closed = true
}

func (c *fakeClient) sentTo(topic string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, m := range c.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// --- Helpers ---

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Orchestrator.ID = "orch"
	cfg.Orchestrator.URL = "http://orch:5215"
	cfg.Nodes.RequestTimeout = time.Second
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient) {
	t.Helper()
	fc := &fakeClient{}
	s := store.New(store.NewFileBackend(t.TempDir()), nil)
	e := New(Config{
		AppConfig: testConfig(),
		Store:     s,
		MsgClient: fc,
		LogFunc:   t.Logf,
	})
	return e, fc
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// --- Tests ---

func TestStartAnnouncesWithWill(t *testing.T) {
	e, fc := newTestEngine(t)
	startEngine(t, e)
	defer e.Stop()

	if fc.will.topic != "riot2/orchestrator/online" || !fc.will.retained {
		t.Errorf("will = %q retained=%v, want riot2/orchestrator/online retained", fc.will.topic, fc.will.retained)
	}
	var will model.NodeOnlineMessage
	if err := json.Unmarshal(fc.will.payload, &will); err != nil {
		t.Fatal(err)
	}
	if will.IsOnline {
		t.Error("will announces online, want offline")
	}

	ann := fc.sentTo("riot2/orchestrator/online")
	if len(ann) != 1 || !ann[0].retained {
		t.Fatalf("announcements = %+v, want one retained", ann)
	}
	var msg model.NodeOnlineMessage
	if err := json.Unmarshal(ann[0].payload, &msg); err != nil {
		t.Fatal(err)
	}
	if !msg.IsOnline || msg.NodeBaseURL != "http://orch:5215" {
		t.Errorf("announcement = %+v", msg)
	}

	want := []string{"riot2/+/report", "riot2/+/online"}
	if strings.Join(fc.filters, ",") != strings.Join(want, ",") {
		t.Errorf("filters = %v, want %v", fc.filters, want)
	}
}

func TestStartFailsWhenBrokerUnreachable(t *testing.T) {
	e, fc := newTestEngine(t)
	fc.connectErr = errors.New("connection refused")
	if err := e.Start(); err == nil {
		t.Fatal("Start succeeded with unreachable broker")
	}
	e.Stop()
}

func TestStartSeedsVariables(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.Fleet().SaveVariable(&model.Variable{ID: "v1", Value: 3.5}); err != nil {
		t.Fatal(err)
	}
	startEngine(t, e)
	defer e.Stop()

	r, ok := e.Tracker().Report("v1")
	if !ok || r.Value != 3.5 {
		t.Errorf("seeded report = %+v, %v; want 3.5", r, ok)
	}
}

func TestVariableUpdatePublishesOneReport(t *testing.T) {
	e, fc := newTestEngine(t)
	startEngine(t, e)

	v := &model.Variable{ID: "v1", Value: 1.0}
	if _, err := e.Fleet().SaveVariable(v); err != nil {
		t.Fatal(err)
	}
	if r, ok := e.Tracker().Report("v1"); !ok || r.Value != 1.0 {
		t.Errorf("created variable state = %+v, %v", r, ok)
	}

	v.Value = 2.0
	if _, err := e.Fleet().SaveVariable(v); err != nil {
		t.Fatal(err)
	}
	e.Stop()

	msgs := fc.sentTo("riot2/orch/report")
	if len(msgs) != 1 {
		t.Fatalf("report publishes = %d, want 1", len(msgs))
	}
	var r model.Report
	if err := json.Unmarshal(msgs[0].payload, &r); err != nil {
		t.Fatal(err)
	}
	if r.ID != "v1" || r.Value != 2.0 {
		t.Errorf("report = %+v, want v1=2", r)
	}
}

func TestRuleOutputToVariableRepublishes(t *testing.T) {
	e, fc := newTestEngine(t)
	node := &model.NodeDeviceConfiguration{
		ID: "n1",
		DeviceConfigurations: []model.DeviceConfiguration{{
			ID:              "d1",
			ReportTemplates: []model.ReportTemplate{{ID: "r1"}},
		}},
	}
	if _, err := e.Fleet().SaveNodeConfiguration(node); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Fleet().SaveVariable(&model.Variable{ID: "v1", Value: 0.0}); err != nil {
		t.Fatal(err)
	}
	rule := &model.Rule{
		ID:       "rule1",
		Name:     "copy r1",
		IsActive: true,
		Items: []model.RuleItem{
			model.RuleTrigger{ReportID: "r1"},
			model.RuleOutput{CommandID: "v1", Operation: model.OperationVariable},
		},
	}
	if _, err := e.Fleet().SaveRule(rule); err != nil {
		t.Fatal(err)
	}
	startEngine(t, e)

	fc.handler("riot2/n1/report", []byte(`{"id":"r1","value":7}`))
	e.Stop()

	v, ok := e.Fleet().Variable("v1")
	if !ok || v.Value != 7.0 {
		t.Errorf("variable = %+v, %v; want 7", v, ok)
	}
	if got := len(fc.sentTo("riot2/orch/report")); got != 1 {
		t.Errorf("report publishes = %d, want 1", got)
	}
	if got := len(fc.sentTo("riot2/n1/command")); got != 0 {
		t.Errorf("command publishes = %d, want 0", got)
	}
}

func TestNodeConfigurationUpdatePushesWhenOnline(t *testing.T) {
	e, fc := newTestEngine(t)
	startEngine(t, e)

	node := &model.NodeDeviceConfiguration{ID: "n1", Name: "first"}
	if _, err := e.Fleet().SaveNodeConfiguration(node); err != nil {
		t.Fatal(err)
	}

	fc.handler("riot2/n1/online", []byte(`{"isOnline":true,"nodeBaseUrl":"http://n1"}`))

	node.Name = "second"
	if _, err := e.Fleet().SaveNodeConfiguration(node); err != nil {
		t.Fatal(err)
	}
	e.Stop()

	// One push on the online announcement, one on the update.
	pushes := fc.sentTo("riot2/n1/configuration")
	if len(pushes) != 2 {
		t.Fatalf("configuration pushes = %d, want 2", len(pushes))
	}
	var cmd model.ConfigurationCommand
	if err := json.Unmarshal(pushes[1].payload, &cmd); err != nil {
		t.Fatal(err)
	}
	if cmd.APIBaseURL != "http://orch:5215" {
		t.Errorf("apiBaseUrl = %q, want %q", cmd.APIBaseURL, "http://orch:5215")
	}
}

func TestNodeConfigurationUpdateOfflineNodeNoPush(t *testing.T) {
	e, fc := newTestEngine(t)
	startEngine(t, e)

	node := &model.NodeDeviceConfiguration{ID: "n1"}
	e.Fleet().SaveNodeConfiguration(node)
	node.Name = "renamed"
	e.Fleet().SaveNodeConfiguration(node)
	e.Stop()

	if got := len(fc.sentTo("riot2/n1/configuration")); got != 0 {
		t.Errorf("configuration pushes = %d, want 0", got)
	}
}

func TestStopPublishesOfflineAndCloses(t *testing.T) {
	e, fc := newTestEngine(t)
	startEngine(t, e)
	e.Stop()
	e.Stop()

	ann := fc.sentTo("riot2/orchestrator/online")
	if len(ann) != 2 {
		t.Fatalf("announcements = %d, want 2", len(ann))
	}
	var msg model.NodeOnlineMessage
	if err := json.Unmarshal(ann[1].payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.IsOnline {
		t.Error("final announcement is online, want offline")
	}
	if !fc.closed || !fc.drained {
		t.Errorf("client closed = %v, drained = %v; want both", fc.closed, fc.drained)
	}
}

func TestStopHandlesQueuedInboundBeforeReactions(t *testing.T) {
	e, fc := newTestEngine(t)
	node := &model.NodeDeviceConfiguration{
		ID: "n1",
		DeviceConfigurations: []model.DeviceConfiguration{{
			ID:              "d1",
			ReportTemplates: []model.ReportTemplate{{ID: "r1"}},
		}},
	}
	if _, err := e.Fleet().SaveNodeConfiguration(node); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Fleet().SaveVariable(&model.Variable{ID: "v1", Value: 0.0}); err != nil {
		t.Fatal(err)
	}
	rule := &model.Rule{
		ID:       "rule1",
		Name:     "copy r1",
		IsActive: true,
		Items: []model.RuleItem{
			model.RuleTrigger{ReportID: "r1"},
			model.RuleOutput{CommandID: "v1", Operation: model.OperationVariable},
		},
	}
	if _, err := e.Fleet().SaveRule(rule); err != nil {
		t.Fatal(err)
	}
	startEngine(t, e)

	// Still queued in the client when Stop begins.
	fc.inbound = []published{{topic: "riot2/n1/report", payload: []byte(`{"id":"r1","value":3}`)}}
	e.Stop()

	reports := fc.sentTo("riot2/orch/report")
	if len(reports) != 1 {
		t.Fatalf("report publishes = %d, want 1", len(reports))
	}
	var r model.Report
	if err := json.Unmarshal(reports[0].payload, &r); err != nil {
		t.Fatal(err)
	}
	if r.ID != "v1" || r.Value != 3.0 {
		t.Errorf("report = %+v, want v1=3", r)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	last := fc.msgs[len(fc.msgs)-1]
	if last.topic != "riot2/orchestrator/online" {
		t.Errorf("last publish on %s, want the offline announcement", last.topic)
	}
}

func TestEventBusFilterAndPanicIsolation(t *testing.T) {
	bus := NewEventBus()
	var got []EventType
	bus.SubscribeTypes(func(Event) { panic("boom") }, EventNodeOnline)
	bus.SubscribeTypes(func(evt Event) { got = append(got, evt.Type) }, EventNodeOnline)
	id := bus.Subscribe(func(evt Event) { got = append(got, evt.Type) })

	bus.Emit(Event{Type: EventNodeOnline})
	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventNodeOffline})

	if len(got) != 2 || got[0] != EventNodeOnline || got[1] != EventNodeOnline {
		t.Errorf("delivered = %v, want [online online]", got)
	}
}

func TestReactionLimiter(t *testing.T) {
	if l := reactionLimiter(config.MessagingConfig{}); l != nil {
		t.Errorf("limiter = %v, want nil when rate is zero", l)
	}
	l := reactionLimiter(config.MessagingConfig{ReactionRate: 50})
	if l == nil {
		t.Fatal("limiter = nil, want one")
	}
	if l.Burst() != 1 {
		t.Errorf("burst = %d, want 1", l.Burst())
	}
}

func TestThrottledReactionsDrainOnStop(t *testing.T) {
	fc := &fakeClient{}
	cfg := testConfig()
	cfg.Messaging.ReactionRate = 100
	cfg.Messaging.ReactionBurst = 1
	e := New(Config{
		AppConfig: cfg,
		Store:     store.New(store.NewFileBackend(t.TempDir()), nil),
		MsgClient: fc,
		LogFunc:   t.Logf,
	})
	startEngine(t, e)

	v := &model.Variable{ID: "v1", Value: 0.0}
	if _, err := e.Fleet().SaveVariable(v); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		v.Value = float64(i)
		if _, err := e.Fleet().SaveVariable(v); err != nil {
			t.Fatal(err)
		}
	}
	e.Stop()

	if n := len(fc.sentTo("riot2/orch/report")); n != 5 {
		t.Errorf("report publishes = %d, want 5", n)
	}
}
