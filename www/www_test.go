package www

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/engine"
	"github.com/revolutionized-iot2/riot2-orchestrator/messaging"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

// --- Fake message client ---

type fakeClient struct {
	mu     sync.Mutex
	topics []string
}

func (c *fakeClient) SetWill(string, []byte, bool)                {}
func (c *fakeClient) Connect() error                              { return nil }
func (c *fakeClient) Subscribe([]string, messaging.Handler) error { return nil }
func (c *fakeClient) IsConnected() bool                           { return true }
func (c *fakeClient) Drain()                                      {}
func (c *fakeClient) Close()                                      {}
func (c *fakeClient) Publish(topic string, _ []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return nil
}

func (c *fakeClient) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

// --- Harness ---

type harness struct {
	eng     *engine.Engine
	client  *fakeClient
	handler http.Handler
	cookies []*http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Orchestrator.ID = "orch"
	cfg.Nodes.RequestTimeout = time.Second
	fc := &fakeClient{}
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		Store:     store.New(store.NewFileBackend(t.TempDir()), nil),
		MsgClient: fc,
		LogFunc:   t.Logf,
	})
	node := &model.NodeDeviceConfiguration{
		ID:   "n1",
		Name: "greenhouse",
		DeviceConfigurations: []model.DeviceConfiguration{{
			ID:               "d1",
			Name:             "relay",
			ReportTemplates:  []model.ReportTemplate{{ID: "r1", Model: 0.0}},
			CommandTemplates: []model.CommandTemplate{{ID: "c1", Model: false}},
		}},
	}
	if _, err := eng.Fleet().SaveNodeConfiguration(node); err != nil {
		t.Fatal(err)
	}
	return &harness{eng: eng, client: fc, handler: NewRouter(eng)}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range h.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) login(t *testing.T, password string) int {
	t.Helper()
	form := url.Values{"username": {"admin"}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		h.cookies = rec.Result().Cookies()
	}
	return rec.Code
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// --- Tests ---

func TestHealthIsPublic(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestMutationsRequireLogin(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/command/execute", `{"id":"c1","value":true}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if len(h.client.published()) != 0 {
		t.Error("unauthenticated request published")
	}
	if code := h.login(t, "wrong"); code != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", code)
	}
}

func TestExecuteCommand(t *testing.T) {
	h := newHarness(t)
	if code := h.login(t, "admin"); code != http.StatusOK {
		t.Fatalf("login status = %d", code)
	}

	rec := h.do(http.MethodPost, "/api/command/execute", `{"id":"c1","value":true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d (%s), want 204", rec.Code, rec.Body.String())
	}
	if got := h.client.published(); len(got) != 1 || got[0] != "riot2/n1/command" {
		t.Errorf("published = %v, want [riot2/n1/command]", got)
	}
	if c, ok := h.eng.Tracker().Command("c1"); !ok || c.Value != true {
		t.Errorf("tracked command = %+v, %v", c, ok)
	}

	if rec := h.do(http.MethodPost, "/api/command/execute", `{"id":"nope","value":1}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown command status = %d, want 404", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/command/execute", `{"value":1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/command/execute", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
	if len(h.client.published()) != 1 {
		t.Errorf("failed requests published")
	}
}

func TestVariableOutputDoesNotPublish(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin")
	if _, err := h.eng.Fleet().SaveVariable(&model.Variable{ID: "v1", Value: 1.0}); err != nil {
		t.Fatal(err)
	}
	rec := h.do(http.MethodPost, "/api/command/1", `{"id":"v1","value":5}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d (%s), want 204", rec.Code, rec.Body.String())
	}
	if v, _ := h.eng.Fleet().Variable("v1"); v.Value != 5.0 {
		t.Errorf("variable = %v, want 5", v.Value)
	}
	if len(h.client.published()) != 0 {
		t.Errorf("published = %v, want none", h.client.published())
	}
	if rec := h.do(http.MethodPost, "/api/command/7", `{"id":"v1","value":5}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad operation status = %d, want 400", rec.Code)
	}
}

func TestReportValueFallsBackToTemplate(t *testing.T) {
	h := newHarness(t)
	rep := decode[model.Report](t, h.do(http.MethodGet, "/api/report/r1/value", ""))
	if rep.ID != "r1" || rep.Value != 0.0 {
		t.Errorf("default report = %+v", rep)
	}

	h.eng.Tracker().SetReport(model.Report{ID: "r1", Value: 21.5}, false)
	rep = decode[model.Report](t, h.do(http.MethodGet, "/api/report/r1/value", ""))
	if rep.Value != 21.5 {
		t.Errorf("live report = %v, want 21.5", rep.Value)
	}

	if rec := h.do(http.MethodGet, "/api/report/missing/value", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestReportHistoryFallsBackToCurrentValue(t *testing.T) {
	h := newHarness(t)
	h.eng.Tracker().SetReport(model.Report{ID: "r1", Value: 1.0}, false)
	entries := decode[[]map[string]any](t, h.do(http.MethodGet, "/api/report/r1/history", ""))
	if len(entries) != 1 || entries[0]["value"] != 1.0 {
		t.Errorf("history = %v, want current value only", entries)
	}
	entries = decode[[]map[string]any](t, h.do(http.MethodGet, "/api/report/r1/history?count=0", ""))
	if len(entries) != 0 {
		t.Errorf("count=0 history = %v, want empty", entries)
	}
}

func TestCommandTemplatesCarryOrigin(t *testing.T) {
	h := newHarness(t)
	views := decode[[]map[string]any](t, h.do(http.MethodGet, "/api/command/templates", ""))
	if len(views) != 1 {
		t.Fatalf("templates = %d, want 1", len(views))
	}
	v := views[0]
	if v["id"] != "c1" || v["nodeId"] != "n1" || v["node"] != "greenhouse" || v["device"] != "relay" {
		t.Errorf("view = %v", v)
	}
}

func TestNodeConfigurationWithState(t *testing.T) {
	h := newHarness(t)
	h.eng.Tracker().SetCommand(model.Command{ID: "c1", Value: true}, false)

	cfg := decode[model.NodeDeviceConfiguration](t, h.do(http.MethodGet, "/api/nodes/n1/configuration?state=true", ""))
	if got := cfg.DeviceConfigurations[0].CommandTemplates[0].Model; got != true {
		t.Errorf("command model = %v, want true", got)
	}
	if rec := h.do(http.MethodGet, "/api/nodes/n9/configuration", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing node status = %d, want 404", rec.Code)
	}
}

func TestSaveNodeConfigurationRejectsTakenID(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin")
	body := `{"id":"n2","deviceConfigurations":[{"id":"d2","reportTemplates":[{"id":"r1"}]}]}`
	if rec := h.do(http.MethodPost, "/api/nodes/configuration", body); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if rec := h.do(http.MethodPost, "/api/nodes/configuration", `{"name":"no id"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id status = %d, want 400", rec.Code)
	}
}

func TestRuleLifecycle(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin")

	rec := h.do(http.MethodPost, "/api/rules", `{"name":"","ruleItems":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule status = %d, want 400", rec.Code)
	}
	if p := decode[map[string]any](t, rec)["problems"].([]any); len(p) == 0 {
		t.Error("no problems reported")
	}

	body := `{"id":"rule1","name":"copy","isActive":true,"tags":["lab","b"],"ruleItems":[` +
		`{"ruleType":0,"reportId":"r1"},{"ruleType":3,"commandId":"c1","operation":0}]}`
	rec = h.do(http.MethodPost, "/api/rules", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d (%s)", rec.Code, rec.Body.String())
	}

	tags := decode[[]string](t, h.do(http.MethodGet, "/api/rules/tags", ""))
	if strings.Join(tags, ",") != "b,lab" {
		t.Errorf("tags = %v, want [b lab]", tags)
	}

	results := decode[[]model.RuleEvaluationResult](t, h.do(http.MethodPost, "/api/rules/simulate", `{"id":"rule1","data":7}`))
	if len(results) != 1 || results[0].CommandID != "c1" || results[0].Value != 7.0 {
		t.Errorf("simulation = %+v, want one c1=7", results)
	}
	if len(h.client.published()) != 0 {
		t.Error("simulation published")
	}

	if rec := h.do(http.MethodPut, "/api/rules/rule1/state/false", ""); rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	if r, _ := h.eng.Fleet().Rule("rule1"); r.IsActive {
		t.Error("rule still active")
	}

	if rec := h.do(http.MethodDelete, "/api/rules/rule1", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", rec.Code)
	}
	if rec := h.do(http.MethodDelete, "/api/rules/rule1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestRunFunction(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin")
	rec := h.do(http.MethodPost, "/api/rules/function/run", `{"functionId":"multiply","parameters":{"factor":2},"data":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if v := decode[map[string]any](t, rec)["value"]; v != 8.0 {
		t.Errorf("value = %v, want 8", v)
	}
	if rec := h.do(http.MethodPost, "/api/rules/function/run", `{"functionId":"nope"}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown function status = %d, want 404", rec.Code)
	}
}

func TestDashboardRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin")
	body := `{"pages":[{"id":"p1","components":[{"id":"k1","elements":[{"id":"e1","reportTemplate":{"id":"r1","name":"stale"}}]}]}]}`
	if rec := h.do(http.MethodPost, "/api/dashboard", body); rec.Code != http.StatusOK {
		t.Fatalf("save status = %d (%s)", rec.Code, rec.Body.String())
	}
	d := decode[model.DashboardConfiguration](t, h.do(http.MethodGet, "/api/dashboard", ""))
	el := d.Pages[0].Components[0].Elements[0]
	if el.ReportTemplate == nil || el.ReportTemplate.ID != "r1" || el.ReportTemplate.Name == "stale" {
		t.Errorf("element template = %+v, want resolved r1", el.ReportTemplate)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "riot2_online_nodes") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}
