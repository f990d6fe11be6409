package presence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

func testRegistry() *Registry {
	return NewRegistry(NewClient(config.NodesConfig{
		RequestTimeout:      2 * time.Second,
		ConfigTemplatePath:  "api/template",
		DeviceStatePath:     "api/state",
		WorkflowTriggerPath: "api/trigger",
	}), 4)
}

func online(id, baseURL string, nodeType model.NodeType) model.OnlineNode {
	return model.OnlineNode{ID: id, Settings: model.NodeOnlineMessage{IsOnline: true, NodeBaseURL: baseURL, NodeType: nodeType}}
}

func TestAddUpsertsSettingsOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]model.DeviceConfiguration{{ID: "d1"}})
	}))
	defer srv.Close()

	reg := testRegistry()
	reg.Add(online("n1", srv.URL, model.NodeTypeDevice))
	if _, ok := reg.LoadDeviceConfigurationTemplate(context.Background(), "n1"); !ok {
		t.Fatal("template fetch should succeed")
	}

	updated := online("n1", "http://other", model.NodeTypeDevice)
	updated.Settings.Name = "renamed"
	reg.Add(updated)

	nodes := reg.OnlineNodes()
	if len(nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(nodes))
	}
	if nodes[0].Settings.Name != "renamed" || nodes[0].Settings.NodeBaseURL != "http://other" {
		t.Errorf("settings = %+v", nodes[0].Settings)
	}
	tpl, ok := reg.CachedTemplates("n1")
	if !ok || len(tpl) != 1 || tpl[0].ID != "d1" {
		t.Errorf("cached templates = %v, %v; want [d1]", tpl, ok)
	}
}

func TestRemove(t *testing.T) {
	reg := testRegistry()
	reg.Add(online("n1", "http://a", model.NodeTypeDevice))
	reg.Add(online("n2", "http://b", model.NodeTypeDevice))
	reg.Remove("n1")
	reg.Remove("missing")
	nodes := reg.OnlineNodes()
	if len(nodes) != 1 || nodes[0].ID != "n2" {
		t.Errorf("nodes = %v, want [n2]", nodes)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	reg := testRegistry()
	reg.Add(online("n1", "http://a", model.NodeTypeDevice))
	snap := reg.OnlineNodes()
	reg.Remove("n1")
	if len(snap) != 1 {
		t.Errorf("snapshot changed after Remove: %v", snap)
	}
}

func TestLoadTemplatesZeroNodes(t *testing.T) {
	reg := testRegistry()
	got := reg.LoadDeviceConfigurationTemplates(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("templates = %v, want empty map", got)
	}
}

func TestLoadTemplatesPartialFailure(t *testing.T) {
	var calls atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/template" {
			t.Errorf("path = %q, want /api/template", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]model.DeviceConfiguration{{ID: "d1", Name: "pump"}})
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer bad.Close()

	reg := testRegistry()
	reg.Add(online("good", good.URL, model.NodeTypeDevice))
	reg.Add(online("bad", bad.URL, model.NodeTypeDevice))
	reg.Add(online("down", "http://127.0.0.1:1", model.NodeTypeDevice))

	got := reg.LoadDeviceConfigurationTemplates(context.Background())
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if tpl := got["good"]; len(tpl) != 1 || tpl[0].Name != "pump" {
		t.Errorf("good = %v", tpl)
	}
	if got["bad"] != nil {
		t.Errorf("bad = %v, want nil", got["bad"])
	}
	if got["down"] != nil {
		t.Errorf("down = %v, want nil", got["down"])
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestLoadTemplateUnknownNode(t *testing.T) {
	reg := testRegistry()
	if tpl, ok := reg.LoadDeviceConfigurationTemplate(context.Background(), "nope"); ok || tpl != nil {
		t.Errorf("got %v, %v; want nil, false", tpl, ok)
	}
}

func TestLoadDeviceStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/state" {
			t.Errorf("path = %q, want /api/state", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]model.DeviceStatus{{ID: "d1", State: "running"}})
	}))
	defer srv.Close()

	reg := testRegistry()
	reg.Add(online("n1", srv.URL+"/", model.NodeTypeDevice))
	st, ok := reg.LoadDeviceStatusFromNode(context.Background(), "n1")
	if !ok || len(st) != 1 || st[0].State != "running" {
		t.Errorf("status = %v, %v", st, ok)
	}
}

func TestLoadDeviceStatusNonSuccessStatus(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusNotModified)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()

	reg := testRegistry()
	reg.Add(online("n1", srv.URL+"/", model.NodeTypeDevice))
	if st, ok := reg.LoadDeviceStatusFromNode(context.Background(), "n1"); ok {
		t.Errorf("304: status = %v, ok = true; want a failed fetch", st)
	}

	code.Store(http.StatusNoContent)
	st, ok := reg.LoadDeviceStatusFromNode(context.Background(), "n1")
	if !ok || len(st) != 0 {
		t.Errorf("204: status = %v, %v; want empty, true", st, ok)
	}
}

func TestTriggerWorkflow(t *testing.T) {
	var got model.Report
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/api/trigger/r1" {
			t.Errorf("path = %q, want /api/trigger/r1", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := testRegistry()
	err := reg.TriggerWorkflow(context.Background(), model.Report{ID: "r1", Value: 3.0})
	if !errors.Is(err, ErrNoWorkflowNode) {
		t.Fatalf("err = %v, want ErrNoWorkflowNode", err)
	}

	reg.Add(online("dev", "http://unused", model.NodeTypeDevice))
	reg.Add(online("wf", srv.URL, model.NodeTypeWorkflow))
	if err := reg.TriggerWorkflow(context.Background(), model.Report{ID: "r1", Value: 3.0}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got.ID != "r1" || got.Value != 3.0 {
		t.Errorf("forwarded report = %+v", got)
	}
}
