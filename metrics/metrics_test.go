package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersGather(t *testing.T) {
	m := New()
	m.Reports.WithLabelValues("accepted").Inc()
	m.Reports.WithLabelValues("dropped").Add(2)
	m.CommandsSent.Inc()

	if got := testutil.ToFloat64(m.Reports.WithLabelValues("dropped")); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CommandsSent); got != 1 {
		t.Errorf("commands = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.Reports, "riot2_reports_total"); n != 2 {
		t.Errorf("report series = %d, want 2", n)
	}
}

func TestStoreChangesByKindAndOperation(t *testing.T) {
	m := New()
	m.StoreChanges.WithLabelValues("Variable", "updated").Inc()
	m.StoreChanges.WithLabelValues("Variable", "updated").Inc()
	m.StoreChanges.WithLabelValues("Rule", "created").Inc()

	if got := testutil.ToFloat64(m.StoreChanges.WithLabelValues("Variable", "updated")); got != 2 {
		t.Errorf("variable updates = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.StoreChanges); n != 2 {
		t.Errorf("series = %d, want 2", n)
	}
}

func TestHandlerExposes(t *testing.T) {
	m := New()
	m.OnlineNodes.Set(2)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "riot2_online_nodes 2") {
		t.Errorf("exposition missing gauge:\n%s", rec.Body.String())
	}
}
