package state

import (
	"context"
	"testing"
	"time"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

func TestCurrentValueWithoutHistory(t *testing.T) {
	tr := New(config.HistoryConfig{})
	tr.SetReport(model.Report{ID: "r1", Value: 1.0}, false)
	tr.SetReport(model.Report{ID: "r1", Value: 2.0}, false)

	r, ok := tr.Report("r1")
	if !ok {
		t.Fatal("report should be tracked")
	}
	if r.Value != 2.0 {
		t.Errorf("Value = %v, want 2", r.Value)
	}
	if len(tr.Reports()) != 1 {
		t.Errorf("Reports = %d, want 1", len(tr.Reports()))
	}
	h := tr.GetHistory("r1", 0)
	if h == nil || len(h) != 0 {
		t.Errorf("history = %v, want empty non-nil", h)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	tr := New(config.HistoryConfig{})
	base := time.Now()
	for i := 0; i < 5; i++ {
		tr.SetReport(model.Report{ID: "r1", Value: float64(i), TimeStamp: base.Add(time.Duration(i) * time.Second)}, true)
	}
	h := tr.GetHistory("r1", 3)
	if len(h) != 3 {
		t.Fatalf("history = %d, want 3", len(h))
	}
	if h[0].Value != 4.0 || h[2].Value != 2.0 {
		t.Errorf("history values = %v, %v; want 4, 2", h[0].Value, h[2].Value)
	}
	if all := tr.GetHistory("r1", 0); len(all) != 5 {
		t.Errorf("full history = %d, want 5", len(all))
	}
}

func TestHistoryMaxEntries(t *testing.T) {
	tr := New(config.HistoryConfig{MaxEntries: 2})
	for i := 0; i < 4; i++ {
		tr.SetReport(model.Report{ID: "r1", Value: float64(i)}, true)
	}
	h := tr.GetHistory("r1", 0)
	if len(h) != 2 {
		t.Fatalf("history = %d, want 2", len(h))
	}
	if h[0].Value != 3.0 || h[1].Value != 2.0 {
		t.Errorf("history = %v", h)
	}
}

func TestHistoryMaxAge(t *testing.T) {
	tr := New(config.HistoryConfig{MaxAge: time.Minute})
	now := time.Now()
	tr.now = func() time.Time { return now }
	tr.SetReport(model.Report{ID: "r1", Value: "old", TimeStamp: now.Add(-2 * time.Minute)}, true)
	tr.SetReport(model.Report{ID: "r1", Value: "new", TimeStamp: now}, true)
	h := tr.GetHistory("r1", 0)
	if len(h) != 1 || h[0].Value != "new" {
		t.Errorf("history = %v, want only new", h)
	}
}

func TestCommandsAndReset(t *testing.T) {
	tr := New(config.HistoryConfig{})
	tr.SetCommand(model.Command{ID: "c1", Value: 42}, true)
	c, ok := tr.Command("c1")
	if !ok || c.Value != 42 {
		t.Errorf("command = %+v, %v", c, ok)
	}
	if len(tr.GetHistory("c1", 0)) != 1 {
		t.Error("command history should have one entry")
	}
	tr.Reset()
	if len(tr.GetHistory("c1", 0)) != 0 {
		t.Error("history should be cleared")
	}
	if _, ok := tr.Command("c1"); !ok {
		t.Error("current value should survive reset")
	}
	if len(tr.Commands()) != 1 {
		t.Errorf("Commands = %d, want 1", len(tr.Commands()))
	}
}

type countingMirror struct {
	reports, commands, resets int
}

func (m *countingMirror) SetReport(context.Context, model.Report, bool, int) error {
	m.reports++
	return nil
}
func (m *countingMirror) SetCommand(context.Context, model.Command, bool, int) error {
	m.commands++
	return nil
}
func (m *countingMirror) ResetHistory(context.Context) error {
	m.resets++
	return nil
}

func TestMirrorReceivesWrites(t *testing.T) {
	tr := New(config.HistoryConfig{})
	m := &countingMirror{}
	tr.SetMirror(m)
	tr.SetReport(model.Report{ID: "r"}, false)
	tr.SetCommand(model.Command{ID: "c"}, false)
	tr.Reset()
	if m.reports != 1 || m.commands != 1 || m.resets != 1 {
		t.Errorf("mirror = %+v", m)
	}
}

type readableMirror struct {
	countingMirror
	entries []Entry // newest first
}

func (m *readableMirror) History(_ context.Context, _ string, count int) ([]Entry, error) {
	if count > 0 && count < len(m.entries) {
		return m.entries[:count], nil
	}
	return m.entries, nil
}

func TestRestoreHistoryFromMirror(t *testing.T) {
	now := time.Now().UTC()
	m := &readableMirror{entries: []Entry{
		{Value: 3.0, TimeStamp: now},
		{Value: 2.0, TimeStamp: now.Add(-time.Second)},
		{Value: 1.0, TimeStamp: now.Add(-2 * time.Second)},
	}}
	tr := New(config.HistoryConfig{MaxEntries: 2})
	tr.SetMirror(m)

	n, err := tr.RestoreHistory(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("restored = %d, want 2", n)
	}
	h := tr.GetHistory("r1", 0)
	if len(h) != 2 || h[0].Value != 3.0 || h[1].Value != 2.0 {
		t.Errorf("history = %v, want [3 2]", h)
	}

	tr.SetReport(model.Report{ID: "r1", Value: 4.0}, true)
	if n, _ := tr.RestoreHistory(context.Background(), "r1"); n != 0 {
		t.Errorf("second restore = %d, want 0", n)
	}
}

func TestRestoreHistoryWithoutReadableMirror(t *testing.T) {
	tr := New(config.HistoryConfig{})
	if n, err := tr.RestoreHistory(context.Background(), "r1"); n != 0 || err != nil {
		t.Errorf("restore = %d, %v; want 0, nil", n, err)
	}
	tr.SetMirror(&countingMirror{})
	if n, err := tr.RestoreHistory(context.Background(), "r1"); n != 0 || err != nil {
		t.Errorf("restore = %d, %v; want 0, nil", n, err)
	}
}
