package state

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

// Entry is one history point for a report or command id.
type Entry struct {
	Value     any       `json:"value"`
	Filter    string    `json:"filter,omitempty"`
	TimeStamp time.Time `json:"timeStamp"`
}

// Mirror receives a copy of every state write. Errors are logged, never
// returned to the writer.
type Mirror interface {
	SetReport(ctx context.Context, r model.Report, history bool, maxEntries int) error
	SetCommand(ctx context.Context, c model.Command, history bool, maxEntries int) error
	ResetHistory(ctx context.Context) error
}

// Tracker holds the latest value per report and command id plus optional
// per-id history. Reports and commands share one id namespace.
type Tracker struct {
	mu       sync.RWMutex
	reports  map[string]model.Report
	commands map[string]model.Command
	history  map[string][]Entry // oldest first

	maxEntries int
	maxAge     time.Duration
	mirror     Mirror
	now        func() time.Time
}

func New(cfg config.HistoryConfig) *Tracker {
	return &Tracker{
		reports:    make(map[string]model.Report),
		commands:   make(map[string]model.Command),
		history:    make(map[string][]Entry),
		maxEntries: cfg.MaxEntries,
		maxAge:     cfg.MaxAge,
		now:        time.Now,
	}
}

// SetMirror attaches a write-through mirror. Call before use.
func (t *Tracker) SetMirror(m Mirror) { t.mirror = m }

// SetReport replaces the current value for r.ID and, when maintainHistory is
// set, appends it to the id's history.
func (t *Tracker) SetReport(r model.Report, maintainHistory bool) {
	if r.TimeStamp.IsZero() {
		r.TimeStamp = t.now().UTC()
	}
	t.mu.Lock()
	t.reports[r.ID] = r
	if maintainHistory {
		t.appendLocked(r.ID, Entry{Value: r.Value, Filter: r.Filter, TimeStamp: r.TimeStamp})
	}
	t.mu.Unlock()

	if t.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := t.mirror.SetReport(ctx, r, maintainHistory, t.maxEntries); err != nil {
			log.Printf("state: mirror report %s: %v", r.ID, err)
		}
	}
}

// SetCommand replaces the last known value for c.ID.
func (t *Tracker) SetCommand(c model.Command, maintainHistory bool) {
	t.mu.Lock()
	t.commands[c.ID] = c
	if maintainHistory {
		t.appendLocked(c.ID, Entry{Value: c.Value, TimeStamp: t.now().UTC()})
	}
	t.mu.Unlock()

	if t.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := t.mirror.SetCommand(ctx, c, maintainHistory, t.maxEntries); err != nil {
			log.Printf("state: mirror command %s: %v", c.ID, err)
		}
	}
}

func (t *Tracker) appendLocked(id string, e Entry) {
	h := append(t.history[id], e)
	if t.maxEntries > 0 && len(h) > t.maxEntries {
		h = append([]Entry(nil), h[len(h)-t.maxEntries:]...)
	}
	t.history[id] = t.pruneAge(h)
}

func (t *Tracker) pruneAge(h []Entry) []Entry {
	if t.maxAge <= 0 {
		return h
	}
	cutoff := t.now().Add(-t.maxAge)
	i := 0
	for i < len(h) && h[i].TimeStamp.Before(cutoff) {
		i++
	}
	return h[i:]
}

// Report returns the current value for a report id.
func (t *Tracker) Report(id string) (model.Report, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.reports[id]
	return r, ok
}

// Command returns the last known value for a command id.
func (t *Tracker) Command(id string) (model.Command, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.commands[id]
	return c, ok
}

// Reports returns a snapshot of current report values.
func (t *Tracker) Reports() []model.Report {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Report, 0, len(t.reports))
	for _, r := range t.reports {
		out = append(out, r)
	}
	return out
}

// Commands returns a snapshot of last known command values.
func (t *Tracker) Commands() []model.Command {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Command, 0, len(t.commands))
	for _, c := range t.commands {
		out = append(out, c)
	}
	return out
}

// GetHistory returns up to count entries for id, newest first. A count of
// zero or less returns everything retained. The result is never nil.
func (t *Tracker) GetHistory(id string, count int) []Entry {
	t.mu.RLock()
	h := t.pruneAge(t.history[id])
	t.mu.RUnlock()

	n := len(h)
	if count > 0 && count < n {
		n = count
	}
	out := make([]Entry, 0, n)
	for i := len(h) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h[i])
	}
	return out
}

// HistorySource is a mirror that can read history back.
type HistorySource interface {
	History(ctx context.Context, id string, count int) ([]Entry, error)
}

// RestoreHistory seeds id's history from the mirror when the mirror can be
// read back and nothing is held locally yet. It returns the number of
// entries restored.
func (t *Tracker) RestoreHistory(ctx context.Context, id string) (int, error) {
	src, ok := t.mirror.(HistorySource)
	if !ok {
		return 0, nil
	}
	entries, err := src.History(ctx, id, t.maxEntries)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history[id]) > 0 {
		return 0, nil
	}
	h := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		h = append(h, entries[i])
	}
	h = t.pruneAge(h)
	if len(h) > 0 {
		t.history[id] = h
	}
	return len(h), nil
}

// Reset clears all history. Current values are kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.history = make(map[string][]Entry)
	t.mu.Unlock()

	if t.mirror != nil {
		if err := t.mirror.ResetHistory(context.Background()); err != nil {
			log.Printf("state: mirror reset: %v", err)
		}
	}
}
