package www

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/rules"
)

type ruleSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	IsActive    bool     `json:"isActive"`
	Tags        []string `json:"tags"`
}

// problems splits a joined validation error into its messages.
func problems(err error) []string {
	if err == nil {
		return []string{}
	}
	return strings.Split(err.Error(), "\n")
}

func (h *Handlers) apiListRules(w http.ResponseWriter, r *http.Request) {
	out := []ruleSummary{}
	for _, rule := range h.engine.Fleet().Rules() {
		tags := rule.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, ruleSummary{ID: rule.ID, Name: rule.Name, Description: rule.Description, IsActive: rule.IsActive, Tags: tags})
	}
	h.jsonOK(w, out)
}

func (h *Handlers) apiRuleTags(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	tags := []string{}
	for _, rule := range h.engine.Fleet().Rules() {
		for _, t := range rule.Tags {
			if !seen[t] {
				seen[t] = true
				tags = append(tags, t)
			}
		}
	}
	sort.Strings(tags)
	h.jsonOK(w, tags)
}

func (h *Handlers) apiGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := h.engine.Fleet().Rule(id)
	if !ok {
		h.jsonError(w, "rule "+id+" not found", http.StatusNotFound)
		return
	}
	h.jsonOK(w, rule)
}

func (h *Handlers) apiValidateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := h.engine.Fleet().Rule(id)
	if !ok {
		h.jsonError(w, "rule "+id+" not found", http.StatusNotFound)
		return
	}
	h.jsonOK(w, map[string]any{"valid": rule.Validate() == nil, "problems": problems(rule.Validate())})
}

// apiSaveRule stores a rule after structural validation.
func (h *Handlers) apiSaveRule(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if !h.decodeBody(w, r, &rule) {
		return
	}
	if err := rule.Validate(); err != nil {
		h.jsonStatus(w, http.StatusBadRequest, map[string]any{"error": "invalid rule", "problems": problems(err)})
		return
	}
	id, err := h.engine.Fleet().SaveRule(&rule)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"id": id})
}

func (h *Handlers) apiDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.engine.Fleet().Rule(id); !ok {
		h.jsonError(w, "rule "+id+" not found", http.StatusNotFound)
		return
	}
	if err := h.engine.Fleet().DeleteRule(id); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiSetRuleState activates or deactivates a rule.
func (h *Handlers) apiSetRuleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := h.engine.Fleet().Rule(id)
	if !ok {
		h.jsonError(w, "rule "+id+" not found", http.StatusNotFound)
		return
	}
	rule.IsActive = strings.EqualFold(chi.URLParam(r, "state"), "true")
	if _, err := h.engine.Fleet().SaveRule(rule); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]any{"id": id, "isActive": rule.IsActive})
}

type simulationRequest struct {
	ID   string `json:"id"`
	Data any    `json:"data"`
}

// apiSimulateRule runs a stored rule against sample data without sending
// its outputs.
func (h *Handlers) apiSimulateRule(w http.ResponseWriter, r *http.Request) {
	var req simulationRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	results, err := h.engine.Processor().RunRuleSimulation(r.Context(), h.engine.Fleet(), req.ID, req.Data)
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.jsonOK(w, results)
	}
}

type functionRunRequest struct {
	FunctionID string         `json:"functionId"`
	Parameters map[string]any `json:"parameters"`
	Data       any            `json:"data"`
}

func (h *Handlers) apiRunFunction(w http.ResponseWriter, r *http.Request) {
	var req functionRunRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	out, err := h.engine.Processor().Functions().Run(r.Context(), req.FunctionID, req.Data, req.Parameters)
	switch {
	case errors.Is(err, rules.ErrUnknownFunction):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.jsonOK(w, map[string]any{"value": out})
	}
}
