package www

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/revolutionized-iot2/riot2-orchestrator/fleet"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

func (h *Handlers) apiListVariables(w http.ResponseWriter, r *http.Request) {
	vars := h.engine.Fleet().Variables()
	if vars == nil {
		vars = []*model.Variable{}
	}
	h.jsonOK(w, vars)
}

// apiSaveVariable creates or updates a variable. An update republishes the
// variable's value as a report.
func (h *Handlers) apiSaveVariable(w http.ResponseWriter, r *http.Request) {
	var v model.Variable
	if !h.decodeBody(w, r, &v) {
		return
	}
	id, err := h.engine.Fleet().SaveVariable(&v)
	switch {
	case errors.Is(err, fleet.ErrDuplicateID):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	default:
		h.jsonOK(w, map[string]string{"id": id})
	}
}

func (h *Handlers) apiDeleteVariable(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Fleet().DeleteVariable(chi.URLParam(r, "id")); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
