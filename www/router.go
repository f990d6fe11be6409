package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"github.com/revolutionized-iot2/riot2-orchestrator/engine"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
}

// NewRouter builds the HTTP control surface. Reads are public so nodes and
// dashboards can pull configuration and values; mutations need a session.
func NewRouter(eng *engine.Engine) http.Handler {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
	}

	ensureDefaultAdmin(eng.Store())

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Handle("/metrics", eng.Metrics().Handler())
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/orchestrator", h.apiOrchestrator)

		r.Get("/nodes", h.apiListNodes)
		r.Get("/nodes/online", h.apiOnlineNodes)
		r.Get("/nodes/{id}/configuration", h.apiNodeConfiguration)
		r.Get("/nodes/{id}/template", h.apiNodeTemplate)
		r.Get("/nodes/templates", h.apiAllNodeTemplates)

		r.Get("/report/templates", h.apiReportTemplates)
		r.Get("/report/{id}/value", h.apiReportValue)
		r.Get("/report/{id}/history", h.apiReportHistory)
		r.Get("/reports", h.apiReports)
		r.Get("/command/templates", h.apiCommandTemplates)
		r.Get("/command/{id}/value", h.apiCommandValue)
		r.Get("/variable/templates", h.apiVariableTemplates)
		r.Get("/function/templates", h.apiFunctionTemplates)

		r.Get("/dashboard", h.apiDashboard)

		r.Get("/rules", h.apiListRules)
		r.Get("/rules/tags", h.apiRuleTags)
		r.Get("/rules/{id}", h.apiGetRule)
		r.Get("/rules/{id}/validate", h.apiValidateRule)

		r.Get("/variables", h.apiListVariables)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/password", h.handlePassword)

			r.Post("/nodes/configuration", h.apiSaveNodeConfiguration)
			r.Delete("/nodes/{id}/configuration", h.apiDeleteNodeConfiguration)

			r.Post("/command/execute", h.apiExecuteCommand)
			r.Post("/command/{operation}", h.apiSendOutput)
			r.Post("/reports/history/reset", h.apiResetHistory)

			r.Post("/dashboard", h.apiSaveDashboard)

			r.Post("/rules", h.apiSaveRule)
			r.Delete("/rules/{id}", h.apiDeleteRule)
			r.Put("/rules/{id}/state/{state}", h.apiSetRuleState)
			r.Post("/rules/simulate", h.apiSimulateRule)
			r.Post("/rules/function/run", h.apiRunFunction)

			r.Post("/variables", h.apiSaveVariable)
			r.Delete("/variables/{id}", h.apiDeleteVariable)
		})
	})

	return r
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	h.jsonStatus(w, code, map[string]string{"error": msg})
}

// decodeBody reads a JSON request body into v, answering 400 on failure.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.jsonError(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{
		"status":      "ok",
		"messaging":   h.engine.MsgClient().IsConnected(),
		"onlineNodes": len(h.engine.Registry().OnlineNodes()),
	})
}

func (h *Handlers) apiOrchestrator(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Fleet().OrchestratorConfiguration())
}
