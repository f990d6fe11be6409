package www

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/revolutionized-iot2/riot2-orchestrator/dispatch"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/state"
)

const (
	orchestratorNodeName = "Orchestrator"
	variableDeviceName   = "Variable"
)

// templateOrigin locates a template in the fleet. NodeID sits at the top
// level of each view so it shadows CommandTemplate.NodeID.
type templateOrigin struct {
	Node     string `json:"node"`
	DeviceID string `json:"deviceId"`
	Device   string `json:"device"`
}

type reportTemplateView struct {
	NodeID string `json:"nodeId"`
	templateOrigin
	model.ReportTemplate
}

type commandTemplateView struct {
	NodeID string `json:"nodeId"`
	templateOrigin
	model.CommandTemplate
}

func (h *Handlers) orchestratorID() string { return h.engine.AppConfig().Orchestrator.ID }

var variableOrigin = templateOrigin{Node: orchestratorNodeName, Device: variableDeviceName}

func (h *Handlers) reportTemplateViews(includeNodes bool) []reportTemplateView {
	out := []reportTemplateView{}
	if includeNodes {
		for _, n := range h.engine.Fleet().NodeConfigurations() {
			for _, dc := range n.DeviceConfigurations {
				origin := templateOrigin{Node: n.Name, DeviceID: dc.ID, Device: dc.Name}
				for _, t := range dc.ReportTemplates {
					out = append(out, reportTemplateView{n.ID, origin, t})
				}
			}
		}
	}
	for _, v := range h.engine.Fleet().Variables() {
		out = append(out, reportTemplateView{h.orchestratorID(), variableOrigin, v.ReportTemplate()})
	}
	return out
}

func (h *Handlers) apiReportTemplates(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.reportTemplateViews(true))
}

func (h *Handlers) apiVariableTemplates(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.reportTemplateViews(false))
}

func (h *Handlers) apiCommandTemplates(w http.ResponseWriter, r *http.Request) {
	out := []commandTemplateView{}
	for _, n := range h.engine.Fleet().NodeConfigurations() {
		for _, dc := range n.DeviceConfigurations {
			origin := templateOrigin{Node: n.Name, DeviceID: dc.ID, Device: dc.Name}
			for _, t := range dc.CommandTemplates {
				out = append(out, commandTemplateView{n.ID, origin, t})
			}
		}
	}
	for _, v := range h.engine.Fleet().Variables() {
		out = append(out, commandTemplateView{h.orchestratorID(), variableOrigin, v.CommandTemplate()})
	}
	h.jsonOK(w, out)
}

func (h *Handlers) apiFunctionTemplates(w http.ResponseWriter, r *http.Request) {
	type functionView struct {
		ID string `json:"id"`
	}
	out := []functionView{}
	for _, id := range h.engine.Processor().Functions().IDs() {
		out = append(out, functionView{ID: id})
	}
	h.jsonOK(w, out)
}

// apiReportValue returns the latest report, or the template default when
// nothing has been received yet.
func (h *Handlers) apiReportValue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if rep, ok := h.engine.Tracker().Report(id); ok {
		h.jsonOK(w, rep)
		return
	}
	if t, ok := h.engine.Fleet().ReportTemplate(id); ok {
		h.jsonOK(w, t.AsReport())
		return
	}
	h.jsonError(w, "no report with id "+id, http.StatusNotFound)
}

// apiCommandValue returns the latest command, or the template default.
func (h *Handlers) apiCommandValue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if cmd, ok := h.engine.Tracker().Command(id); ok {
		h.jsonOK(w, cmd)
		return
	}
	if t, ok := h.engine.Fleet().CommandTemplate(id); ok {
		h.jsonOK(w, t.AsCommand())
		return
	}
	h.jsonError(w, "no command with id "+id, http.StatusNotFound)
}

// apiReportHistory returns up to ?count entries, newest first. Ids without
// history answer with their current value alone.
func (h *Handlers) apiReportHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	count := 0
	if c := r.URL.Query().Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			h.jsonError(w, "invalid count", http.StatusBadRequest)
			return
		}
		if n < 1 {
			h.jsonOK(w, []state.Entry{})
			return
		}
		count = n
	}
	history := h.engine.Tracker().GetHistory(id, count)
	if len(history) == 0 {
		if rep, ok := h.engine.Tracker().Report(id); ok {
			history = append(history, state.Entry{Value: rep.Value, Filter: rep.Filter, TimeStamp: rep.TimeStamp})
		}
	}
	h.jsonOK(w, history)
}

func (h *Handlers) apiReports(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Tracker().Reports())
}

func (h *Handlers) apiResetHistory(w http.ResponseWriter, r *http.Request) {
	h.engine.Tracker().Reset()
	w.WriteHeader(http.StatusNoContent)
}

// apiExecuteCommand sends an operator command to its node.
func (h *Handlers) apiExecuteCommand(w http.ResponseWriter, r *http.Request) {
	h.sendOutput(w, r, model.OperationSetValue)
}

// apiSendOutput applies an output with an explicit operation: 0 sends to a
// node, 1 sets a variable.
func (h *Handlers) apiSendOutput(w http.ResponseWriter, r *http.Request) {
	op, err := strconv.Atoi(chi.URLParam(r, "operation"))
	if err != nil || (model.OutputOperation(op) != model.OperationSetValue && model.OutputOperation(op) != model.OperationVariable) {
		h.jsonError(w, "invalid operation", http.StatusBadRequest)
		return
	}
	h.sendOutput(w, r, model.OutputOperation(op))
}

func (h *Handlers) sendOutput(w http.ResponseWriter, r *http.Request, op model.OutputOperation) {
	var cmd model.Command
	if !h.decodeBody(w, r, &cmd) {
		return
	}
	if cmd.ID == "" {
		h.jsonError(w, "command id is required", http.StatusBadRequest)
		return
	}
	err := h.engine.ProcessOutput(model.RuleEvaluationResult{CommandID: cmd.ID, Value: cmd.Value, Operation: op})
	switch {
	case errors.Is(err, dispatch.ErrUnknownCommand), errors.Is(err, dispatch.ErrUnknownVariable):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handlers) apiDashboard(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Fleet().Dashboard())
}

func (h *Handlers) apiSaveDashboard(w http.ResponseWriter, r *http.Request) {
	var d model.DashboardConfiguration
	if !h.decodeBody(w, r, &d) {
		return
	}
	id, err := h.engine.Fleet().SaveDashboardConfiguration(&d)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"id": id})
}
