package www

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/revolutionized-iot2/riot2-orchestrator/fleet"
	"github.com/revolutionized-iot2/riot2-orchestrator/model"
	"github.com/revolutionized-iot2/riot2-orchestrator/store"
)

type nodeView struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	IsOnline       bool                 `json:"isOnline"`
	DeviceStatuses []model.DeviceStatus `json:"deviceStatuses"`
}

func (h *Handlers) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.engine.AppConfig().Nodes.RequestTimeout
	if timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), timeout)
}

// apiListNodes lists configured nodes with presence and, for online nodes,
// the device statuses they report.
func (h *Handlers) apiListNodes(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	configs := h.engine.Fleet().NodeConfigurations()
	views := make([]nodeView, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	if n := h.engine.AppConfig().Nodes.MaxConcurrentFetches; n > 0 {
		g.SetLimit(n)
	}
	for i, c := range configs {
		_, online := h.engine.Registry().Node(c.ID)
		views[i] = nodeView{ID: c.ID, Name: c.Name, IsOnline: online, DeviceStatuses: []model.DeviceStatus{}}
		if !online {
			continue
		}
		g.Go(func() error {
			statuses, ok := h.engine.Registry().LoadDeviceStatusFromNode(gctx, c.ID)
			if ok {
				views[i].DeviceStatuses = statuses
			}
			return nil
		})
	}
	g.Wait()
	h.jsonOK(w, views)
}

func (h *Handlers) apiOnlineNodes(w http.ResponseWriter, r *http.Request) {
	type onlineView struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		IsOnline   bool   `json:"isOnline"`
		HasDevices bool   `json:"hasDevices"`
	}
	out := []onlineView{}
	for _, n := range h.engine.Registry().OnlineNodes() {
		v := onlineView{ID: n.ID, Name: n.Settings.Name, IsOnline: n.Settings.IsOnline}
		if c, ok := h.engine.Fleet().NodeConfiguration(n.ID); ok {
			if v.Name == "" {
				v.Name = c.Name
			}
			v.HasDevices = len(c.DeviceConfigurations) > 0
		}
		out = append(out, v)
	}
	h.jsonOK(w, out)
}

// apiNodeConfiguration serves a node's configuration. Nodes call this after
// a configuration push. With ?state=true, command models carry the latest
// commanded values.
func (h *Handlers) apiNodeConfiguration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, ok := h.engine.Fleet().NodeConfiguration(id)
	if !ok {
		h.jsonError(w, "node configuration not found", http.StatusNotFound)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("state"), "true") {
		tracker := h.engine.Tracker()
		for i := range cfg.DeviceConfigurations {
			cmds := cfg.DeviceConfigurations[i].CommandTemplates
			for j := range cmds {
				if c, ok := tracker.Command(cmds[j].ID); ok {
					cmds[j].Model = c.Value
				}
			}
		}
	}
	h.jsonOK(w, cfg)
}

func (h *Handlers) apiNodeTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	templates, ok := h.engine.Registry().LoadDeviceConfigurationTemplate(ctx, chi.URLParam(r, "id"))
	if !ok || templates == nil {
		templates = []model.DeviceConfiguration{}
	}
	h.jsonOK(w, templates)
}

func (h *Handlers) apiAllNodeTemplates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	h.jsonOK(w, h.engine.Registry().LoadDeviceConfigurationTemplates(ctx))
}

func (h *Handlers) apiSaveNodeConfiguration(w http.ResponseWriter, r *http.Request) {
	var cfg model.NodeDeviceConfiguration
	if !h.decodeBody(w, r, &cfg) {
		return
	}
	id, err := h.engine.Fleet().SaveNodeConfiguration(&cfg)
	switch {
	case errors.Is(err, store.ErrMissingID):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, fleet.ErrDuplicateID):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	default:
		h.jsonOK(w, map[string]string{"id": id})
	}
}

func (h *Handlers) apiDeleteNodeConfiguration(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Fleet().DeleteNodeConfiguration(chi.URLParam(r, "id")); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
