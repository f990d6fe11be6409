package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

var (
	ErrUnknownNode    = errors.New("presence: unknown node")
	ErrNoWorkflowNode = errors.New("presence: no workflow node online")
)

type entry struct {
	node      model.OnlineNode
	templates []model.DeviceConfiguration
}

// Registry tracks the nodes currently connected to the bus. It is held only
// in memory; after a restart it fills as nodes re-announce.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*entry
	order []string

	client        *Client
	maxConcurrent int
}

func NewRegistry(client *Client, maxConcurrent int) *Registry {
	return &Registry{
		nodes:         make(map[string]*entry),
		client:        client,
		maxConcurrent: maxConcurrent,
	}
}

// Add upserts a node. For a known id only the online settings are replaced;
// previously fetched templates are kept.
func (r *Registry) Add(node model.OnlineNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.nodes[node.ID]; ok {
		e.node.Settings = node.Settings
		return
	}
	r.nodes[node.ID] = &entry{node: node}
	r.order = append(r.order, node.ID)
}

// Remove deletes a node; unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[id]; !ok {
		return
	}
	delete(r.nodes, id)
	for i, nid := range r.order {
		if nid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// OnlineNodes returns a snapshot of the connected nodes in arrival order.
func (r *Registry) OnlineNodes() []model.OnlineNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.OnlineNode, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id].node)
	}
	return out
}

func (r *Registry) Node(id string) (model.OnlineNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[id]
	if !ok {
		return model.OnlineNode{}, false
	}
	return e.node, true
}

// WorkflowNode returns the first online node flagged as a workflow engine.
func (r *Registry) WorkflowNode() (model.OnlineNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if n := r.nodes[id].node; n.Settings.NodeType == model.NodeTypeWorkflow {
			return n, true
		}
	}
	return model.OnlineNode{}, false
}

func (r *Registry) baseURL(id string) (string, error) {
	node, ok := r.Node(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return node.Settings.NodeBaseURL, nil
}

// CachedTemplates returns the templates last fetched from a node.
func (r *Registry) CachedTemplates(id string) ([]model.DeviceConfiguration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.nodes[id]
	if !ok || e.templates == nil {
		return nil, false
	}
	return append([]model.DeviceConfiguration(nil), e.templates...), true
}

// LoadDeviceConfigurationTemplate fetches a node's device templates. It
// returns false when the node is unknown, unreachable or answers with an
// error status; failures are logged.
func (r *Registry) LoadDeviceConfigurationTemplate(ctx context.Context, id string) ([]model.DeviceConfiguration, bool) {
	base, err := r.baseURL(id)
	if err != nil {
		log.Printf("presence: template fetch: %v", err)
		return nil, false
	}
	var tpl []model.DeviceConfiguration
	if err := r.client.ConfigTemplates(ctx, base, &tpl); err != nil {
		log.Printf("presence: template fetch %s: %v", id, err)
		return nil, false
	}
	if tpl == nil {
		tpl = []model.DeviceConfiguration{}
	}
	r.mu.Lock()
	if e, ok := r.nodes[id]; ok {
		e.templates = tpl
	}
	r.mu.Unlock()
	return tpl, true
}

// LoadDeviceConfigurationTemplates fetches templates from every online node
// concurrently. Each online node has a key in the result; a failed node maps
// to nil.
func (r *Registry) LoadDeviceConfigurationTemplates(ctx context.Context) map[string][]model.DeviceConfiguration {
	nodes := r.OnlineNodes()
	out := make(map[string][]model.DeviceConfiguration, len(nodes))
	if len(nodes) == 0 {
		return out
	}

	var mu sync.Mutex
	var g errgroup.Group
	if r.maxConcurrent > 0 {
		g.SetLimit(r.maxConcurrent)
	}
	for _, n := range nodes {
		g.Go(func() error {
			tpl, _ := r.LoadDeviceConfigurationTemplate(ctx, n.ID)
			mu.Lock()
			out[n.ID] = tpl
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out
}

// LoadDeviceStatusFromNode fetches the device status list of one node.
func (r *Registry) LoadDeviceStatusFromNode(ctx context.Context, id string) ([]model.DeviceStatus, bool) {
	base, err := r.baseURL(id)
	if err != nil {
		log.Printf("presence: status fetch: %v", err)
		return nil, false
	}
	var status []model.DeviceStatus
	if err := r.client.DeviceStatus(ctx, base, &status); err != nil {
		log.Printf("presence: status fetch %s: %v", id, err)
		return nil, false
	}
	if status == nil {
		status = []model.DeviceStatus{}
	}
	return status, true
}

// TriggerWorkflow forwards a report to the online workflow-engine node.
func (r *Registry) TriggerWorkflow(ctx context.Context, report model.Report) error {
	node, ok := r.WorkflowNode()
	if !ok {
		return ErrNoWorkflowNode
	}
	if err := r.client.TriggerWorkflow(ctx, node.Settings.NodeBaseURL, report.ID, report); err != nil {
		return fmt.Errorf("workflow node %s: %w", node.ID, err)
	}
	return nil
}
