package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/revolutionized-iot2/riot2-orchestrator/config"
)

// Client issues outbound HTTP requests to node APIs.
type Client struct {
	httpClient *http.Client
	paths      config.NodesConfig
}

func NewClient(cfg config.NodesConfig) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		paths:      cfg,
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) get(ctx context.Context, rawURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("node GET %s: %w", rawURL, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, result)
}

func (c *Client) post(ctx context.Context, rawURL string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("node marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bodyReader)
	if err != nil {
		return fmt.Errorf("node POST %s: %w", rawURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node POST %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, result)
}

func (c *Client) decode(resp *http.Response, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("node read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("node HTTP %d: %s", resp.StatusCode, string(data))
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("node decode: %w", err)
		}
	}
	return nil
}

func (c *Client) ConfigTemplates(ctx context.Context, baseURL string, result any) error {
	return c.get(ctx, joinURL(baseURL, c.paths.ConfigTemplatePath), result)
}

func (c *Client) DeviceStatus(ctx context.Context, baseURL string, result any) error {
	return c.get(ctx, joinURL(baseURL, c.paths.DeviceStatePath), result)
}

func (c *Client) TriggerWorkflow(ctx context.Context, baseURL, reportID string, body any) error {
	u := joinURL(joinURL(baseURL, c.paths.WorkflowTriggerPath), url.PathEscape(reportID))
	return c.post(ctx, u, body, nil)
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration { return c.httpClient.Timeout }
