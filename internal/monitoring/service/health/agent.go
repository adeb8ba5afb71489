package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chainops/watchtower/internal/config"
	"github.com/chainops/watchtower/internal/monitoring/model"
)

// CheckReport is the Agent Runtime's answer to one health check request.
type CheckReport struct {
	Status  string              `json:"status"` // "ok" or "failed"
	Metrics *model.MetricSample `json:"metrics,omitempty"`
	Detail  string              `json:"detail,omitempty"`
}

// OK reports whether the check succeeded end to end.
func (r *CheckReport) OK() bool { return r != nil && r.Status == "ok" }

// AgentRuntime is the opaque collaborator that decides whether a node is
// healthy. Any non-success outcome (error, timeout, failed status) is
// treated uniformly by the executor.
type AgentRuntime interface {
	RunHealthCheck(ctx context.Context, nodeID string) (*CheckReport, error)
}

// AgentConfig holds the agent service endpoint and call budget.
type AgentConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewAgentConfigFromApp converts app config to a runtime AgentConfig.
func NewAgentConfigFromApp(c *config.MonitoringConfig) *AgentConfig {
	return &AgentConfig{
		BaseURL: c.AgentURL,
		Timeout: config.ParseDuration(c.AgentTimeout, 30*time.Second),
	}
}

// AgentClient talks to the external agent runtime service over HTTP.
type AgentClient struct {
	config     *AgentConfig
	httpClient *http.Client
}

func NewAgentClient(cfg *AgentConfig) *AgentClient {
	return &AgentClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type checkRequest struct {
	NodeID         string `json:"nodeId"`
	CollectMetrics bool   `json:"collectMetrics"`
}

// RunHealthCheck requests a full health check with metrics collection
// enabled. The call carries the configured timeout so a hung agent cannot
// outlive the check cadence.
func (c *AgentClient) RunHealthCheck(ctx context.Context, nodeID string) (*CheckReport, error) {
	body, err := json.Marshal(checkRequest{NodeID: nodeID, CollectMetrics: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode check request: %w", err)
	}

	reqURL := c.config.BaseURL + "/v1/health-checks"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("agent runtime returned status %d: %s", resp.StatusCode, string(data))
	}

	var report CheckReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode check report: %w", err)
	}
	return &report, nil
}
