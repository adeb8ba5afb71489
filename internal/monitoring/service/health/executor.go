package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/chainops/watchtower/internal/obs"
	"github.com/chainops/watchtower/internal/realtime"
	"github.com/rs/zerolog/log"
)

// NodeStore is the slice of the node repository the executor needs.
type NodeStore interface {
	GetNode(ctx context.Context, id string) (*model.Node, error)
	UpdateLastChecked(ctx context.Context, id string, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status model.NodeStatus) error
}

// MetricStore receives one sample per completed check cycle.
type MetricStore interface {
	InsertSample(ctx context.Context, m *model.MetricSample) error
}

// AlertCreator is satisfied by the alert lifecycle manager.
type AlertCreator interface {
	CreateAlert(ctx context.Context, nodeID string, draft model.AlertDraft) (string, error)
}

// SettingsSource provides subscriber thresholds for post-check evaluation.
type SettingsSource interface {
	GetBySubscriber(ctx context.Context, subscriberID string) (*model.NotificationSettings, error)
}

// Publisher is satisfied by the realtime hub.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// Executor runs one health check cycle per node via the agent runtime.
// All failure modes collapse to either a stored sample or a single
// critical alert, keeping the scheduler's failure model trivial.
type Executor struct {
	agent    AgentRuntime
	nodes    NodeStore
	metrics  MetricStore
	alerts   AlertCreator
	settings SettingsSource
	pub      Publisher
	timeout  time.Duration

	// inFlight enforces at most one running check per node. A tick that
	// finds a prior check still running skips rather than queuing.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewExecutor(agent AgentRuntime, nodes NodeStore, metrics MetricStore, alerts AlertCreator, settings SettingsSource, pub Publisher, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		agent:    agent,
		nodes:    nodes,
		metrics:  metrics,
		alerts:   alerts,
		settings: settings,
		pub:      pub,
		timeout:  timeout,
		inFlight: make(map[string]struct{}),
	}
}

// RunCheck performs one check cycle for nodeID. It returns an error only
// for unknown nodes; agent failures are converted into critical alerts and
// never propagate.
func (e *Executor) RunCheck(ctx context.Context, nodeID string) error {
	if !e.tryAcquire(nodeID) {
		log.Warn().Str("node", nodeID).Msg("previous check still running, skipping this cycle")
		obs.ChecksTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	defer e.release(nodeID)

	node, err := e.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("run check: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	report, err := e.agent.RunHealthCheck(checkCtx, nodeID)
	if err != nil || !report.OK() {
		e.handleFailure(ctx, node, report, err)
		return nil
	}

	e.handleSuccess(ctx, node, report)
	return nil
}

func (e *Executor) tryAcquire(nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.inFlight[nodeID]; running {
		return false
	}
	e.inFlight[nodeID] = struct{}{}
	return true
}

func (e *Executor) release(nodeID string) {
	e.mu.Lock()
	delete(e.inFlight, nodeID)
	e.mu.Unlock()
}

func (e *Executor) handleFailure(ctx context.Context, node *model.Node, report *CheckReport, cause error) {
	obs.ChecksTotal.WithLabelValues("failed").Inc()
	detail := "health check failed"
	if cause != nil {
		detail = cause.Error()
	} else if report != nil && report.Detail != "" {
		detail = report.Detail
	}
	log.Error().Str("node", node.ID).Str("detail", detail).Msg("health check failed")

	if node.Status != model.NodeError {
		if err := e.nodes.UpdateStatus(ctx, node.ID, model.NodeError); err != nil {
			log.Error().Err(err).Str("node", node.ID).Msg("failed to mark node errored")
		}
	}

	draft := model.AlertDraft{
		Type:     model.AlertHealthCheckFailed,
		Severity: model.SeverityCritical,
		Message:  fmt.Sprintf("health check failed for node %s: %s", node.ID, detail),
	}
	if _, err := e.alerts.CreateAlert(ctx, node.ID, draft); err != nil {
		log.Error().Err(err).Str("node", node.ID).Msg("failed to create health check alert")
	}
}

func (e *Executor) handleSuccess(ctx context.Context, node *model.Node, report *CheckReport) {
	obs.ChecksTotal.WithLabelValues("ok").Inc()
	now := time.Now().UTC()

	if report.Metrics != nil {
		sample := *report.Metrics
		sample.NodeID = node.ID
		sample.RecordedAt = now
		if err := e.metrics.InsertSample(ctx, &sample); err != nil {
			log.Error().Err(err).Str("node", node.ID).Msg("failed to store metric sample")
		} else {
			e.evaluateThresholds(ctx, node, &sample)
		}
	}

	if err := e.nodes.UpdateLastChecked(ctx, node.ID, now); err != nil {
		log.Error().Err(err).Str("node", node.ID).Msg("failed to update last checked timestamp")
	}
	if node.Status == model.NodeError {
		if err := e.nodes.UpdateStatus(ctx, node.ID, model.NodeActive); err != nil {
			log.Error().Err(err).Str("node", node.ID).Msg("failed to restore node status")
		}
	}

	if e.pub != nil {
		e.pub.Publish(realtime.NodeTopic(node.ID), "check_completed", map[string]any{
			"nodeId":    node.ID,
			"checkedAt": now,
			"metrics":   report.Metrics,
		})
	}
}

// evaluateThresholds raises alerts when a fresh sample breaches the owning
// subscriber's configured limits. Threshold values of 0 are treated as
// unset.
func (e *Executor) evaluateThresholds(ctx context.Context, node *model.Node, sample *model.MetricSample) {
	if e.settings == nil {
		return
	}
	settings, err := e.settings.GetBySubscriber(ctx, node.SubscriberID)
	if err != nil {
		log.Error().Err(err).Str("subscriber", node.SubscriberID).Msg("failed to load thresholds")
		return
	}
	if settings == nil {
		return
	}

	if settings.UptimeThreshold > 0 && sample.Uptime < settings.UptimeThreshold {
		e.raiseThresholdAlert(ctx, node, model.AlertDraft{
			Type:     model.AlertLowUptime,
			Severity: model.SeverityHigh,
			Message:  fmt.Sprintf("uptime %.2f%% is below threshold %.2f%% for node %s", sample.Uptime, settings.UptimeThreshold, node.ID),
		})
	}
	if settings.ResponseTimeThreshold > 0 && sample.ResponseTimeMs > settings.ResponseTimeThreshold {
		e.raiseThresholdAlert(ctx, node, model.AlertDraft{
			Type:     model.AlertSlowResponse,
			Severity: model.SeverityMedium,
			Message:  fmt.Sprintf("response time %.0fms exceeds threshold %.0fms for node %s", sample.ResponseTimeMs, settings.ResponseTimeThreshold, node.ID),
		})
	}
}

func (e *Executor) raiseThresholdAlert(ctx context.Context, node *model.Node, draft model.AlertDraft) {
	if _, err := e.alerts.CreateAlert(ctx, node.ID, draft); err != nil {
		log.Error().Err(err).Str("node", node.ID).Str("type", draft.Type).Msg("failed to create threshold alert")
	}
}
