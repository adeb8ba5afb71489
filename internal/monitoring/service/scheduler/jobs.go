package scheduler

import (
	"context"
	"fmt"

	"github.com/chainops/watchtower/internal/realtime"
	"github.com/rs/zerolog/log"
)

// snapshotTick recomputes the fleet snapshot and publishes it globally.
func (e *Engine) snapshotTick(ctx context.Context) error {
	snap, err := e.snaps.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("snapshot tick: %w", err)
	}
	if e.pub != nil {
		e.pub.Publish(realtime.TopicGlobal, "system_health", snap)
	}
	log.Debug().Str("status", string(snap.Status)).Int("unresolved", snap.UnresolvedAlerts).Msg("system snapshot published")
	return nil
}

// broadcastTick republishes each active node's latest sample on its topic
// so freshly joined realtime clients see data without waiting for the
// next check cycle.
func (e *Engine) broadcastTick(ctx context.Context) error {
	nodes, err := e.nodes.ListActiveNodes(ctx)
	if err != nil {
		return fmt.Errorf("broadcast tick: %w", err)
	}
	for _, n := range nodes {
		sample, err := e.latest.LatestSample(ctx, n.ID)
		if err != nil {
			log.Error().Err(err).Str("node", n.ID).Msg("broadcast tick: latest sample lookup failed")
			continue
		}
		if sample == nil {
			continue
		}
		if e.pub != nil {
			e.pub.Publish(realtime.NodeTopic(n.ID), "metrics", sample)
		}
	}
	return nil
}

// retentionTick prunes metric samples and resolved alerts past their
// retention horizons.
func (e *Engine) retentionTick(ctx context.Context) error {
	metricsDropped, err := e.metrics.DeleteOlderThan(ctx, e.cfg.MetricRetentionDays)
	if err != nil {
		return fmt.Errorf("retention tick: %w", err)
	}
	alertsDropped, err := e.alerts.DeleteResolvedOlderThan(ctx, e.cfg.AlertRetentionDays)
	if err != nil {
		return fmt.Errorf("retention tick: %w", err)
	}
	log.Info().Int64("metrics", metricsDropped).Int64("alerts", alertsDropped).Msg("retention sweep completed")
	return nil
}
