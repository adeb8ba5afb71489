package health

import (
	"context"
	"fmt"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/cache"
	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/rs/zerolog/log"
)

// FleetStore provides the node counts feeding the aggregator.
type FleetStore interface {
	CountByStatus(ctx context.Context) (total, active, errored int, err error)
}

// UptimeSource averages the latest uptime sample across the fleet.
type UptimeSource interface {
	AvgUptime(ctx context.Context) (float64, error)
}

// AlertCounter counts open alerts.
type AlertCounter interface {
	CountUnresolved(ctx context.Context) (int, error)
}

// MetricQuerier serves historical samples for realtime clients.
type MetricQuerier interface {
	QuerySamples(ctx context.Context, nodeID string, since time.Time) ([]model.MetricSample, error)
}

// Snapshotter computes the system health snapshot from store state and
// keeps a short-lived cached copy. It also backs the realtime hub's
// synchronous client queries.
type Snapshotter struct {
	fleet   FleetStore
	uptime  UptimeSource
	alerts  AlertCounter
	metrics MetricQuerier
	cache   cache.Cache
}

func NewSnapshotter(fleet FleetStore, uptime UptimeSource, alerts AlertCounter, metrics MetricQuerier, c cache.Cache) *Snapshotter {
	return &Snapshotter{fleet: fleet, uptime: uptime, alerts: alerts, metrics: metrics, cache: c}
}

// SystemHealth returns the cached snapshot when fresh, recomputing on a
// miss. Cache errors are logged and treated as misses.
func (s *Snapshotter) SystemHealth(ctx context.Context) (*model.SystemHealthSnapshot, error) {
	if s.cache != nil {
		if snap, err := cache.GetSnapshot(ctx, s.cache); err != nil {
			log.Warn().Err(err).Msg("snapshot cache read failed, recomputing")
		} else if snap != nil {
			return snap, nil
		}
	}
	return s.Recompute(ctx)
}

// Recompute reads store state at an instant, classifies it, and replaces
// the cached snapshot wholesale. The reads are not synchronized with
// concurrent alert creation; a slightly stale count is acceptable.
func (s *Snapshotter) Recompute(ctx context.Context) (*model.SystemHealthSnapshot, error) {
	total, active, errored, err := s.fleet.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute system health: %w", err)
	}
	avgUptime, err := s.uptime.AvgUptime(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute system health: %w", err)
	}
	unresolved, err := s.alerts.CountUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("compute system health: %w", err)
	}

	snap := ComputeSystemHealth(total, active, errored, avgUptime, unresolved)
	if s.cache != nil {
		if err := cache.PutSnapshot(ctx, s.cache, &snap); err != nil {
			log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
	return &snap, nil
}

// NodeMetrics answers realtime metric history requests straight from the
// store.
func (s *Snapshotter) NodeMetrics(ctx context.Context, nodeID string, since time.Time) ([]model.MetricSample, error) {
	return s.metrics.QuerySamples(ctx, nodeID, since)
}
