// Package scheduler drives the recurring monitoring jobs: per-node health
// checks, the system snapshot, the metrics broadcast, and the retention
// sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/chainops/watchtower/internal/obs"
	"github.com/rs/zerolog/log"
)

// JobKind tags the two job families held in the registry.
type JobKind string

const (
	JobNode   JobKind = "node"
	JobSystem JobKind = "system"
)

// JobID is the typed registry key: a node id for per-node check jobs, or a
// fixed name for system jobs.
type JobID struct {
	Kind JobKind
	Name string
}

func NodeJob(nodeID string) JobID { return JobID{Kind: JobNode, Name: nodeID} }
func SystemJob(name string) JobID { return JobID{Kind: JobSystem, Name: name} }
func (id JobID) String() string   { return string(id.Kind) + "/" + id.Name }

// metricLabel keeps the per-node job family to a single label value so
// counter cardinality stays bounded.
func (id JobID) metricLabel() string {
	if id.Kind == JobNode {
		return "node_check"
	}
	return id.Name
}

// Fixed system job names.
const (
	jobSnapshot  = "snapshot"
	jobBroadcast = "broadcast"
	jobRetention = "retention"
)

// Handler runs one tick of a job. Errors are logged at the tick boundary
// and never cancel the job.
type Handler func(ctx context.Context) error

// CheckRunner is satisfied by the health check executor.
type CheckRunner interface {
	RunCheck(ctx context.Context, nodeID string) error
}

// NodeLister discovers the active fleet at engine start.
type NodeLister interface {
	ListActiveNodes(ctx context.Context) ([]model.Node, error)
}

// SnapshotSource recomputes the system health snapshot.
type SnapshotSource interface {
	Recompute(ctx context.Context) (*model.SystemHealthSnapshot, error)
}

// LatestMetricSource serves each node's most recent sample for the
// broadcast job.
type LatestMetricSource interface {
	LatestSample(ctx context.Context, nodeID string) (*model.MetricSample, error)
}

// MetricPruner and AlertPruner are the retention sweep's store contracts.
type MetricPruner interface {
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

type AlertPruner interface {
	DeleteResolvedOlderThan(ctx context.Context, days int) (int64, error)
}

// Publisher is satisfied by the realtime hub.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// Config carries the four fixed cadences and the retention horizons.
type Config struct {
	CheckInterval       time.Duration
	SnapshotInterval    time.Duration
	BroadcastInterval   time.Duration
	RetentionInterval   time.Duration
	MetricRetentionDays int
	AlertRetentionDays  int
}

// DefaultConfig returns the production cadences.
func DefaultConfig() Config {
	return Config{
		CheckInterval:       30 * time.Second,
		SnapshotInterval:    5 * time.Minute,
		BroadcastInterval:   10 * time.Second,
		RetentionInterval:   24 * time.Hour,
		MetricRetentionDays: 30,
		AlertRetentionDays:  7,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = d.BroadcastInterval
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = d.RetentionInterval
	}
	if c.MetricRetentionDays <= 0 {
		c.MetricRetentionDays = d.MetricRetentionDays
	}
	if c.AlertRetentionDays <= 0 {
		c.AlertRetentionDays = d.AlertRetentionDays
	}
}

type job struct {
	id      JobID
	cadence time.Duration
	cancel  context.CancelFunc
}

// Engine owns the job registry. At most one job per id is registered at a
// time; duplicate starts are warn-level no-ops.
type Engine struct {
	cfg     Config
	nodes   NodeLister
	checker CheckRunner
	snaps   SnapshotSource
	latest  LatestMetricSource
	metrics MetricPruner
	alerts  AlertPruner
	pub     Publisher

	mu      sync.Mutex
	running bool
	base    context.Context
	cancel  context.CancelFunc
	jobs    map[JobID]*job
}

func NewEngine(cfg Config, nodes NodeLister, checker CheckRunner, snaps SnapshotSource, latest LatestMetricSource, metrics MetricPruner, alerts AlertPruner, pub Publisher) *Engine {
	cfg.fillDefaults()
	return &Engine{
		cfg:     cfg,
		nodes:   nodes,
		checker: checker,
		snaps:   snaps,
		latest:  latest,
		metrics: metrics,
		alerts:  alerts,
		pub:     pub,
		jobs:    make(map[JobID]*job),
	}
}

// Start idempotently activates the engine: registers the three system jobs
// and one check job per currently active node. Starting a running engine
// is a no-op with a warning. A node discovery failure stops the engine
// again before returning, so an errored start never leaves jobs ticking.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		log.Warn().Msg("scheduler already running, ignoring start")
		return nil
	}
	e.running = true
	e.base, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	e.StartJob(SystemJob(jobSnapshot), e.cfg.SnapshotInterval, e.snapshotTick)
	e.StartJob(SystemJob(jobBroadcast), e.cfg.BroadcastInterval, e.broadcastTick)
	e.StartJob(SystemJob(jobRetention), e.cfg.RetentionInterval, e.retentionTick)

	nodes, err := e.nodes.ListActiveNodes(ctx)
	if err != nil {
		// Tear the system jobs back down so a failed start leaves the
		// engine fully stopped, matching what the caller is told.
		e.Stop()
		return fmt.Errorf("discover active nodes: %w", err)
	}
	for _, n := range nodes {
		e.StartNodeMonitoring(n.ID)
	}
	log.Info().Int("nodes", len(nodes)).Msg("scheduler started")
	return nil
}

// Stop cancels every registered job's recurring trigger and clears the
// registry. In-flight invocations are allowed to complete; subsequent
// ticks are simply not scheduled. Stopping a stopped engine is a no-op
// with a warning.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		log.Warn().Msg("scheduler not running, ignoring stop")
		return
	}
	for id, j := range e.jobs {
		j.cancel()
		delete(e.jobs, id)
	}
	e.cancel()
	e.running = false
	log.Info().Msg("scheduler stopped")
}

// Running reports whether the engine is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// StartJob registers a recurring job and begins ticking it. A job with the
// same id already registered wins: the new one is dropped with a warning.
func (e *Engine) StartJob(id JobID, cadence time.Duration, handler Handler) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		log.Warn().Str("job", id.String()).Msg("scheduler not running, job not started")
		return
	}
	if _, exists := e.jobs[id]; exists {
		e.mu.Unlock()
		log.Warn().Str("job", id.String()).Msg("job already registered, ignoring duplicate start")
		return
	}
	jobCtx, cancel := context.WithCancel(e.base)
	j := &job{id: id, cadence: cadence, cancel: cancel}
	e.jobs[id] = j
	e.mu.Unlock()

	go e.runJob(jobCtx, j, handler)
	log.Debug().Str("job", id.String()).Dur("cadence", cadence).Msg("job started")
}

// StopJob cancels and deregisters a job. Silently returns if absent.
func (e *Engine) StopJob(id JobID) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	if ok {
		delete(e.jobs, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	j.cancel()
	log.Debug().Str("job", id.String()).Msg("job stopped")
}

// HasJob reports whether a job with this id is currently registered.
func (e *Engine) HasJob(id JobID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.jobs[id]
	return ok
}

// JobCount returns the number of registered jobs.
func (e *Engine) JobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

// StartNodeMonitoring registers the recurring check job for one node.
func (e *Engine) StartNodeMonitoring(nodeID string) {
	e.StartJob(NodeJob(nodeID), e.cfg.CheckInterval, func(ctx context.Context) error {
		return e.checker.RunCheck(ctx, nodeID)
	})
}

// StopNodeMonitoring cancels the node's check job if present.
func (e *Engine) StopNodeMonitoring(nodeID string) {
	e.StopJob(NodeJob(nodeID))
}

// runJob is the per-job ticker loop. Cancellation stops the trigger only:
// ticks execute with a context detached from the job's, so an in-flight
// tick runs to completion after StopJob.
func (e *Engine) runJob(ctx context.Context, j *job, handler Handler) {
	t := time.NewTicker(j.cadence)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.tick(j, handler)
		}
	}
}

// tick runs one handler invocation, containing both errors and panics so a
// single failing tick never prevents the next.
func (e *Engine) tick(j *job, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			obs.JobTicks.WithLabelValues(j.id.metricLabel(), "panic").Inc()
			log.Error().Str("job", j.id.String()).Any("panic", r).Msg("job tick panicked")
		}
	}()
	if err := handler(context.Background()); err != nil {
		obs.JobTicks.WithLabelValues(j.id.metricLabel(), "error").Inc()
		log.Error().Err(err).Str("job", j.id.String()).Msg("job tick failed")
		return
	}
	obs.JobTicks.WithLabelValues(j.id.metricLabel(), "ok").Inc()
}
