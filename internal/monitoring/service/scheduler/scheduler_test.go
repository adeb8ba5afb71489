package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu    sync.Mutex
	nodes []model.Node
	err   error
}

func (l *fakeLister) ListActiveNodes(context.Context) ([]model.Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nodes, l.err
}

type fakeChecker struct {
	mu    sync.Mutex
	calls []string
}

func (c *fakeChecker) RunCheck(_ context.Context, nodeID string) error {
	c.mu.Lock()
	c.calls = append(c.calls, nodeID)
	c.mu.Unlock()
	return nil
}

func (c *fakeChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeSnaps struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSnaps) Recompute(context.Context) (*model.SystemHealthSnapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &model.SystemHealthSnapshot{Status: model.SystemHealthy}, nil
}

type fakeLatest struct {
	mu      sync.Mutex
	samples map[string]*model.MetricSample
}

func (l *fakeLatest) LatestSample(_ context.Context, nodeID string) (*model.MetricSample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.samples[nodeID], nil
}

type fakeMetricPruner struct {
	mu      sync.Mutex
	days    int
	dropped int64
	err     error
}

func (p *fakeMetricPruner) DeleteOlderThan(_ context.Context, days int) (int64, error) {
	p.mu.Lock()
	p.days = days
	p.mu.Unlock()
	return p.dropped, p.err
}

type fakeAlertPruner struct {
	mu      sync.Mutex
	days    int
	dropped int64
}

func (p *fakeAlertPruner) DeleteResolvedOlderThan(_ context.Context, days int) (int64, error) {
	p.mu.Lock()
	p.days = days
	p.mu.Unlock()
	return p.dropped, nil
}

type capturedEvent struct {
	topic string
	event string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (p *fakePublisher) Publish(topic, event string, _ any) {
	p.mu.Lock()
	p.events = append(p.events, capturedEvent{topic: topic, event: event})
	p.mu.Unlock()
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}

// Long cadences keep background jobs from ticking during registry tests.
func quietConfig() Config {
	return Config{
		CheckInterval:     time.Hour,
		SnapshotInterval:  time.Hour,
		BroadcastInterval: time.Hour,
		RetentionInterval: time.Hour,
	}
}

func newTestEngine(cfg Config, lister *fakeLister) (*Engine, *fakeChecker, *fakePublisher) {
	checker := &fakeChecker{}
	pub := &fakePublisher{}
	e := NewEngine(cfg, lister, checker, &fakeSnaps{}, &fakeLatest{}, &fakeMetricPruner{}, &fakeAlertPruner{}, pub)
	return e, checker, pub
}

func TestStartDiscoversActiveNodes(t *testing.T) {
	lister := &fakeLister{nodes: []model.Node{
		{ID: "node-a", Status: model.NodeActive},
		{ID: "node-b", Status: model.NodeActive},
	}}
	e, _, _ := newTestEngine(quietConfig(), lister)
	defer e.Stop()

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Running())
	assert.True(t, e.HasJob(NodeJob("node-a")))
	assert.True(t, e.HasJob(NodeJob("node-b")))
	// Three system jobs plus one check job per node.
	assert.Equal(t, 5, e.JobCount())
}

func TestStartIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(quietConfig(), &fakeLister{})
	defer e.Stop()

	require.NoError(t, e.Start(context.Background()))
	before := e.JobCount()
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, before, e.JobCount())
}

func TestStartListErrorTearsDown(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	e, _, _ := newTestEngine(quietConfig(), lister)

	err := e.Start(context.Background())
	require.Error(t, err)
	// A failed start leaves nothing running: the system jobs registered
	// before discovery are torn down again.
	assert.False(t, e.Running())
	assert.Zero(t, e.JobCount())

	// And the engine stays startable once the store recovers.
	lister.mu.Lock()
	lister.err = nil
	lister.mu.Unlock()
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	assert.True(t, e.Running())
}

func TestStopClearsRegistry(t *testing.T) {
	lister := &fakeLister{nodes: []model.Node{{ID: "node-a"}}}
	e, _, _ := newTestEngine(quietConfig(), lister)

	require.NoError(t, e.Start(context.Background()))
	e.Stop()
	assert.False(t, e.Running())
	assert.Zero(t, e.JobCount())

	// Stopping again is a no-op.
	e.Stop()
	assert.Zero(t, e.JobCount())
}

func TestEngineRestartable(t *testing.T) {
	lister := &fakeLister{nodes: []model.Node{{ID: "node-a"}}}
	e, _, _ := newTestEngine(quietConfig(), lister)

	require.NoError(t, e.Start(context.Background()))
	e.Stop()
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	assert.True(t, e.HasJob(NodeJob("node-a")))
}

func TestStartJobDuplicateIgnored(t *testing.T) {
	e, _, _ := newTestEngine(quietConfig(), &fakeLister{})
	defer e.Stop()
	require.NoError(t, e.Start(context.Background()))

	var first, second int
	var mu sync.Mutex
	e.StartJob(NodeJob("node-a"), time.Hour, func(context.Context) error {
		mu.Lock()
		first++
		mu.Unlock()
		return nil
	})
	e.StartJob(NodeJob("node-a"), time.Millisecond, func(context.Context) error {
		mu.Lock()
		second++
		mu.Unlock()
		return nil
	})

	// The duplicate's short cadence must never tick: the original job won.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, first)
	assert.Zero(t, second)
	assert.Equal(t, 4, e.JobCount())
}

func TestStartJobRequiresRunningEngine(t *testing.T) {
	e, _, _ := newTestEngine(quietConfig(), &fakeLister{})
	e.StartJob(NodeJob("node-a"), time.Hour, func(context.Context) error { return nil })
	assert.Zero(t, e.JobCount())
}

func TestNodeMonitoringStopAndRestart(t *testing.T) {
	e, _, _ := newTestEngine(quietConfig(), &fakeLister{})
	defer e.Stop()
	require.NoError(t, e.Start(context.Background()))

	e.StartNodeMonitoring("node-a")
	require.True(t, e.HasJob(NodeJob("node-a")))
	e.StopNodeMonitoring("node-a")
	require.False(t, e.HasJob(NodeJob("node-a")))

	// Stopping an absent job is silent; restart registers exactly one.
	e.StopNodeMonitoring("node-a")
	e.StartNodeMonitoring("node-a")
	assert.Equal(t, 4, e.JobCount())
}

func TestJobTicksAtCadence(t *testing.T) {
	cfg := quietConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	lister := &fakeLister{nodes: []model.Node{{ID: "node-a"}}}
	e, checker, _ := newTestEngine(cfg, lister)
	defer e.Stop()

	require.NoError(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return checker.callCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFailingTickDoesNotStopJob(t *testing.T) {
	e, _, _ := newTestEngine(quietConfig(), &fakeLister{})
	defer e.Stop()
	require.NoError(t, e.Start(context.Background()))

	var mu sync.Mutex
	var calls int
	e.StartJob(SystemJob("flaky"), 10*time.Millisecond, func(context.Context) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n%2 == 1 {
			return errors.New("boom")
		}
		return nil
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 4
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPanickingTickDoesNotStopJob(t *testing.T) {
	e, _, _ := newTestEngine(quietConfig(), &fakeLister{})
	defer e.Stop()
	require.NoError(t, e.Start(context.Background()))

	var mu sync.Mutex
	var calls int
	e.StartJob(SystemJob("panicky"), 10*time.Millisecond, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("tick went sideways")
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStopJobLeavesInFlightTickRunning(t *testing.T) {
	e, _, _ := newTestEngine(quietConfig(), &fakeLister{})
	defer e.Stop()
	require.NoError(t, e.Start(context.Background()))

	started := make(chan struct{})
	finished := make(chan error, 1)
	e.StartJob(SystemJob("slow"), 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil // only the first tick participates
		}
		time.Sleep(100 * time.Millisecond)
		finished <- ctx.Err()
		return nil
	})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never started")
	}
	e.StopJob(SystemJob("slow"))

	// The in-flight tick completes with an uncancelled context.
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight tick never finished")
	}
	assert.False(t, e.HasJob(SystemJob("slow")))
}

func TestSnapshotTickPublishesGlobally(t *testing.T) {
	e, _, pub := newTestEngine(quietConfig(), &fakeLister{})
	require.NoError(t, e.snapshotTick(context.Background()))
	require.Len(t, pub.events, 1)
	assert.Equal(t, "global", pub.events[0].topic)
	assert.Equal(t, "system_health", pub.events[0].event)
}

func TestBroadcastTickSkipsSamplelessNodes(t *testing.T) {
	lister := &fakeLister{nodes: []model.Node{{ID: "node-a"}, {ID: "node-b"}}}
	checker := &fakeChecker{}
	pub := &fakePublisher{}
	latest := &fakeLatest{samples: map[string]*model.MetricSample{
		"node-a": {NodeID: "node-a", Uptime: 99.9},
	}}
	e := NewEngine(quietConfig(), lister, checker, &fakeSnaps{}, latest, &fakeMetricPruner{}, &fakeAlertPruner{}, pub)

	require.NoError(t, e.broadcastTick(context.Background()))
	assert.Equal(t, []string{"node-node-a"}, pub.topics())
}

func TestRetentionTickUsesConfiguredHorizons(t *testing.T) {
	cfg := quietConfig()
	cfg.MetricRetentionDays = 30
	cfg.AlertRetentionDays = 7
	metrics := &fakeMetricPruner{dropped: 12}
	alerts := &fakeAlertPruner{dropped: 3}
	e := NewEngine(cfg, &fakeLister{}, &fakeChecker{}, &fakeSnaps{}, &fakeLatest{}, metrics, alerts, &fakePublisher{})

	require.NoError(t, e.retentionTick(context.Background()))
	assert.Equal(t, 30, metrics.days)
	assert.Equal(t, 7, alerts.days)
}

type agedMetricStore struct {
	mu      sync.Mutex
	samples []model.MetricSample
}

func (s *agedMetricStore) DeleteOlderThan(_ context.Context, days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -days)
	kept := s.samples[:0]
	var dropped int64
	for _, m := range s.samples {
		if m.RecordedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, m)
	}
	s.samples = kept
	return dropped, nil
}

func (s *agedMetricStore) remaining() []model.MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.MetricSample(nil), s.samples...)
}

type agedAlertStore struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (s *agedAlertStore) DeleteResolvedOlderThan(_ context.Context, days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -days)
	kept := s.alerts[:0]
	var dropped int64
	for _, a := range s.alerts {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	s.alerts = kept
	return dropped, nil
}

func (s *agedAlertStore) remaining() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Alert(nil), s.alerts...)
}

func daysAgo(n int) time.Time { return time.Now().AddDate(0, 0, -n) }

func TestRetentionTickSweepsPastHorizonOnly(t *testing.T) {
	eightDays := daysAgo(8)
	sixDays := daysAgo(6)
	alerts := &agedAlertStore{alerts: []model.Alert{
		{ID: "alert-old", Resolved: true, ResolvedAt: &eightDays},
		{ID: "alert-recent", Resolved: true, ResolvedAt: &sixDays},
		{ID: "alert-open", Resolved: false, CreatedAt: daysAgo(8)},
	}}
	metrics := &agedMetricStore{samples: []model.MetricSample{
		{NodeID: "node-a", RecordedAt: daysAgo(31)},
		{NodeID: "node-a", RecordedAt: daysAgo(29)},
	}}

	cfg := quietConfig()
	cfg.MetricRetentionDays = 30
	cfg.AlertRetentionDays = 7
	e := NewEngine(cfg, &fakeLister{}, &fakeChecker{}, &fakeSnaps{}, &fakeLatest{}, metrics, alerts, &fakePublisher{})

	require.NoError(t, e.retentionTick(context.Background()))

	// An alert resolved 8 days ago falls past the 7-day horizon; one
	// resolved 6 days ago stays, and unresolved alerts are never swept.
	remaining := alerts.remaining()
	require.Len(t, remaining, 2)
	assert.Equal(t, "alert-recent", remaining[0].ID)
	assert.Equal(t, "alert-open", remaining[1].ID)

	samples := metrics.remaining()
	require.Len(t, samples, 1)
	assert.WithinDuration(t, daysAgo(29), samples[0].RecordedAt, time.Minute)
}

func TestRetentionTickMetricErrorAborts(t *testing.T) {
	metrics := &fakeMetricPruner{err: errors.New("db gone")}
	alerts := &fakeAlertPruner{}
	e := NewEngine(quietConfig(), &fakeLister{}, &fakeChecker{}, &fakeSnaps{}, &fakeLatest{}, metrics, alerts, &fakePublisher{})

	require.Error(t, e.retentionTick(context.Background()))
	assert.Zero(t, alerts.days)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.fillDefaults()
	assert.Equal(t, DefaultConfig(), cfg)
}
