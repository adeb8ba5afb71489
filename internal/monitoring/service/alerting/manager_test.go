package alerting

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/cache"
	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAlertStore struct {
	mu     sync.Mutex
	nextID int
	alerts map[string]*model.Alert
	order  []string
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{alerts: map[string]*model.Alert{}}
}

func (s *memAlertStore) InsertAlert(_ context.Context, a *model.Alert) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("alert-%d", s.nextID)
	cp := *a
	cp.ID = id
	s.alerts[id] = &cp
	s.order = append(s.order, id)
	return id, nil
}

func (s *memAlertStore) GetAlert(_ context.Context, id string) (*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, model.NotFoundf("alert %s", id)
	}
	cp := *a
	return &cp, nil
}

func (s *memAlertStore) MarkResolved(_ context.Context, id, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return model.NotFoundf("alert %s", id)
	}
	if a.Resolved {
		return nil
	}
	a.Resolved = true
	a.ResolvedAt = &at
	a.ResolvedBy = resolvedBy
	return nil
}

func (s *memAlertStore) QueryAlerts(_ context.Context, nodeID string, resolved *bool) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Alert
	for _, id := range s.order {
		a := s.alerts[id]
		if a.NodeID != nodeID {
			continue
		}
		if resolved != nil && a.Resolved != *resolved {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *memAlertStore) CountUnresolved(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n, nil
}

type memNodeSource struct {
	nodes map[string]*model.Node
}

func (s *memNodeSource) GetNode(_ context.Context, id string) (*model.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, model.NotFoundf("node %s", id)
	}
	return n, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sends []string // subscriber ids
}

func (n *recordingNotifier) SendAlert(_ context.Context, subscriberID string, _ *model.Alert) error {
	n.mu.Lock()
	n.sends = append(n.sends, subscriberID)
	n.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(topic, _ string, _ any) {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.mu.Unlock()
}

func newTestManager() (*Manager, *memAlertStore, *recordingNotifier, *recordingPublisher) {
	store := newMemAlertStore()
	nodes := &memNodeSource{nodes: map[string]*model.Node{
		"node-a": {ID: "node-a", SubscriberID: "sub-1", Status: model.NodeActive},
	}}
	notifier := &recordingNotifier{}
	pub := &recordingPublisher{}
	m := NewManager(store, nodes, cache.NewMemory(), pub, notifier)
	return m, store, notifier, pub
}

func TestCreateAlertUnknownNode(t *testing.T) {
	m, store, notifier, pub := newTestManager()

	_, err := m.CreateAlert(context.Background(), "nope", model.AlertDraft{
		Type: "latency", Severity: model.SeverityHigh, Message: "slow",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// No side effects: no row, no broadcast, no notification attempt.
	n, _ := store.CountUnresolved(context.Background())
	assert.Zero(t, n)
	assert.Empty(t, pub.topics)
	assert.Empty(t, notifier.sends)
}

func TestCreateAlertHighSeverityFansOut(t *testing.T) {
	m, store, notifier, pub := newTestManager()

	id, err := m.CreateAlert(context.Background(), "node-a", model.AlertDraft{
		Type: "latency", Severity: model.SeverityHigh, Message: "slow",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	a, err := store.GetAlert(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, a.Resolved)
	assert.Equal(t, "sub-1", a.SubscriberID)

	require.Len(t, notifier.sends, 1)
	assert.Equal(t, "sub-1", notifier.sends[0])

	// Published on both the node- and subscriber-scoped topics.
	assert.Contains(t, pub.topics, "node-node-a")
	assert.Contains(t, pub.topics, "subscriber-sub-1")
}

func TestCreateAlertLowSeveritySkipsFanout(t *testing.T) {
	m, _, notifier, pub := newTestManager()

	_, err := m.CreateAlert(context.Background(), "node-a", model.AlertDraft{
		Type: "peer_count", Severity: model.SeverityLow, Message: "few peers",
	})
	require.NoError(t, err)
	assert.Empty(t, notifier.sends)
	assert.Len(t, pub.topics, 2)
}

func TestCreateAlertNeverDeduplicates(t *testing.T) {
	m, store, _, _ := newTestManager()
	draft := model.AlertDraft{Type: "latency", Severity: model.SeverityMedium, Message: "slow"}

	id1, err := m.CreateAlert(context.Background(), "node-a", draft)
	require.NoError(t, err)
	id2, err := m.CreateAlert(context.Background(), "node-a", draft)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	n, _ := store.CountUnresolved(context.Background())
	assert.Equal(t, 2, n)
}

func TestResolveAlertIdempotent(t *testing.T) {
	m, store, _, _ := newTestManager()
	id, err := m.CreateAlert(context.Background(), "node-a", model.AlertDraft{
		Type: "latency", Severity: model.SeverityMedium, Message: "slow",
	})
	require.NoError(t, err)

	require.NoError(t, m.ResolveAlert(context.Background(), id, "operator-1"))
	first, err := store.GetAlert(context.Background(), id)
	require.NoError(t, err)
	require.True(t, first.Resolved)
	require.NotNil(t, first.ResolvedAt)

	// Second resolution is a no-op success; the first resolver's fields stay.
	require.NoError(t, m.ResolveAlert(context.Background(), id, "operator-2"))
	second, err := store.GetAlert(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", second.ResolvedBy)
	assert.Equal(t, first.ResolvedAt, second.ResolvedAt)
}

func TestResolveAlertUnknown(t *testing.T) {
	m, _, _, _ := newTestManager()
	err := m.ResolveAlert(context.Background(), "nope", "operator-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetAlertCacheFallsBackToStore(t *testing.T) {
	store := newMemAlertStore()
	nodes := &memNodeSource{nodes: map[string]*model.Node{
		"node-a": {ID: "node-a", SubscriberID: "sub-1"},
	}}
	// No cache configured: reads must come from the store.
	m := NewManager(store, nodes, nil, nil, nil)

	id, err := m.CreateAlert(context.Background(), "node-a", model.AlertDraft{
		Type: "latency", Severity: model.SeverityLow, Message: "slow",
	})
	require.NoError(t, err)

	a, err := m.GetAlert(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
}

func TestGetAlertsFiltersByResolution(t *testing.T) {
	m, _, _, _ := newTestManager()
	id1, _ := m.CreateAlert(context.Background(), "node-a", model.AlertDraft{Type: "a", Severity: model.SeverityLow, Message: "x"})
	_, _ = m.CreateAlert(context.Background(), "node-a", model.AlertDraft{Type: "b", Severity: model.SeverityLow, Message: "y"})
	require.NoError(t, m.ResolveAlert(context.Background(), id1, "op"))

	unresolved := false
	open, err := m.GetAlerts(context.Background(), "node-a", &unresolved)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "b", open[0].Type)

	all, err := m.GetAlerts(context.Background(), "node-a", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
