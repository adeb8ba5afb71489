// Package alerting owns the alert lifecycle: creation, persistence,
// realtime publication, notification fanout, and resolution.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/cache"
	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/chainops/watchtower/internal/obs"
	"github.com/chainops/watchtower/internal/realtime"
	"github.com/rs/zerolog/log"
)

// AlertStore is the persistence contract behind the lifecycle manager.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *model.Alert) (string, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	MarkResolved(ctx context.Context, id, resolvedBy string, at time.Time) error
	QueryAlerts(ctx context.Context, nodeID string, resolved *bool) ([]model.Alert, error)
	CountUnresolved(ctx context.Context) (int, error)
}

// NodeSource resolves a node to its owning subscriber.
type NodeSource interface {
	GetNode(ctx context.Context, id string) (*model.Node, error)
}

// Notifier fans an alert out to the subscriber's channels. Implementations
// are best-effort and must not fail on individual channel errors.
type Notifier interface {
	SendAlert(ctx context.Context, subscriberID string, a *model.Alert) error
}

// Publisher is satisfied by the realtime hub.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// Manager is the alert lifecycle manager. Alerts are never deduplicated;
// every triggering condition produces a new row.
type Manager struct {
	store    AlertStore
	nodes    NodeSource
	cache    cache.Cache
	pub      Publisher
	notifier Notifier
}

func NewManager(store AlertStore, nodes NodeSource, c cache.Cache, pub Publisher, notifier Notifier) *Manager {
	return &Manager{store: store, nodes: nodes, cache: c, pub: pub, notifier: notifier}
}

// CreateAlert persists a new alert for the node and returns its id. An
// unknown node fails with model.ErrNotFound before any side effect. High
// and critical alerts additionally fan out to the owning subscriber's
// notification channels.
func (m *Manager) CreateAlert(ctx context.Context, nodeID string, draft model.AlertDraft) (string, error) {
	node, err := m.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return "", fmt.Errorf("create alert: %w", err)
	}

	alert := &model.Alert{
		NodeID:       node.ID,
		SubscriberID: node.SubscriberID,
		Type:         draft.Type,
		Severity:     draft.Severity,
		Message:      draft.Message,
		CreatedAt:    time.Now().UTC(),
	}
	id, err := m.store.InsertAlert(ctx, alert)
	if err != nil {
		return "", fmt.Errorf("create alert: %w", err)
	}
	alert.ID = id
	obs.AlertsCreated.WithLabelValues(string(alert.Severity)).Inc()
	log.Info().Str("alert", id).Str("node", node.ID).Str("severity", string(alert.Severity)).Str("type", alert.Type).Msg("alert created")

	if m.cache != nil {
		if err := cache.PutAlert(ctx, m.cache, alert); err != nil {
			log.Warn().Err(err).Str("alert", id).Msg("alert cache write failed")
		}
	}

	if m.pub != nil {
		m.pub.Publish(realtime.NodeTopic(node.ID), "alert_created", alert)
		m.pub.Publish(realtime.SubscriberTopic(node.SubscriberID), "alert_created", alert)
	}

	if alert.Severity.NeedsNotification() && m.notifier != nil {
		if err := m.notifier.SendAlert(ctx, node.SubscriberID, alert); err != nil {
			// Fanout is best-effort; delivery problems never fail creation.
			log.Error().Err(err).Str("alert", id).Msg("notification fanout failed")
		}
	}

	return id, nil
}

// ResolveAlert marks the alert resolved by resolverID. Re-resolving an
// already resolved alert is a no-op success; the first resolver's fields
// stay untouched.
func (m *Manager) ResolveAlert(ctx context.Context, alertID, resolverID string) error {
	if err := m.store.MarkResolved(ctx, alertID, resolverID, time.Now().UTC()); err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}

	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if m.cache != nil {
		if err := cache.PutAlert(ctx, m.cache, alert); err != nil {
			log.Warn().Err(err).Str("alert", alertID).Msg("alert cache refresh failed")
		}
	}
	if m.pub != nil {
		m.pub.Publish(realtime.NodeTopic(alert.NodeID), "alert_resolved", alert)
		m.pub.Publish(realtime.SubscriberTopic(alert.SubscriberID), "alert_resolved", alert)
	}
	log.Info().Str("alert", alertID).Str("resolver", resolverID).Msg("alert resolved")
	return nil
}

// GetAlert serves reads cache-first; misses and cache errors fall back to
// the store.
func (m *Manager) GetAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	if m.cache != nil {
		if a, err := cache.GetAlert(ctx, m.cache, alertID); err != nil {
			log.Warn().Err(err).Str("alert", alertID).Msg("alert cache read failed")
		} else if a != nil {
			return a, nil
		}
	}
	return m.store.GetAlert(ctx, alertID)
}

// GetAlerts lists a node's alerts, optionally filtered by resolution state.
func (m *Manager) GetAlerts(ctx context.Context, nodeID string, resolved *bool) ([]model.Alert, error) {
	return m.store.QueryAlerts(ctx, nodeID, resolved)
}

// UnresolvedCount reports how many alerts are currently open.
func (m *Manager) UnresolvedCount(ctx context.Context) (int, error) {
	return m.store.CountUnresolved(ctx)
}
