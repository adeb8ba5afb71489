// Package notify fans alerts out to a subscriber's configured channels.
// Delivery is best-effort: one channel's failure never suppresses or
// delays another's attempt, and nothing here propagates to the caller.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/chainops/watchtower/internal/obs"
	"github.com/rs/zerolog/log"
)

// Payload is the normalized alert shape handed to every channel sender.
// Each sender is solely responsible for its wire format.
type Payload struct {
	Severity  model.Severity `json:"severity"`
	Type      string         `json:"type"`
	NodeID    string         `json:"nodeId"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender delivers a payload over one channel kind.
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, settings *model.NotificationSettings, p *Payload) error
}

// SettingsSource reads a subscriber's notification settings.
type SettingsSource interface {
	GetBySubscriber(ctx context.Context, subscriberID string) (*model.NotificationSettings, error)
}

// Fanout dispatches alerts to every enabled channel concurrently.
type Fanout struct {
	settings SettingsSource
	senders  map[model.Channel]Sender
}

func NewFanout(settings SettingsSource, senders ...Sender) *Fanout {
	bySenderKind := make(map[model.Channel]Sender, len(senders))
	for _, s := range senders {
		bySenderKind[s.Channel()] = s
	}
	return &Fanout{settings: settings, senders: bySenderKind}
}

// SendAlert delivers the alert to each channel the subscriber enabled. All
// dispatches run concurrently and are awaited to completion regardless of
// individual failure. The returned error is always nil: a subscriber
// without settings is not a failure, and settings read errors are logged
// and swallowed since delivery is non-critical to system correctness.
func (f *Fanout) SendAlert(ctx context.Context, subscriberID string, a *model.Alert) error {
	settings, err := f.settings.GetBySubscriber(ctx, subscriberID)
	if err != nil {
		log.Error().Err(err).Str("subscriber", subscriberID).Msg("failed to read notification settings")
		return nil
	}
	if settings == nil {
		log.Info().Str("subscriber", subscriberID).Msg("no notification settings, skipping fanout")
		return nil
	}

	channels := settings.EnabledChannels()
	if len(channels) == 0 {
		return nil
	}

	payload := &Payload{
		Severity:  a.Severity,
		Type:      a.Type,
		NodeID:    a.NodeID,
		Message:   a.Message,
		Timestamp: a.CreatedAt,
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		sender, ok := f.senders[ch]
		if !ok {
			log.Warn().Str("channel", string(ch)).Msg("no sender registered for enabled channel")
			continue
		}
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			if err := s.Send(ctx, settings, payload); err != nil {
				obs.NotificationsSent.WithLabelValues(string(s.Channel()), "failed").Inc()
				log.Error().Err(err).Str("channel", string(s.Channel())).Str("subscriber", subscriberID).Str("alert", a.ID).Msg("channel send failed")
				return
			}
			obs.NotificationsSent.WithLabelValues(string(s.Channel()), "ok").Inc()
			log.Debug().Str("channel", string(s.Channel())).Str("subscriber", subscriberID).Str("alert", a.ID).Msg("channel send completed")
		}(sender)
	}
	wg.Wait()
	return nil
}
