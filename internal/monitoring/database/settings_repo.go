package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chainops/watchtower/internal/monitoring/model"
)

// SettingsRepo reads subscriber notification settings. Write access lives
// in the management layer; the core only consumes them during fanout.
type SettingsRepo struct {
	DB *Database
}

func NewSettingsRepo(db *Database) *SettingsRepo { return &SettingsRepo{DB: db} }

// GetBySubscriber returns nil without error when the subscriber has no
// settings row; a missing-settings subscriber is not a failure.
func (r *SettingsRepo) GetBySubscriber(ctx context.Context, subscriberID string) (*model.NotificationSettings, error) {
	const q = `SELECT subscriber_id,
	email_enabled, email_address,
	chat_webhook_enabled, chat_webhook_url,
	bot_chat_enabled, bot_chat_id,
	webhook_enabled, webhook_url,
	uptime_threshold, response_time_threshold, error_rate_threshold
FROM notification_settings WHERE subscriber_id = $1`
	var s model.NotificationSettings
	err := r.DB.QueryRowContext(ctx, q, subscriberID).Scan(&s.SubscriberID,
		&s.EmailEnabled, &s.EmailAddress,
		&s.ChatWebhookEnabled, &s.ChatWebhookURL,
		&s.BotChatEnabled, &s.BotChatID,
		&s.WebhookEnabled, &s.WebhookURL,
		&s.UptimeThreshold, &s.ResponseTimeThreshold, &s.ErrorRateThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	return &s, nil
}
