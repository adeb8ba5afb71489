package model

// Channel identifies one notification delivery mechanism.
type Channel string

const (
	ChannelEmail       Channel = "email"
	ChannelChatWebhook Channel = "chat_webhook"
	ChannelBotChat     Channel = "bot_chat"
	ChannelWebhook     Channel = "webhook"
)

// NotificationSettings is a subscriber's per-channel enablement and endpoint
// configuration plus alert thresholds. The core reads these; persistence is
// owned by the management layer.
type NotificationSettings struct {
	SubscriberID string `json:"subscriberId"`

	EmailEnabled bool   `json:"emailEnabled"`
	EmailAddress string `json:"emailAddress"`

	ChatWebhookEnabled bool   `json:"chatWebhookEnabled"`
	ChatWebhookURL     string `json:"chatWebhookUrl"`

	BotChatEnabled bool   `json:"botChatEnabled"`
	BotChatID      string `json:"botChatId"`

	WebhookEnabled bool   `json:"webhookEnabled"`
	WebhookURL     string `json:"webhookUrl"`

	// Alert thresholds evaluated against fresh metric samples.
	UptimeThreshold       float64 `json:"uptimeThreshold"`       // alert when uptime% drops below
	ResponseTimeThreshold float64 `json:"responseTimeThreshold"` // ms; alert when exceeded
	ErrorRateThreshold    float64 `json:"errorRateThreshold"`
}

// EnabledChannels lists the channels this subscriber has switched on.
func (s *NotificationSettings) EnabledChannels() []Channel {
	out := make([]Channel, 0, 4)
	if s.EmailEnabled {
		out = append(out, ChannelEmail)
	}
	if s.ChatWebhookEnabled {
		out = append(out, ChannelChatWebhook)
	}
	if s.BotChatEnabled {
		out = append(out, ChannelBotChat)
	}
	if s.WebhookEnabled {
		out = append(out, ChannelWebhook)
	}
	return out
}
