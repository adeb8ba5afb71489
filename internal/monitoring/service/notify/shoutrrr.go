package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainops/watchtower/internal/monitoring/model"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrSender delivers over one shoutrrr-backed channel (email, chat
// webhook, bot chat). The operator configures a service URL template with
// a single %s placeholder filled from the subscriber's settings.
type ShoutrrrSender struct {
	channel     model.Channel
	urlTemplate string
}

func NewEmailSender(urlTemplate string) *ShoutrrrSender {
	return &ShoutrrrSender{channel: model.ChannelEmail, urlTemplate: urlTemplate}
}

func NewChatWebhookSender(urlTemplate string) *ShoutrrrSender {
	return &ShoutrrrSender{channel: model.ChannelChatWebhook, urlTemplate: urlTemplate}
}

func NewBotChatSender(urlTemplate string) *ShoutrrrSender {
	return &ShoutrrrSender{channel: model.ChannelBotChat, urlTemplate: urlTemplate}
}

func (s *ShoutrrrSender) Channel() model.Channel { return s.channel }

func (s *ShoutrrrSender) destination(settings *model.NotificationSettings) string {
	switch s.channel {
	case model.ChannelEmail:
		return settings.EmailAddress
	case model.ChannelChatWebhook:
		return settings.ChatWebhookURL
	case model.ChannelBotChat:
		return settings.BotChatID
	default:
		return ""
	}
}

func (s *ShoutrrrSender) Send(_ context.Context, settings *model.NotificationSettings, p *Payload) error {
	if s.urlTemplate == "" {
		return fmt.Errorf("%s channel is not configured", s.channel)
	}
	dest := s.destination(settings)
	if dest == "" {
		return fmt.Errorf("%s destination missing for subscriber %s", s.channel, settings.SubscriberID)
	}

	sender, err := shoutrrr.CreateSender(fmt.Sprintf(s.urlTemplate, dest))
	if err != nil {
		return fmt.Errorf("build %s sender: %w", s.channel, err)
	}

	title := fmt.Sprintf("[%s] %s alert for node %s", p.Severity, p.Type, p.NodeID)
	params := &types.Params{"title": title}
	if errs := sender.Send(p.Message, params); len(errs) > 0 {
		return fmt.Errorf("send %s notification: %w", s.channel, errors.Join(errs...))
	}
	return nil
}
