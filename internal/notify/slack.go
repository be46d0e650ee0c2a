package notify

import (
	"context"

	"github.com/clinicops/dealsync/internal/config"
	slackapi "github.com/slack-go/slack"
)

// severityColors are Slack attachment sidebar colors.
var severityColors = map[string]string{
	"warning": "#daa038",
	"error":   "#a30200",
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack delivers alerts to a Slack channel via the Web API.
type Slack struct {
	client  slackClient
	channel string
}

// NewSlack returns a Slack notifier for the configured channel.
func NewSlack(cfg config.SlackConfig) *Slack {
	return &Slack{
		client:  slackapi.New(cfg.Token),
		channel: cfg.Channel,
	}
}

// Send implements Notifier.
func (s *Slack) Send(ctx context.Context, alert Alert) error {
	attachment := slackapi.Attachment{
		Title: alert.Title,
		Text:  alert.Body,
		Color: severityColors[alert.Severity],
	}
	if alert.Tenant != "" {
		attachment.Fields = []slackapi.AttachmentField{
			{Title: "Tenant", Value: alert.Tenant, Short: true},
		}
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionAttachments(attachment))
	return err
}
