// Package notify delivers operator alerts to chat platforms when a move
// reaches its retry ceiling or a tenant's credential needs re-authorization.
// End users never see these; the board only shows the status indicator.
package notify

import (
	"context"

	"github.com/clinicops/dealsync/internal/config"
	"go.uber.org/zap"
)

// Alert is one operator-facing event.
type Alert struct {
	Title    string
	Body     string
	Severity string // "warning" or "error"
	Tenant   string
}

// Notifier delivers alerts to a single chat platform.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// Noop is a Notifier that discards alerts. Used when no platform is
// configured.
type Noop struct{}

// Send implements Notifier.
func (Noop) Send(ctx context.Context, alert Alert) error { return nil }

// Fanout delivers each alert to every configured platform, logging rather
// than propagating delivery failures: alerting must never break the sync
// path it reports on.
type Fanout struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewFanout builds a Fanout from configuration. With nothing configured the
// fanout is empty and Send is a no-op.
func NewFanout(cfg config.NotifyConfig, logger *zap.Logger) *Fanout {
	f := &Fanout{logger: logger}
	if cfg.Slack.Token != "" && cfg.Slack.Channel != "" {
		f.notifiers = append(f.notifiers, NewSlack(cfg.Slack))
	}
	if cfg.Discord.Token != "" && cfg.Discord.ChannelID != "" {
		f.notifiers = append(f.notifiers, NewDiscord(cfg.Discord))
	}
	return f
}

// Send implements Notifier.
func (f *Fanout) Send(ctx context.Context, alert Alert) error {
	for _, n := range f.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			f.logger.Error("notify_delivery_failed",
				zap.String("title", alert.Title),
				zap.Error(err),
			)
		}
	}
	return nil
}
