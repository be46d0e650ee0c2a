package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/clinicops/dealsync/internal/config"
)

// discordSession abstracts the discordgo.Session methods we use, enabling
// test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// severityEmbedColors are Discord embed sidebar colors.
var severityEmbedColors = map[string]int{
	"warning": 0xdaa038,
	"error":   0xa30200,
}

// Discord delivers alerts to a Discord channel via the REST API. No gateway
// connection is opened; alerts are fire-and-forget sends.
type Discord struct {
	session   discordSession
	channelID string
}

// NewDiscord returns a Discord notifier for the configured channel.
func NewDiscord(cfg config.DiscordConfig) *Discord {
	// discordgo.New only errors on a malformed token format; a bad token
	// surfaces on the first send instead.
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return &Discord{session: failingSession{err: err}, channelID: cfg.ChannelID}
	}
	return &Discord{session: session, channelID: cfg.ChannelID}
}

// Send implements Notifier.
func (d *Discord) Send(ctx context.Context, alert Alert) error {
	embed := &discordgo.MessageEmbed{
		Title:       alert.Title,
		Description: alert.Body,
		Color:       severityEmbedColors[alert.Severity],
	}
	if alert.Tenant != "" {
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Tenant", Value: alert.Tenant, Inline: true},
		}
	}
	_, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx))
	return err
}

// failingSession reports the construction error on every send.
type failingSession struct {
	err error
}

func (f failingSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return nil, fmt.Errorf("notify: discord session: %w", f.err)
}
