// Package notify announces weekly winners on a Discord channel webhook.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"stockpicks/internal/events"
)

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Discord struct {
	session   webhookExecutor
	webhookID string
	token     string
	log       *slog.Logger
}

// NewDiscord returns nil when the webhook is not configured.
func NewDiscord(webhookID, token string, logger *slog.Logger) (*Discord, error) {
	if webhookID == "" || token == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Webhook execution is authorized by the token in the URL, no bot login.
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, webhookID: webhookID, token: token, log: logger}, nil
}

func (d *Discord) AnnounceWinner(ctx context.Context, e events.WinnerEvent) error {
	if d == nil {
		return nil
	}
	params := &discordgo.WebhookParams{
		Username: "Stock Picks",
		Embeds: []*discordgo.MessageEmbed{{
			Title:       fmt.Sprintf("Week %d winner", e.WeekNumber),
			Description: FormatWinner(e),
			Color:       0x2ecc71,
		}},
	}
	if _, err := d.session.WebhookExecute(d.webhookID, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	d.log.Info("winner announced", "week_id", e.WeekID, "user", e.Username)
	return nil
}

func FormatWinner(e events.WinnerEvent) string {
	return fmt.Sprintf("**%s** wins week %d with **%s** at %+.2f%%", e.Username, e.WeekNumber, e.Symbol, e.ReturnPercentage)
}
