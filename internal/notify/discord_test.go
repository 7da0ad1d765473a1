package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpicks/internal/events"
)

type fakeWebhook struct {
	id, token string
	params    *discordgo.WebhookParams
	err       error
}

func (f *fakeWebhook) WebhookExecute(webhookID, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = webhookID, token, data
	return nil, f.err
}

func TestNewDiscordDisabledWithoutCredentials(t *testing.T) {
	d, err := NewDiscord("", "", nil)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, d.AnnounceWinner(context.Background(), events.WinnerEvent{}))
}

func TestAnnounceWinner(t *testing.T) {
	hook := &fakeWebhook{}
	d := &Discord{session: hook, webhookID: "123", token: "tok", log: discardLogger()}

	err := d.AnnounceWinner(context.Background(), events.WinnerEvent{
		WeekNumber: 3, Username: "bob", Symbol: "NVDA", ReturnPercentage: 12.345,
	})
	require.NoError(t, err)
	assert.Equal(t, "123", hook.id)
	assert.Equal(t, "tok", hook.token)
	require.Len(t, hook.params.Embeds, 1)
	assert.Equal(t, "Week 3 winner", hook.params.Embeds[0].Title)
	assert.Equal(t, "**bob** wins week 3 with **NVDA** at +12.35%", hook.params.Embeds[0].Description)
}

func TestAnnounceWinnerWrapsErrors(t *testing.T) {
	d := &Discord{session: &fakeWebhook{err: errors.New("429")}, log: discardLogger()}
	err := d.AnnounceWinner(context.Background(), events.WinnerEvent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord webhook")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
