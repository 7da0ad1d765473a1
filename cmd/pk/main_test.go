package main

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cl "stockpicks/internal/cli"
	"stockpicks/internal/syncq"
)

type scriptedReplayer map[string]error

func (s scriptedReplayer) Do(_ context.Context, _, _, _ string, _ map[string]any, idem string) (map[string]any, error) {
	return nil, s[idem]
}

func TestReplayQueueKeepsOnlyNetworkFailures(t *testing.T) {
	queue := []syncq.Command{
		{Method: http.MethodPost, Path: "/api/picks", IdempotencyKey: "ok"},
		{Method: http.MethodPost, Path: "/api/picks", IdempotencyKey: "dup"},
		{Method: http.MethodPost, Path: "/api/picks", IdempotencyKey: "closed"},
		{Method: http.MethodPost, Path: "/api/picks", IdempotencyKey: "down"},
		{Method: http.MethodPost, Path: "/api/picks", IdempotencyKey: "5xx"},
	}
	client := scriptedReplayer{
		"dup":    &cl.APIError{StatusCode: http.StatusConflict, Message: "pick already submitted"},
		"closed": &cl.APIError{StatusCode: http.StatusBadRequest, Message: "invalid symbol"},
		"down":   errors.New("dial tcp: connection refused"),
		"5xx":    &cl.APIError{StatusCode: http.StatusBadGateway, Message: "bad gateway"},
	}

	remaining, replayed, dropped := replayQueue(context.Background(), client, "tok", queue)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 2, dropped)
	require.Len(t, remaining, 2)
	assert.Equal(t, "down", remaining[0].IdempotencyKey)
	assert.Equal(t, "5xx", remaining[1].IdempotencyKey)
}

func TestQueueOnNetworkError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	apiErr := &cl.APIError{StatusCode: http.StatusConflict, Message: "pick already submitted"}
	assert.Same(t, error(apiErr), queueOnNetworkError(apiErr, syncq.Command{IdempotencyKey: "a"}))

	require.NoError(t, queueOnNetworkError(errors.New("no route to host"), syncq.Command{
		Method: http.MethodPost, Path: "/api/picks", Body: map[string]any{"symbol": "NVDA"}, IdempotencyKey: "b",
	}))
	queued, err := syncq.Load()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "b", queued[0].IdempotencyKey)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "999", comma(999))
	assert.Equal(t, "1,234,567", comma(1234567))
	assert.Equal(t, "-12,000", comma(-12000))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "-", formatPrice(nil))
	v := 12.345
	assert.Equal(t, "12.35", formatPrice(&v))
}
