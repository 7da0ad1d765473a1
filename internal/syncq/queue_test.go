package syncq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyQueue(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cmds, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestPushDeduplicatesByKey(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	pick := Command{Method: "POST", Path: "/api/picks", Body: map[string]any{"symbol": "AAPL"}, IdempotencyKey: "k1"}
	require.NoError(t, Push(pick))
	require.NoError(t, Push(pick))
	require.NoError(t, Push(Command{Method: "POST", Path: "/api/picks", IdempotencyKey: "k2"}))

	cmds, err := Load()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "AAPL", cmds[0].Body["symbol"])
	assert.False(t, cmds[0].QueuedAt.IsZero())

	require.NoError(t, Save(nil))
	cmds, err = Load()
	require.NoError(t, err)
	assert.Empty(t, cmds)
}
