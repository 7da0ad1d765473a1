package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensIssueAndVerify(t *testing.T) {
	tokens := NewTokens("0123456789abcdef", time.Hour)
	sess, err := tokens.Issue("user-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", sess.TokenType)
	assert.Equal(t, "alice", sess.Username)

	userID, err := tokens.Verify(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestTokensRejectExpired(t *testing.T) {
	tokens := NewTokens("0123456789abcdef", time.Minute)
	base := time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return base }
	sess, err := tokens.Issue("user-1", "alice")
	require.NoError(t, err)

	tokens.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = tokens.Verify(sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensRejectForeignSecret(t *testing.T) {
	sess, err := NewTokens("0123456789abcdef", time.Hour).Issue("user-1", "alice")
	require.NoError(t, err)

	_, err = NewTokens("fedcba9876543210", time.Hour).Verify(sess.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokens("0123456789abcdef", time.Hour).Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswords(t *testing.T) {
	_, err := HashPassword("123")
	assert.ErrorIs(t, err, ErrWeakPassword)

	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "hunter22"))
	assert.ErrorIs(t, CheckPassword(hash, "hunter23"), ErrInvalidPassword)
	assert.ErrorIs(t, CheckPassword("", "hunter22"), ErrInvalidPassword)
}
