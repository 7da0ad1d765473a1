package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitPickSendsTokenAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/picks", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "AAPL", in["symbol"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7,"symbol":"AAPL","submitted_price":101.5}`))
	}))
	defer srv.Close()

	pick, err := NewClient(srv.URL+"/").SubmitPick(context.Background(), "tok", "AAPL", "idem-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), pick.ID)
	require.NotNil(t, pick.SubmittedPrice)
	assert.InDelta(t, 101.5, *pick.SubmittedPrice, 1e-9)
}

func TestAPIErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"pick already submitted for this week"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SubmitPick(context.Background(), "tok", "AAPL", "")
	require.Error(t, err)
	assert.True(t, IsAPIError(err))
	assert.Equal(t, http.StatusConflict, StatusCode(err))
	assert.Contains(t, err.Error(), "pick already submitted")
}

func TestNetworkErrorIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).CurrentWeek(context.Background())
	require.Error(t, err)
	assert.False(t, IsAPIError(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestPicksWeekQuery(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.RequestURI())
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Picks(context.Background(), 0)
	require.NoError(t, err)
	_, err = c.Picks(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/picks", "/api/picks?week=4"}, got)
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadSession()
	require.Error(t, err)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", Username: "ann", ExpiresAt: time.Now().Add(time.Hour)}))
	s, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "ann", s.Username)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", Username: "ann", ExpiresAt: time.Now().Add(-time.Minute)}))
	_, err = LoadSession()
	assert.ErrorContains(t, err, "expired")

	require.NoError(t, ClearSession())
	require.NoError(t, ClearSession())
}
