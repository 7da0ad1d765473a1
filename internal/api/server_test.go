package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpicks/internal/auth"
	"stockpicks/internal/config"
	"stockpicks/internal/game"
	"stockpicks/internal/prices"
)

type fakeGame struct {
	picks     map[string]game.Pick
	submitErr error
	refreshed int64
	weekErr   error
}

func newFakeGame() *fakeGame {
	return &fakeGame{picks: map[string]game.Pick{}}
}

func (f *fakeGame) Signup(_ context.Context, username, _ string) (auth.Session, error) {
	if username == "taken" {
		return auth.Session{}, game.ErrUsernameTaken
	}
	return auth.Session{AccessToken: "good", TokenType: "Bearer", UserID: "u1", Username: username}, nil
}

func (f *fakeGame) Login(_ context.Context, _, password string) (auth.Session, error) {
	if password != "hunter22" {
		return auth.Session{}, game.ErrInvalidCredentials
	}
	return auth.Session{AccessToken: "good", UserID: "u1"}, nil
}

func (f *fakeGame) Logout(context.Context, string) error { return nil }

func (f *fakeGame) Authenticate(_ context.Context, token string) (game.User, error) {
	if token != "good" {
		return game.User{}, game.ErrUnauthorized
	}
	return game.User{ID: "u1", Username: "alice"}, nil
}

func (f *fakeGame) ListUsers(context.Context) ([]game.User, error) {
	return []game.User{{ID: "u1", Username: "alice"}}, nil
}

const aliceID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

func (f *fakeGame) GetUser(_ context.Context, userID string) (game.User, error) {
	if userID != aliceID {
		return game.User{}, game.ErrUserNotFound
	}
	return game.User{ID: aliceID, Username: "alice"}, nil
}

func (f *fakeGame) UserPicks(_ context.Context, userID string) ([]game.Pick, error) {
	out := []game.Pick{}
	for _, p := range f.picks {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeGame) CurrentWeek(context.Context) (game.Week, error) {
	if f.weekErr != nil {
		return game.Week{}, f.weekErr
	}
	return game.Week{ID: 7, WeekNumber: 7}, nil
}

func (f *fakeGame) ListWeeks(context.Context) ([]game.Week, error) { return []game.Week{{ID: 7}}, nil }

func (f *fakeGame) WeekDetail(_ context.Context, weekID int64) (game.WeekDetail, error) {
	if weekID != 7 {
		return game.WeekDetail{}, game.ErrWeekNotFound
	}
	return game.WeekDetail{Week: game.Week{ID: 7}, Picks: []game.Pick{}}, nil
}

func (f *fakeGame) UpdateWeekDates(_ context.Context, weekID int64, start, end time.Time) (game.Week, error) {
	return game.Week{ID: weekID, StartDate: start, EndDate: end}, nil
}

func (f *fakeGame) DecideWeekWinner(_ context.Context, weekID int64) (game.Pick, bool, error) {
	if weekID == 8 {
		return game.Pick{}, false, game.ErrWeekInProgress
	}
	return game.Pick{UserID: "u1", Symbol: "AAPL"}, true, nil
}

func (f *fakeGame) CalculateAllWinners(context.Context) (game.WinnerSummary, error) {
	return game.WinnerSummary{Decided: 2, Skipped: 1, Errors: []string{}}, nil
}

func (f *fakeGame) WeekPicks(_ context.Context, weekID int64) ([]game.Pick, error) {
	out := []game.Pick{}
	for _, p := range f.picks {
		if p.WeekID == weekID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeGame) SubmitPick(_ context.Context, in game.SubmitPickInput) (game.Pick, error) {
	if f.submitErr != nil {
		return game.Pick{}, f.submitErr
	}
	if _, ok := f.picks[in.UserID]; ok {
		return game.Pick{}, game.ErrPickExists
	}
	price := 100.0
	p := game.Pick{ID: 1, UserID: in.UserID, WeekID: 7, Symbol: strings.ToUpper(in.Symbol), SubmittedPrice: &price}
	f.picks[in.UserID] = p
	return p, nil
}

func (f *fakeGame) RefreshWeekPrices(_ context.Context, weekID int64) (game.RecomputeSummary, error) {
	f.refreshed = weekID
	return game.RecomputeSummary{WeekID: weekID, Updated: 1, Errors: []string{}}, nil
}

func (f *fakeGame) Scoreboard(context.Context) ([]game.ScoreboardRow, error) {
	return []game.ScoreboardRow{{Rank: 1, Username: "alice", Wins: 2}}, nil
}

func (f *fakeGame) Stats(context.Context) (game.Stats, error) {
	return game.Stats{}, errors.New("pq: relation does not exist")
}

type fakePrices struct{}

func (fakePrices) Lookup(_ context.Context, symbol string) (prices.Record, prices.Freshness, error) {
	switch symbol {
	case "AAPL":
		return prices.Record{Symbol: "AAPL", CurrentPrice: 150}, prices.Fresh, nil
	case "XYZ":
		return prices.Record{Symbol: "XYZ", CurrentPrice: 10}, prices.Stale, nil
	}
	return prices.Record{}, prices.Stale, prices.ErrNotFound
}

func newTestServer(g *fakeGame) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(config.APIConfig{}, logger, g, fakePrices{}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthzAndCORS(t *testing.T) {
	h := newTestServer(newFakeGame())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://picks.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest(http.MethodOptions, "/api/picks", nil)
	pre.Header.Set("Origin", "https://picks.example")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestSignupValidation(t *testing.T) {
	h := newTestServer(newFakeGame())

	rec := do(t, h, http.MethodPost, "/api/auth/signup", `{"username":"al","password":"hunter22"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "username must be at least 3")

	rec = do(t, h, http.MethodPost, "/api/auth/signup", `{"username":"alice","password":"hunter22","admin":true}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auth/signup", `{"username":"taken","password":"hunter22"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auth/signup", `{"username":"alice","password":"hunter22"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "good", decodeBody(t, rec)["access_token"])
}

func TestLogin(t *testing.T) {
	h := newTestServer(newFakeGame())
	rec := do(t, h, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong-pw"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"hunter22"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitPickRequiresSession(t *testing.T) {
	h := newTestServer(newFakeGame())

	rec := do(t, h, http.MethodPost, "/api/picks", `{"symbol":"aapl"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/picks", `{"symbol":"aapl"}`, "expired")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/picks", `{"symbol":"aapl"}`, "good")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "AAPL", decodeBody(t, rec)["symbol"])

	rec = do(t, h, http.MethodPost, "/api/picks", `{"symbol":"msft"}`, "good")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/picks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var picks []game.Pick
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &picks))
	assert.Len(t, picks, 1)
}

func TestDomainErrorMapping(t *testing.T) {
	g := newFakeGame()
	h := newTestServer(g)

	g.submitErr = game.ErrWeekClosed
	rec := do(t, h, http.MethodPost, "/api/picks", `{"symbol":"aapl"}`, "good")
	assert.Equal(t, http.StatusConflict, rec.Code)

	g.submitErr = game.ErrInvalidSymbol
	rec = do(t, h, http.MethodPost, "/api/picks", `{"symbol":"a1"}`, "good")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/weeks/99", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/weeks/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/weeks/8/winner", "", "good")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unexpected errors never leak internals.
	rec = do(t, h, http.MethodGet, "/api/stats", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decodeBody(t, rec)["error"])
}

func TestStockLookup(t *testing.T) {
	h := newTestServer(newFakeGame())

	rec := do(t, h, http.MethodGet, "/api/stocks/AAPL", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 150.0, body["current_price"])
	assert.Equal(t, "fresh", body["freshness"])
	assert.Equal(t, false, body["stale"])

	rec = do(t, h, http.MethodGet, "/api/stocks/XYZ", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["stale"])

	rec = do(t, h, http.MethodGet, "/api/stocks/NOPE", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchEndpoints(t *testing.T) {
	g := newFakeGame()
	h := newTestServer(g)

	rec := do(t, h, http.MethodPost, "/api/update-prices?week=3", "", "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), g.refreshed)
	assert.Equal(t, 1.0, decodeBody(t, rec)["updated"])

	rec = do(t, h, http.MethodPost, "/api/update-prices", "", "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), g.refreshed, "defaults to the current week")

	rec = do(t, h, http.MethodPost, "/api/update-prices?week=x", "", "good")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/weeks/calculate-winners", "", "good")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, 2.0, body["decided"])
	assert.Equal(t, 1.0, body["skipped"])
}

func TestUpdateWeekValidatesRange(t *testing.T) {
	h := newTestServer(newFakeGame())

	rec := do(t, h, http.MethodPut, "/api/weeks/7",
		`{"start_date":"2024-01-12T00:00:00Z","end_date":"2024-01-08T00:00:00Z"}`, "good")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "must be after")

	rec = do(t, h, http.MethodPut, "/api/weeks/7",
		`{"start_date":"2024-01-08T05:00:00Z","end_date":"2024-01-13T04:59:59Z"}`, "good")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserProfile(t *testing.T) {
	g := newFakeGame()
	g.picks["a"] = game.Pick{ID: 1, UserID: aliceID, Username: "alice", WeekID: 7, Symbol: "AAPL"}
	h := newTestServer(g)

	rec := do(t, h, http.MethodGet, "/api/users/"+aliceID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["user"].(map[string]any)["username"])
	assert.Len(t, body["picks"], 1)

	rec = do(t, h, http.MethodGet, "/api/users/not-a-uuid", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/users/00000000-0000-0000-0000-000000000001", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
