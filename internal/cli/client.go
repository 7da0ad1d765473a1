package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockpicks/internal/auth"
	"stockpicks/internal/game"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

// IsAPIError reports whether err came back from the server rather than the network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, username, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": username,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, username, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/api/auth/login", "", map[string]any{
		"username": username,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.jsonRequest(ctx, http.MethodPost, "/api/auth/logout", accessToken, nil, nil, "")
}

func (c *Client) Me(ctx context.Context, accessToken string) (game.User, error) {
	var out game.User
	err := c.jsonRequest(ctx, http.MethodGet, "/api/auth/me", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CurrentWeek(ctx context.Context) (game.Week, error) {
	var out game.Week
	err := c.jsonRequest(ctx, http.MethodGet, "/api/weeks/current", "", nil, &out, "")
	return out, err
}

func (c *Client) Weeks(ctx context.Context) ([]game.Week, error) {
	var out []game.Week
	err := c.jsonRequest(ctx, http.MethodGet, "/api/weeks", "", nil, &out, "")
	return out, err
}

func (c *Client) Week(ctx context.Context, weekID int64) (game.WeekDetail, error) {
	var out game.WeekDetail
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/api/weeks/%d", weekID), "", nil, &out, "")
	return out, err
}

// Picks lists a week's picks; weekID 0 means the current week.
func (c *Client) Picks(ctx context.Context, weekID int64) ([]game.Pick, error) {
	var out []game.Pick
	err := c.jsonRequest(ctx, http.MethodGet, "/api/picks"+weekParam(weekID), "", nil, &out, "")
	return out, err
}

func (c *Client) SubmitPick(ctx context.Context, accessToken, symbol, idem string) (game.Pick, error) {
	var out game.Pick
	err := c.jsonRequest(ctx, http.MethodPost, "/api/picks", accessToken, map[string]any{
		"symbol": symbol,
	}, &out, idem)
	return out, err
}

func (c *Client) Stock(ctx context.Context, symbol string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/api/stocks/"+url.PathEscape(symbol), "", nil, &out, "")
	return out, err
}

func (c *Client) Scoreboard(ctx context.Context) ([]game.ScoreboardRow, error) {
	var out []game.ScoreboardRow
	err := c.jsonRequest(ctx, http.MethodGet, "/api/scoreboard", "", nil, &out, "")
	return out, err
}

func (c *Client) Stats(ctx context.Context) (game.Stats, error) {
	var out game.Stats
	err := c.jsonRequest(ctx, http.MethodGet, "/api/stats", "", nil, &out, "")
	return out, err
}

func (c *Client) UpdatePrices(ctx context.Context, accessToken string, weekID int64) (game.RecomputeSummary, error) {
	var out game.RecomputeSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/api/update-prices"+weekParam(weekID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CalculateWinners(ctx context.Context, accessToken string) (game.WinnerSummary, error) {
	var out game.WinnerSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/api/weeks/calculate-winners", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) DecideWinner(ctx context.Context, accessToken string, weekID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/api/weeks/%d/winner", weekID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, accessToken, body, &out, idem)
	return out, err
}

func weekParam(weekID int64) string {
	if weekID <= 0 {
		return ""
	}
	return fmt.Sprintf("?week=%d", weekID)
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
