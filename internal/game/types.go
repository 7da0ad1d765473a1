package game

import (
	"time"

	"stockpicks/internal/quotes"
)

type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	HasPassword bool      `json:"has_password"`
	CreatedAt   time.Time `json:"created_at"`
}

type Week struct {
	ID             int64     `json:"id"`
	WeekNumber     int       `json:"week_number"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	WinnerID       *string   `json:"winner_id,omitempty"`
	WinnerUsername *string   `json:"winner_username,omitempty"`
}

// Ended reports whether picks for the week are closed at now.
func (w Week) Ended(now time.Time) bool {
	return w.WinnerID != nil || now.After(w.EndDate)
}

type WeekDetail struct {
	Week
	Picks []Pick `json:"picks"`
}

// Pick is one user's selection for a week. SubmittedPrice never changes
// after insert; EntryPrice is recomputed from the week's daily series.
type Pick struct {
	ID               int64              `json:"id"`
	UserID           string             `json:"user_id"`
	Username         string             `json:"username"`
	WeekID           int64              `json:"week_id"`
	Symbol           string             `json:"symbol"`
	SubmittedPrice   *float64           `json:"submitted_price"`
	EntryPrice       *float64           `json:"entry_price"`
	CurrentValue     *float64           `json:"current_value"`
	WeekReturn       *float64           `json:"week_return"`
	ReturnPercentage *float64           `json:"return_percentage"`
	LastClose        *float64           `json:"last_close,omitempty"`
	LastCloseAt      *time.Time         `json:"last_close_at,omitempty"`
	Daily            quotes.DailySeries `json:"daily_prices,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type SubmitPickInput struct {
	UserID string
	Symbol string
}

type ScoreboardRow struct {
	Rank          int      `json:"rank"`
	UserID        string   `json:"user_id"`
	Username      string   `json:"username"`
	Wins          int      `json:"wins"`
	Picks         int      `json:"picks"`
	AverageReturn *float64 `json:"average_return"`
	BestReturn    *float64 `json:"best_return"`
}

type SymbolCount struct {
	Symbol string `json:"symbol"`
	Count  int    `json:"count"`
}

type BestPick struct {
	Username         string  `json:"username"`
	Symbol           string  `json:"symbol"`
	WeekNumber       int     `json:"week_number"`
	ReturnPercentage float64 `json:"return_percentage"`
}

type Stats struct {
	TotalUsers   int           `json:"total_users"`
	TotalWeeks   int           `json:"total_weeks"`
	DecidedWeeks int           `json:"decided_weeks"`
	TotalPicks   int           `json:"total_picks"`
	BestPick     *BestPick     `json:"best_pick,omitempty"`
	TopSymbols   []SymbolCount `json:"top_symbols"`
}

// WinnerSummary is the outcome of a batch winner calculation.
type WinnerSummary struct {
	Decided int      `json:"decided"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// RecomputeSummary is the outcome of refreshing one week's picks.
type RecomputeSummary struct {
	WeekID   int64    `json:"week_id"`
	Updated  int      `json:"updated"`
	Failed   int      `json:"failed"`
	Rejected int      `json:"rejected"`
	Picks    int      `json:"picks_recomputed"`
	Errors   []string `json:"errors"`
}
