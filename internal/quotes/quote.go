// Package quotes fetches stock quotes, daily bars and fundamentals from
// external market data providers.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound      = errors.New("quote not found")
	ErrNoProviders   = errors.New("no quote providers configured")
	ErrInvalidSymbol = errors.New("invalid ticker symbol")
)

var symbolRE = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z]{1,2})?$`)

// NormalizeSymbol upper-cases and validates a ticker such as "aapl" or "BRK.B".
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRE.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// Provider is one upstream market data source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (Quote, error)
}

type Quote struct {
	Symbol        string
	CurrentPrice  float64
	PreviousClose *float64
	Change        *float64
	ChangePercent *float64
	Volume        *int64
	Fundamentals  Fundamentals
	Daily         DailySeries
	Sources       []string
}

type Fundamentals struct {
	MarketCap     *float64 `json:"market_cap,omitempty"`
	PERatio       *float64 `json:"pe_ratio,omitempty"`
	EPS           *float64 `json:"eps,omitempty"`
	DividendYield *float64 `json:"dividend_yield,omitempty"`
	Beta          *float64 `json:"beta,omitempty"`
}

// HasPrice reports whether the quote carries a usable current price.
func (q Quote) HasPrice() bool {
	return q.CurrentPrice > 0
}

func (q Quote) complete() bool {
	return q.HasPrice() && q.PreviousClose != nil && len(q.Daily) > 0
}

// merge fills fields missing from q with values from other. Fields already
// present in q always win.
func (q *Quote) merge(other Quote, source string) {
	used := false
	if !q.HasPrice() && other.HasPrice() {
		q.CurrentPrice = other.CurrentPrice
		used = true
	}
	used = fillFloat(&q.PreviousClose, other.PreviousClose) || used
	used = fillFloat(&q.Change, other.Change) || used
	used = fillFloat(&q.ChangePercent, other.ChangePercent) || used
	if q.Volume == nil && other.Volume != nil {
		v := *other.Volume
		q.Volume = &v
		used = true
	}
	used = fillFloat(&q.Fundamentals.MarketCap, other.Fundamentals.MarketCap) || used
	used = fillFloat(&q.Fundamentals.PERatio, other.Fundamentals.PERatio) || used
	used = fillFloat(&q.Fundamentals.EPS, other.Fundamentals.EPS) || used
	used = fillFloat(&q.Fundamentals.DividendYield, other.Fundamentals.DividendYield) || used
	used = fillFloat(&q.Fundamentals.Beta, other.Fundamentals.Beta) || used
	if len(q.Daily) == 0 && len(other.Daily) > 0 {
		q.Daily = other.Daily.Clone()
		used = true
	}
	if used {
		q.Sources = append(q.Sources, source)
	}
}

// fillDerived computes change fields from the previous close when a provider
// only reported prices.
func (q *Quote) fillDerived() {
	if !q.HasPrice() || q.PreviousClose == nil || *q.PreviousClose <= 0 {
		return
	}
	if q.Change == nil {
		c := q.CurrentPrice - *q.PreviousClose
		q.Change = &c
	}
	if q.ChangePercent == nil {
		p := (q.CurrentPrice - *q.PreviousClose) / *q.PreviousClose * 100
		q.ChangePercent = &p
	}
}

func fillFloat(dst **float64, src *float64) bool {
	if *dst != nil || src == nil {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func floatPtr(v float64) *float64 {
	return &v
}

// positive returns nil for zero or negative values, which providers use to
// signal missing data.
func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// APIError is returned when a provider answers with a non-200 status.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Message)
}

// Is lets a 404 from any provider match ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}
