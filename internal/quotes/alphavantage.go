package quotes

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

const AlphaVantageBaseURL = "https://www.alphavantage.co"

var errAlphaVantageThrottled = errors.New("alphavantage: request throttled")

// AlphaVantage is the first fallback provider.
type AlphaVantage struct {
	apiKey string
	client *httpClient
	log    *slog.Logger
}

type avGlobalQuote struct {
	Quote struct {
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		PreviousClose string `json:"08. previous close"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

type avDaily struct {
	Series map[string]struct {
		Open  string `json:"1. open"`
		Close string `json:"4. close"`
	} `json:"Time Series (Daily)"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

type avOverview struct {
	MarketCap     string `json:"MarketCapitalization"`
	PERatio       string `json:"PERatio"`
	EPS           string `json:"EPS"`
	DividendYield string `json:"DividendYield"`
	Beta          string `json:"Beta"`
}

func NewAlphaVantage(apiKey string, logger *slog.Logger, opts ...Option) *AlphaVantage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlphaVantage{
		apiKey: apiKey,
		client: newHTTPClient("alphavantage", AlphaVantageBaseURL, opts...),
		log:    logger,
	}
}

func (a *AlphaVantage) Name() string {
	return "alphavantage"
}

func (a *AlphaVantage) Fetch(ctx context.Context, symbol string) (Quote, error) {
	var gq avGlobalQuote
	if err := a.client.getJSON(ctx, "/query", a.params("GLOBAL_QUOTE", symbol), &gq); err != nil {
		return Quote{}, err
	}
	if gq.Note != "" || gq.Information != "" {
		return Quote{}, errAlphaVantageThrottled
	}
	price, ok := parseNumber(gq.Quote.Price)
	if !ok || price <= 0 {
		return Quote{}, ErrNotFound
	}
	q := Quote{
		Symbol:        symbol,
		CurrentPrice:  price,
		PreviousClose: numberPtr(gq.Quote.PreviousClose),
		Change:        numberPtr(gq.Quote.Change),
		ChangePercent: numberPtr(strings.TrimSuffix(gq.Quote.ChangePercent, "%")),
	}
	if v, ok := parseNumber(gq.Quote.Volume); ok {
		vol := int64(v)
		q.Volume = &vol
	}

	daily, err := a.daily(ctx, symbol)
	if err != nil {
		a.log.Debug("alphavantage daily series unavailable", "symbol", symbol, "err", err)
	}
	q.Daily = daily

	fundamentals, err := a.overview(ctx, symbol)
	if err != nil {
		a.log.Debug("alphavantage overview unavailable", "symbol", symbol, "err", err)
	}
	q.Fundamentals = fundamentals
	return q, nil
}

func (a *AlphaVantage) daily(ctx context.Context, symbol string) (DailySeries, error) {
	var d avDaily
	if err := a.client.getJSON(ctx, "/query", a.params("TIME_SERIES_DAILY", symbol), &d); err != nil {
		return nil, err
	}
	if d.Note != "" || d.Information != "" {
		return nil, errAlphaVantageThrottled
	}
	series := DailySeries{}
	for date, bar := range d.Series {
		open, okOpen := parseNumber(bar.Open)
		closing, okClose := parseNumber(bar.Close)
		if !okOpen || !okClose {
			continue
		}
		series[date] = DayPrice{Open: open, Close: closing}
	}
	return series.Latest(5), nil
}

func (a *AlphaVantage) overview(ctx context.Context, symbol string) (Fundamentals, error) {
	var o avOverview
	if err := a.client.getJSON(ctx, "/query", a.params("OVERVIEW", symbol), &o); err != nil {
		return Fundamentals{}, err
	}
	return Fundamentals{
		MarketCap:     numberPtr(o.MarketCap),
		PERatio:       numberPtr(o.PERatio),
		EPS:           numberPtr(o.EPS),
		DividendYield: numberPtr(o.DividendYield),
		Beta:          numberPtr(o.Beta),
	}, nil
}

func (a *AlphaVantage) params(function, symbol string) url.Values {
	return url.Values{
		"function": {function},
		"symbol":   {symbol},
		"apikey":   {a.apiKey},
	}
}

// parseNumber accepts provider strings such as "1,234.50" and rejects the
// placeholders "None", "-" and "".
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	switch s {
	case "", "-", "None", "N/A":
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func numberPtr(s string) *float64 {
	v, ok := parseNumber(s)
	if !ok {
		return nil
	}
	return &v
}
