package quotes

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

const FinnhubBaseURL = "https://finnhub.io/api/v1"

// Finnhub is the primary provider: real-time quote, daily candles and basic
// financials.
type Finnhub struct {
	apiKey string
	client *httpClient
	log    *slog.Logger
	now    func() time.Time
}

type finnhubQuote struct {
	Current       float64  `json:"c"`
	Change        *float64 `json:"d"`
	ChangePercent *float64 `json:"dp"`
	PreviousClose float64  `json:"pc"`
}

type finnhubCandles struct {
	Status string    `json:"s"`
	Open   []float64 `json:"o"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
	Time   []int64   `json:"t"`
}

type finnhubMetrics struct {
	Metric struct {
		MarketCap     *float64 `json:"marketCapitalization"`
		PE            *float64 `json:"peBasicExclExtraTTM"`
		EPS           *float64 `json:"epsTTM"`
		DividendYield *float64 `json:"dividendYieldIndicatedAnnual"`
		Beta          *float64 `json:"beta"`
	} `json:"metric"`
}

func NewFinnhub(apiKey string, logger *slog.Logger, opts ...Option) *Finnhub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finnhub{
		apiKey: apiKey,
		client: newHTTPClient("finnhub", FinnhubBaseURL, opts...),
		log:    logger,
		now:    time.Now,
	}
}

func (f *Finnhub) Name() string {
	return "finnhub"
}

func (f *Finnhub) Fetch(ctx context.Context, symbol string) (Quote, error) {
	var fq finnhubQuote
	if err := f.client.getJSON(ctx, "/quote", f.params(symbol), &fq); err != nil {
		return Quote{}, err
	}
	// Finnhub answers unknown symbols with an all-zero body.
	if fq.Current <= 0 {
		return Quote{}, ErrNotFound
	}
	q := Quote{
		Symbol:        symbol,
		CurrentPrice:  fq.Current,
		PreviousClose: positive(fq.PreviousClose),
		Change:        fq.Change,
		ChangePercent: fq.ChangePercent,
	}

	daily, volume, err := f.candles(ctx, symbol)
	if err != nil {
		f.log.Debug("finnhub candles unavailable", "symbol", symbol, "err", err)
	}
	q.Daily = daily
	q.Volume = volume

	fundamentals, err := f.metrics(ctx, symbol)
	if err != nil {
		f.log.Debug("finnhub metrics unavailable", "symbol", symbol, "err", err)
	}
	q.Fundamentals = fundamentals
	return q, nil
}

func (f *Finnhub) candles(ctx context.Context, symbol string) (DailySeries, *int64, error) {
	to := f.now().UTC()
	from := to.AddDate(0, 0, -10)
	params := f.params(symbol)
	params.Set("resolution", "D")
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))

	var fc finnhubCandles
	if err := f.client.getJSON(ctx, "/stock/candle", params, &fc); err != nil {
		return nil, nil, err
	}
	if fc.Status != "ok" {
		return nil, nil, nil
	}
	n := min(len(fc.Time), len(fc.Open), len(fc.Close))
	series := DailySeries{}
	for i := 0; i < n; i++ {
		date := time.Unix(fc.Time[i], 0).UTC().Format(DateLayout)
		series[date] = DayPrice{Open: fc.Open[i], Close: fc.Close[i]}
	}
	var volume *int64
	if n > 0 && len(fc.Volume) >= n {
		v := int64(fc.Volume[n-1])
		volume = &v
	}
	return series.Latest(5), volume, nil
}

func (f *Finnhub) metrics(ctx context.Context, symbol string) (Fundamentals, error) {
	params := f.params(symbol)
	params.Set("metric", "all")
	var fm finnhubMetrics
	if err := f.client.getJSON(ctx, "/stock/metric", params, &fm); err != nil {
		return Fundamentals{}, err
	}
	out := Fundamentals{
		PERatio:       fm.Metric.PE,
		EPS:           fm.Metric.EPS,
		DividendYield: fm.Metric.DividendYield,
		Beta:          fm.Metric.Beta,
	}
	// Reported in millions.
	if fm.Metric.MarketCap != nil {
		out.MarketCap = floatPtr(*fm.Metric.MarketCap * 1_000_000)
	}
	return out, nil
}

func (f *Finnhub) params(symbol string) url.Values {
	return url.Values{
		"symbol": {symbol},
		"token":  {f.apiKey},
	}
}
