// Package prices keeps the last known quote per symbol, guarding writes with
// a plausibility check and refreshing entries older than the cache TTL.
package prices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"stockpicks/internal/quotes"
)

const DefaultTTL = 15 * time.Minute

var (
	ErrNotFound    = errors.New("price not found")
	ErrImplausible = errors.New("implausible price move")
)

type Freshness int

const (
	Fresh Freshness = iota
	Stale
)

func (f Freshness) String() string {
	if f == Stale {
		return "stale"
	}
	return "fresh"
}

// Record is the cached state of one symbol.
type Record struct {
	Symbol        string              `json:"symbol"`
	CurrentPrice  float64             `json:"current_price"`
	PreviousClose *float64            `json:"previous_close,omitempty"`
	Change        *float64            `json:"change,omitempty"`
	ChangePercent *float64            `json:"change_percent,omitempty"`
	Volume        *int64              `json:"volume,omitempty"`
	Fundamentals  quotes.Fundamentals `json:"fundamentals"`
	Daily         quotes.DailySeries  `json:"daily_prices,omitempty"`
	Sources       []string            `json:"sources,omitempty"`
	LastUpdated   time.Time           `json:"last_updated"`
}

func recordFromQuote(q quotes.Quote, at time.Time) Record {
	return Record{
		Symbol:        q.Symbol,
		CurrentPrice:  q.CurrentPrice,
		PreviousClose: q.PreviousClose,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		Fundamentals:  q.Fundamentals,
		Daily:         q.Daily,
		Sources:       q.Sources,
		LastUpdated:   at,
	}
}

// Store persists records. Get returns ErrNotFound for unknown symbols.
type Store interface {
	Get(ctx context.Context, symbol string) (Record, error)
	Put(ctx context.Context, rec Record) error
}

type Cache struct {
	store  Store
	source quotes.Provider
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

func NewCache(store Store, source quotes.Provider, logger *slog.Logger, opts ...CacheOption) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:  store,
		source: source,
		ttl:    DefaultTTL,
		log:    logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) freshness(rec Record) Freshness {
	if c.now().Sub(rec.LastUpdated) < c.ttl {
		return Fresh
	}
	return Stale
}

// Get reads the stored record without contacting any provider.
func (c *Cache) Get(ctx context.Context, symbol string) (Record, Freshness, error) {
	rec, err := c.store.Get(ctx, symbol)
	if err != nil {
		return Record{}, Stale, err
	}
	return rec, c.freshness(rec), nil
}

// Put stores a freshly fetched quote unless it moves more than the allowed
// percentage against the record it replaces. On rejection the previous
// record is returned along with ErrImplausible.
func (c *Cache) Put(ctx context.Context, q quotes.Quote) (Record, error) {
	if !q.HasPrice() {
		return Record{}, fmt.Errorf("put %s: %w", q.Symbol, ErrNotFound)
	}
	prev, err := c.store.Get(ctx, q.Symbol)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Record{}, fmt.Errorf("read %s: %w", q.Symbol, err)
	default:
		if !Plausible(prev.CurrentPrice, q.CurrentPrice) {
			pct, _ := PercentChange(prev.CurrentPrice, q.CurrentPrice)
			c.log.Warn("rejected implausible price update",
				"symbol", q.Symbol,
				"old", prev.CurrentPrice,
				"new", q.CurrentPrice,
				"pct", pct,
			)
			return prev, ErrImplausible
		}
	}

	rec := recordFromQuote(q, c.now().UTC())
	if len(rec.Daily) == 0 && len(prev.Daily) > 0 {
		rec.Daily = prev.Daily
	}
	if err := c.store.Put(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("store %s: %w", q.Symbol, err)
	}
	return rec, nil
}

// Lookup is the read-through path: a fresh record is returned as is,
// otherwise the providers are asked and the answer stored. When fetching
// fails or is rejected, a stale record is returned if one exists.
// Concurrent lookups of the same symbol share one upstream fetch.
func (c *Cache) Lookup(ctx context.Context, symbol string) (Record, Freshness, error) {
	symbol, err := quotes.NormalizeSymbol(symbol)
	if err != nil {
		return Record{}, Stale, err
	}
	rec, fresh, err := c.Get(ctx, symbol)
	if err == nil && fresh == Fresh {
		return rec, Fresh, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Record{}, Stale, err
	}

	out, err := c.shared(ctx, symbol)
	if err != nil {
		return Record{}, Stale, err
	}
	return out.rec, out.freshness, out.err
}

// Refresh forces a provider fetch for symbol regardless of cache age.
func (c *Cache) Refresh(ctx context.Context, symbol string) (Record, error) {
	symbol, err := quotes.NormalizeSymbol(symbol)
	if err != nil {
		return Record{}, err
	}
	out, err := c.shared(ctx, symbol)
	if err != nil {
		return Record{}, err
	}
	if out.fetchErr != nil {
		return out.rec, out.fetchErr
	}
	return out.rec, out.err
}

// shared runs one refresh per symbol for all concurrent callers. The fetch
// is detached from the caller that started it, so one caller going away
// does not fail the others; each caller still stops waiting on its own ctx.
func (c *Cache) shared(ctx context.Context, symbol string) (lookupResult, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(symbol, func() (any, error) {
		return c.refresh(detached, symbol), nil
	})
	select {
	case <-ctx.Done():
		return lookupResult{}, ctx.Err()
	case res := <-ch:
		return res.Val.(lookupResult), nil
	}
}

type lookupResult struct {
	rec       Record
	freshness Freshness
	err       error
	// fetchErr is the upstream failure even when a stale record was served.
	fetchErr error
}

func (c *Cache) refresh(ctx context.Context, symbol string) lookupResult {
	q, fetchErr := c.source.Fetch(ctx, symbol)
	if fetchErr == nil {
		rec, err := c.Put(ctx, q)
		if err == nil {
			return lookupResult{rec: rec, freshness: Fresh}
		}
		if !errors.Is(err, ErrImplausible) {
			return lookupResult{err: err, fetchErr: err}
		}
		fetchErr = err
	} else {
		c.log.Warn("price fetch failed", "symbol", symbol, "err", fetchErr)
	}

	stale, err := c.store.Get(ctx, symbol)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return lookupResult{err: fmt.Errorf("%s: %w", symbol, ErrNotFound), fetchErr: fetchErr}
		}
		return lookupResult{err: err, fetchErr: fetchErr}
	}
	c.log.Info("serving cached price", "symbol", symbol, "last_updated", stale.LastUpdated, "reason", fetchErr)
	return lookupResult{rec: stale, freshness: c.freshness(stale), fetchErr: fetchErr}
}
