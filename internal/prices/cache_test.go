package prices

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpicks/internal/quotes"
)

type memStore struct {
	mu   sync.Mutex
	recs map[string]Record
	puts int
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]Record{}}
}

func (m *memStore) Get(_ context.Context, symbol string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[symbol]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Symbol] = rec
	m.puts++
	return nil
}

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  atomic.Int32
	gate   chan struct{}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, symbol string) (quotes.Quote, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return quotes.Quote{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok {
		return quotes.Quote{}, quotes.ErrNotFound
	}
	return quotes.Quote{Symbol: symbol, CurrentPrice: p, Sources: []string{"fake"}}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(store Store, src quotes.Provider, clk *clock, logs *bytes.Buffer) *Cache {
	var logger *slog.Logger
	if logs != nil {
		logger = slog.New(slog.NewTextHandler(logs, nil))
	}
	return NewCache(store, src, logger, WithClock(clk.now))
}

func TestLookupMissFetchesAndStores(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{prices: map[string]float64{"AAPL": 150}}
	clk := &clock{t: time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)}
	c := newTestCache(store, src, clk, nil)

	rec, fresh, err := c.Lookup(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, Fresh, fresh)
	assert.Equal(t, 150.0, rec.CurrentPrice)
	assert.Equal(t, clk.t, rec.LastUpdated)

	stored, err := store.Get(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 150.0, stored.CurrentPrice)
}

func TestLookupFreshHitSkipsProvider(t *testing.T) {
	store := newMemStore()
	clk := &clock{t: time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)}
	store.recs["MSFT"] = Record{Symbol: "MSFT", CurrentPrice: 300, LastUpdated: clk.t.Add(-14 * time.Minute)}
	src := &fakeSource{prices: map[string]float64{"MSFT": 310}}
	c := newTestCache(store, src, clk, nil)

	rec, fresh, err := c.Lookup(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, Fresh, fresh)
	assert.Equal(t, 300.0, rec.CurrentPrice)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestLookupStaleEntryIsRefreshed(t *testing.T) {
	store := newMemStore()
	clk := &clock{t: time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)}
	store.recs["MSFT"] = Record{Symbol: "MSFT", CurrentPrice: 300, LastUpdated: clk.t.Add(-15 * time.Minute)}
	src := &fakeSource{prices: map[string]float64{"MSFT": 310}}
	c := newTestCache(store, src, clk, nil)

	rec, fresh, err := c.Lookup(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, Fresh, fresh)
	assert.Equal(t, 310.0, rec.CurrentPrice)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestLookupFallsBackToStaleOnFetchError(t *testing.T) {
	store := newMemStore()
	clk := &clock{t: time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)}
	store.recs["MSFT"] = Record{Symbol: "MSFT", CurrentPrice: 300, LastUpdated: clk.t.Add(-2 * time.Hour)}
	src := &fakeSource{err: errors.New("upstream down")}
	c := newTestCache(store, src, clk, nil)

	rec, fresh, err := c.Lookup(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, Stale, fresh)
	assert.Equal(t, 300.0, rec.CurrentPrice)
}

func TestLookupNotFoundWithoutCache(t *testing.T) {
	c := newTestCache(newMemStore(), &fakeSource{err: quotes.ErrNotFound}, &clock{t: time.Now()}, nil)
	_, _, err := c.Lookup(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupRejectsImplausibleMove(t *testing.T) {
	store := newMemStore()
	clk := &clock{t: time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)}
	store.recs["XYZ"] = Record{Symbol: "XYZ", CurrentPrice: 10, LastUpdated: clk.t.Add(-time.Hour)}
	src := &fakeSource{prices: map[string]float64{"XYZ": 25}}
	var logs bytes.Buffer
	c := newTestCache(store, src, clk, &logs)

	rec, fresh, err := c.Lookup(context.Background(), "XYZ")
	require.NoError(t, err)
	assert.Equal(t, Stale, fresh)
	assert.Equal(t, 10.0, rec.CurrentPrice)
	assert.Equal(t, 10.0, store.recs["XYZ"].CurrentPrice)
	assert.Contains(t, logs.String(), "rejected implausible price update")
	assert.Contains(t, logs.String(), "symbol=XYZ")
}

func TestPutRejectsImplausibleAndKeepsPrevious(t *testing.T) {
	store := newMemStore()
	clk := &clock{t: time.Date(2024, 1, 8, 15, 0, 0, 0, time.UTC)}
	c := newTestCache(store, &fakeSource{}, clk, nil)

	_, err := c.Put(context.Background(), quotes.Quote{Symbol: "XYZ", CurrentPrice: 10})
	require.NoError(t, err)

	prev, err := c.Put(context.Background(), quotes.Quote{Symbol: "XYZ", CurrentPrice: 25})
	assert.ErrorIs(t, err, ErrImplausible)
	assert.Equal(t, 10.0, prev.CurrentPrice)
	assert.Equal(t, 1, store.puts)

	rec, err := c.Put(context.Background(), quotes.Quote{Symbol: "XYZ", CurrentPrice: 19})
	require.NoError(t, err)
	assert.Equal(t, 19.0, rec.CurrentPrice)
}

func TestPutKeepsDailySeriesWhenQuoteHasNone(t *testing.T) {
	store := newMemStore()
	series := quotes.DailySeries{"2024-01-08": {Open: 9, Close: 10}}
	store.recs["ABC"] = Record{Symbol: "ABC", CurrentPrice: 10, Daily: series}
	c := newTestCache(store, &fakeSource{}, &clock{t: time.Now()}, nil)

	rec, err := c.Put(context.Background(), quotes.Quote{Symbol: "ABC", CurrentPrice: 11})
	require.NoError(t, err)
	assert.Equal(t, series, rec.Daily)
}

func TestLookupCoalescesConcurrentMisses(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{prices: map[string]float64{"AAPL": 150}, gate: make(chan struct{})}
	c := newTestCache(store, src, &clock{t: time.Now()}, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([]float64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, _, err := c.Lookup(context.Background(), "AAPL")
			if err == nil {
				results[i] = rec.CurrentPrice
			}
		}(i)
	}
	// Let the goroutines pile up behind the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, p := range results {
		assert.Equal(t, 150.0, p)
	}
}

func TestRefreshReportsFetchErrorEvenWithStaleEntry(t *testing.T) {
	store := newMemStore()
	store.recs["MSFT"] = Record{Symbol: "MSFT", CurrentPrice: 300}
	c := newTestCache(store, &fakeSource{err: errors.New("down")}, &clock{t: time.Now()}, nil)

	rec, err := c.Refresh(context.Background(), "MSFT")
	require.Error(t, err)
	assert.Equal(t, 300.0, rec.CurrentPrice)
}

// blockingSource honours its ctx while waiting for release.
type blockingSource struct {
	price   float64
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSource) Name() string { return "blocking" }

func (b *blockingSource) Fetch(ctx context.Context, symbol string) (quotes.Quote, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-ctx.Done():
		return quotes.Quote{}, ctx.Err()
	case <-b.release:
	}
	return quotes.Quote{Symbol: symbol, CurrentPrice: b.price, Sources: []string{"blocking"}}, nil
}

func TestLookupSurvivesFirstCallerCancelling(t *testing.T) {
	store := newMemStore()
	src := &blockingSource{price: 150, started: make(chan struct{}), release: make(chan struct{})}
	c := newTestCache(store, src, &clock{t: time.Now()}, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.Lookup(firstCtx, "AAPL")
		firstErr <- err
	}()
	<-src.started

	type result struct {
		rec Record
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, _, err := c.Lookup(context.Background(), "AAPL")
		second <- result{rec, err}
	}()
	// Give the second caller time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(src.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, 150.0, got.rec.CurrentPrice)
	case <-time.After(2 * time.Second):
		t.Fatal("live caller never got a result")
	}
	assert.Equal(t, int32(1), src.calls.Load())

	stored, err := store.Get(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 150.0, stored.CurrentPrice)
}

func TestRefreshSharedFetchFailureReachesEveryCaller(t *testing.T) {
	store := newMemStore()
	src := &fakeSource{err: errors.New("upstream down"), gate: make(chan struct{})}
	c := newTestCache(store, src, &clock{t: time.Now()}, nil)

	const n = 4
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Refresh(context.Background(), "MSFT")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(src.gate)

	for i := 0; i < n; i++ {
		assert.ErrorContains(t, <-errs, "upstream down")
	}
	assert.Equal(t, int32(1), src.calls.Load())
}
