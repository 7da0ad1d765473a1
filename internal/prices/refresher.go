package prices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stockpicks/internal/events"
)

// Summary is the outcome of a batch refresh.
type Summary struct {
	Updated  int      `json:"updated"`
	Failed   int      `json:"failed"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// Refresher re-fetches a list of symbols one at a time with a pause between
// calls so upstream rate limits are respected.
type Refresher struct {
	cache  *Cache
	events events.Publisher
	delay  time.Duration
	log    *slog.Logger
}

func NewRefresher(cache *Cache, pub events.Publisher, delay time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &Refresher{cache: cache, events: pub, delay: delay, log: logger}
}

// Refresh never stops on a single symbol failure; it only returns early when
// ctx is cancelled, with the symbols not reached counted as failed.
func (r *Refresher) Refresh(ctx context.Context, symbols []string) Summary {
	out := Summary{Errors: []string{}}
	symbols = dedupe(symbols)
	for i, symbol := range symbols {
		if i > 0 && r.delay > 0 {
			if err := sleepWithContext(ctx, r.delay); err != nil {
				remaining := len(symbols) - i
				out.Failed += remaining
				out.Errors = append(out.Errors, fmt.Sprintf("cancelled with %d symbols left: %v", remaining, err))
				break
			}
		}

		rec, err := r.cache.Refresh(ctx, symbol)
		switch {
		case err == nil:
			out.Updated++
			r.publish(ctx, rec)
		case errors.Is(err, ErrImplausible):
			out.Rejected++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", symbol, err))
		default:
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", symbol, err))
		}
	}
	r.log.Info("price refresh complete",
		"symbols", len(symbols),
		"updated", out.Updated,
		"failed", out.Failed,
		"rejected", out.Rejected,
	)
	return out
}

func (r *Refresher) publish(ctx context.Context, rec Record) {
	err := r.events.PriceUpdated(ctx, events.PriceEvent{
		Symbol:        rec.Symbol,
		Price:         rec.CurrentPrice,
		PreviousClose: rec.PreviousClose,
		ChangePercent: rec.ChangePercent,
		At:            rec.LastUpdated,
	})
	if err != nil {
		r.log.Warn("publish price event failed", "symbol", rec.Symbol, "err", err)
	}
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
