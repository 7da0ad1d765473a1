package prices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockpicks/internal/quotes"
)

// PGStore keeps records in the stock_prices table.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, symbol string) (Record, error) {
	var (
		rec     Record
		daily   *string
		sources string
	)
	err := s.db.QueryRow(ctx, `
		SELECT symbol, current_price, previous_close, change, change_percent, volume,
		       market_cap, pe_ratio, eps, dividend_yield, beta,
		       daily_prices, sources, last_updated
		FROM stock_prices
		WHERE symbol = $1
	`, symbol).Scan(
		&rec.Symbol, &rec.CurrentPrice, &rec.PreviousClose, &rec.Change, &rec.ChangePercent, &rec.Volume,
		&rec.Fundamentals.MarketCap, &rec.Fundamentals.PERatio, &rec.Fundamentals.EPS,
		&rec.Fundamentals.DividendYield, &rec.Fundamentals.Beta,
		&daily, &sources, &rec.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if daily != nil {
		series, err := quotes.ParseDailySeries(*daily)
		if err != nil {
			return Record{}, fmt.Errorf("stock_prices %s: %w", symbol, err)
		}
		rec.Daily = series
	}
	if sources != "" {
		rec.Sources = strings.Split(sources, ",")
	}
	return rec, nil
}

func (s *PGStore) Put(ctx context.Context, rec Record) error {
	var daily *string
	if raw := rec.Daily.Encode(); raw != "" {
		daily = &raw
	}
	updated := rec.LastUpdated
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO stock_prices (
			symbol, current_price, previous_close, change, change_percent, volume,
			market_cap, pe_ratio, eps, dividend_yield, beta,
			daily_prices, sources, last_updated
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (symbol) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			previous_close = EXCLUDED.previous_close,
			change = EXCLUDED.change,
			change_percent = EXCLUDED.change_percent,
			volume = EXCLUDED.volume,
			market_cap = EXCLUDED.market_cap,
			pe_ratio = EXCLUDED.pe_ratio,
			eps = EXCLUDED.eps,
			dividend_yield = EXCLUDED.dividend_yield,
			beta = EXCLUDED.beta,
			daily_prices = EXCLUDED.daily_prices,
			sources = EXCLUDED.sources,
			last_updated = EXCLUDED.last_updated
	`,
		rec.Symbol, rec.CurrentPrice, rec.PreviousClose, rec.Change, rec.ChangePercent, rec.Volume,
		rec.Fundamentals.MarketCap, rec.Fundamentals.PERatio, rec.Fundamentals.EPS,
		rec.Fundamentals.DividendYield, rec.Fundamentals.Beta,
		daily, strings.Join(rec.Sources, ","), updated,
	)
	return err
}

