package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stockpicks/internal/prices"
	"stockpicks/internal/quotes"
)

const pickColumns = `p.id, p.user_id, u.username, p.week_id, p.symbol,
	p.submitted_price, p.entry_price, p.current_value, p.week_return, p.return_percentage,
	p.last_close, p.last_close_at, p.daily_prices, p.created_at, p.updated_at`

func scanPick(row rowScanner) (Pick, error) {
	var (
		p     Pick
		daily *string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Username, &p.WeekID, &p.Symbol,
		&p.SubmittedPrice, &p.EntryPrice, &p.CurrentValue, &p.WeekReturn, &p.ReturnPercentage,
		&p.LastClose, &p.LastCloseAt, &daily, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Pick{}, err
	}
	if daily != nil {
		series, err := quotes.ParseDailySeries(*daily)
		if err != nil {
			return Pick{}, fmt.Errorf("pick %d daily prices: %w", p.ID, err)
		}
		p.Daily = series
	}
	return p, nil
}

// SubmitPick records the user's pick for the current week at the latest
// known price. A pick is still accepted without a price; it gets one on
// the next refresh.
func (s *Service) SubmitPick(ctx context.Context, in SubmitPickInput) (Pick, error) {
	symbol, err := ValidateSymbol(in.Symbol)
	if err != nil {
		return Pick{}, err
	}
	week, err := s.CurrentWeek(ctx)
	if err != nil {
		return Pick{}, err
	}
	if week.Ended(s.now()) {
		return Pick{}, ErrWeekClosed
	}

	var (
		price *float64
		daily quotes.DailySeries
	)
	if s.prices != nil {
		rec, freshness, err := s.prices.Lookup(ctx, symbol)
		switch {
		case err == nil:
			v := rec.CurrentPrice
			price = &v
			daily = rec.Daily.Within(week.StartDate, week.EndDate)
			if freshness == prices.Stale {
				s.log.Warn("pick priced from stale cache", "symbol", symbol, "last_updated", rec.LastUpdated)
			}
		case errors.Is(err, quotes.ErrInvalidSymbol):
			return Pick{}, ErrInvalidSymbol
		case ctx.Err() != nil:
			return Pick{}, ctx.Err()
		default:
			s.log.Warn("pick submitted without price", "symbol", symbol, "user_id", in.UserID, "err", err)
		}
	}
	ret := ComputeReturn(price, price)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Pick{}, err
	}
	defer tx.Rollback(ctx)

	var winner *string
	if err := tx.QueryRow(ctx, `SELECT winner_id FROM weeks WHERE id = $1 FOR SHARE`, week.ID).Scan(&winner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pick{}, ErrWeekNotFound
		}
		return Pick{}, err
	}
	if winner != nil {
		return Pick{}, ErrWeekClosed
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO picks (user_id, week_id, symbol, submitted_price, entry_price, current_value,
		                   week_return, return_percentage, daily_prices)
		VALUES ($1, $2, $3, $4, $4, $4, $5, $6, NULLIF($7, ''))
		RETURNING id
	`, in.UserID, week.ID, symbol, price, ret.WeekReturn, ret.ReturnPercentage, daily.Encode()).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return Pick{}, ErrPickExists
		}
		return Pick{}, err
	}

	p, err := scanPick(tx.QueryRow(ctx, `
		SELECT `+pickColumns+`
		FROM picks p
		JOIN users u ON u.id = p.user_id
		WHERE p.id = $1
	`, id))
	if err != nil {
		return Pick{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Pick{}, err
	}
	s.log.Info("pick submitted", "pick_id", id, "user_id", in.UserID, "week_id", week.ID, "symbol", symbol, "price", price)
	return p, nil
}

// WeekPicks lists a week's picks in submission order.
func (s *Service) WeekPicks(ctx context.Context, weekID int64) ([]Pick, error) {
	return weekPicks(ctx, s.db, weekID)
}

func weekPicks(ctx context.Context, q dbtx, weekID int64) ([]Pick, error) {
	rows, err := q.Query(ctx, `
		SELECT `+pickColumns+`
		FROM picks p
		JOIN users u ON u.id = p.user_id
		WHERE p.week_id = $1
		ORDER BY p.created_at, p.id
	`, weekID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Pick{}
	for rows.Next() {
		p, err := scanPick(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UserPicks lists every pick of one user, newest week first.
func (s *Service) UserPicks(ctx context.Context, userID string) ([]Pick, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+pickColumns+`
		FROM picks p
		JOIN users u ON u.id = p.user_id
		JOIN weeks w ON w.id = p.week_id
		WHERE p.user_id = $1
		ORDER BY w.week_number DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Pick{}
	for rows.Next() {
		p, err := scanPick(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
