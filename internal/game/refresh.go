package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockpicks/internal/events"
	"stockpicks/internal/quotes"
)

// RefreshWeekPrices re-fetches every symbol picked in the week and then
// recomputes the week's picks from the cache.
func (s *Service) RefreshWeekPrices(ctx context.Context, weekID int64) (RecomputeSummary, error) {
	out := RecomputeSummary{WeekID: weekID, Errors: []string{}}
	week, err := s.GetWeek(ctx, weekID)
	if err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `SELECT DISTINCT symbol FROM picks WHERE week_id = $1 ORDER BY symbol`, weekID)
	if err != nil {
		return out, err
	}
	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return out, err
	}

	if s.refresher != nil && len(symbols) > 0 {
		sum := s.refresher.Refresh(ctx, symbols)
		out.Updated, out.Failed, out.Rejected = sum.Updated, sum.Failed, sum.Rejected
		out.Errors = append(out.Errors, sum.Errors...)
	}

	n, err := s.recomputeWeek(ctx, week)
	out.Picks = n
	if err != nil {
		return out, err
	}
	s.log.Info("week prices refreshed",
		"week_id", weekID,
		"symbols", len(symbols),
		"updated", out.Updated,
		"failed", out.Failed,
		"rejected", out.Rejected,
		"picks", n,
	)
	return out, nil
}

// RefreshCurrentWeek is RefreshWeekPrices for the week covering now.
func (s *Service) RefreshCurrentWeek(ctx context.Context) (RecomputeSummary, error) {
	week, err := s.CurrentWeek(ctx)
	if err != nil {
		return RecomputeSummary{Errors: []string{}}, err
	}
	return s.RefreshWeekPrices(ctx, week.ID)
}

// recomputeWeek rewrites the derived price fields of every pick in the week
// from the cached records. The submitted price is never touched.
func (s *Service) recomputeWeek(ctx context.Context, week Week) (int, error) {
	if s.prices == nil {
		return 0, nil
	}
	picks, err := s.WeekPicks(ctx, week.ID)
	if err != nil {
		return 0, err
	}
	ended := week.Ended(s.now())

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	n := 0
	for _, p := range picks {
		current := p.CurrentValue
		series := p.Daily
		rec, _, err := s.prices.Get(ctx, p.Symbol)
		if err == nil {
			// After the week is over only sessions inside it may move the
			// result, never the live price.
			if !ended || current == nil {
				v := rec.CurrentPrice
				current = &v
			}
			series = mergeSeries(series, rec.Daily.Within(week.StartDate, week.EndDate))
		} else {
			s.log.Debug("no cached price for pick", "pick_id", p.ID, "symbol", p.Symbol, "err", err)
		}

		entry, cur := EffectivePrices(p.SubmittedPrice, current, series)
		ret := ComputeReturn(entry, cur)
		if _, err := tx.Exec(ctx, `
			UPDATE picks
			SET entry_price = $2,
			    current_value = $3,
			    week_return = $4,
			    return_percentage = $5,
			    daily_prices = NULLIF($6, ''),
			    updated_at = now()
			WHERE id = $1
		`, p.ID, entry, cur, ret.WeekReturn, ret.ReturnPercentage, series.Encode()); err != nil {
			return n, fmt.Errorf("update pick %d: %w", p.ID, err)
		}
		n++
	}
	return n, tx.Commit(ctx)
}

// mergeSeries overlays next on prev, newer sessions winning.
func mergeSeries(prev, next quotes.DailySeries) quotes.DailySeries {
	if len(next) == 0 {
		return prev
	}
	out := prev.Clone()
	if out == nil {
		out = make(quotes.DailySeries, len(next))
	}
	for d, p := range next {
		out[d] = p
	}
	return out
}

// SnapshotCloses stores the cached price as the last close of every pick in
// the current week.
func (s *Service) SnapshotCloses(ctx context.Context) (int, error) {
	if s.prices == nil {
		return 0, nil
	}
	week, err := s.CurrentWeek(ctx)
	if err != nil {
		return 0, err
	}
	picks, err := s.WeekPicks(ctx, week.ID)
	if err != nil {
		return 0, err
	}

	at := s.now()
	n := 0
	for _, p := range picks {
		rec, _, err := s.prices.Get(ctx, p.Symbol)
		if err != nil {
			s.log.Warn("close snapshot skipped", "pick_id", p.ID, "symbol", p.Symbol, "err", err)
			continue
		}
		if _, err := s.db.Exec(ctx, `
			UPDATE picks SET last_close = $2, last_close_at = $3, updated_at = now() WHERE id = $1
		`, p.ID, rec.CurrentPrice, at); err != nil {
			return n, fmt.Errorf("snapshot pick %d: %w", p.ID, err)
		}
		n++
	}
	s.log.Info("close snapshot stored", "week_id", week.ID, "picks", n)
	return n, nil
}

// DecideWeekWinner assigns the winner of an ended week. It reports false
// without error when the week already has a winner or has no picks with a
// computable return.
func (s *Service) DecideWeekWinner(ctx context.Context, weekID int64) (Pick, bool, error) {
	week, err := s.GetWeek(ctx, weekID)
	if err != nil {
		return Pick{}, false, err
	}
	if week.WinnerID != nil {
		return Pick{}, false, nil
	}
	if !s.now().After(week.EndDate) {
		return Pick{}, false, ErrWeekInProgress
	}
	if _, err := s.recomputeWeek(ctx, week); err != nil {
		return Pick{}, false, err
	}

	const maxAttempts = 5
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		winner, decided, err := s.decideWeekTx(ctx, weekID)
		if err == nil {
			if decided {
				s.announce(ctx, week, winner)
			}
			return winner, decided, nil
		}
		if !isSerializationError(err) {
			return Pick{}, false, err
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return Pick{}, false, err
		}
		retryDelay *= 2
	}
	return Pick{}, false, ErrTxConflict
}

func (s *Service) decideWeekTx(ctx context.Context, weekID int64) (Pick, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return Pick{}, false, err
	}
	defer tx.Rollback(ctx)

	var current *string
	if err := tx.QueryRow(ctx, `SELECT winner_id FROM weeks WHERE id = $1 FOR UPDATE`, weekID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pick{}, false, ErrWeekNotFound
		}
		return Pick{}, false, err
	}
	if current != nil {
		return Pick{}, false, nil
	}

	picks, err := weekPicks(ctx, tx, weekID)
	if err != nil {
		return Pick{}, false, err
	}
	winner, ok := SelectWinner(picks)
	if !ok {
		return Pick{}, false, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `UPDATE weeks SET winner_id = $2 WHERE id = $1`, weekID, winner.UserID); err != nil {
		return Pick{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Pick{}, false, err
	}
	return winner, true, nil
}

func (s *Service) announce(ctx context.Context, week Week, winner Pick) {
	e := events.WinnerEvent{
		WeekID:     week.ID,
		WeekNumber: week.WeekNumber,
		UserID:     winner.UserID,
		Username:   winner.Username,
		Symbol:     winner.Symbol,
		At:         s.now().UTC(),
	}
	if winner.ReturnPercentage != nil {
		e.ReturnPercentage = *winner.ReturnPercentage
	}
	s.log.Info("week winner declared",
		"week_id", week.ID,
		"week_number", week.WeekNumber,
		"user", winner.Username,
		"symbol", winner.Symbol,
		"return_pct", e.ReturnPercentage,
	)
	if err := s.events.WinnerDeclared(ctx, e); err != nil {
		s.log.Warn("publish winner event failed", "week_id", week.ID, "err", err)
	}
	if s.announcer != nil {
		if err := s.announcer.AnnounceWinner(ctx, e); err != nil {
			s.log.Warn("winner announcement failed", "week_id", week.ID, "err", err)
		}
	}
}

// CalculateAllWinners decides every ended week without a winner. One
// week's failure does not stop the others.
func (s *Service) CalculateAllWinners(ctx context.Context) (WinnerSummary, error) {
	out := WinnerSummary{Errors: []string{}}
	weeks, err := s.endedWeeksWithoutWinner(ctx)
	if err != nil {
		return out, err
	}
	for _, w := range weeks {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		_, decided, err := s.DecideWeekWinner(ctx, w.ID)
		switch {
		case err != nil:
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("week %d: %v", w.WeekNumber, err))
			s.log.Error("winner calculation failed", "week_id", w.ID, "err", err)
		case decided:
			out.Decided++
		default:
			out.Skipped++
		}
	}
	return out, nil
}
