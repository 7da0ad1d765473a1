package game

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// Scoreboard ranks every user by weeks won, then average return.
func (s *Service) Scoreboard(ctx context.Context) ([]ScoreboardRow, error) {
	rows, err := s.db.Query(ctx, `
		WITH wins AS (
			SELECT winner_id AS user_id, COUNT(1) AS wins
			FROM weeks
			WHERE winner_id IS NOT NULL
			GROUP BY winner_id
		),
		pick_stats AS (
			SELECT user_id,
			       COUNT(1) AS picks,
			       AVG(return_percentage) AS avg_return,
			       MAX(return_percentage) AS best_return
			FROM picks
			GROUP BY user_id
		)
		SELECT u.id, u.username,
		       COALESCE(w.wins, 0), COALESCE(ps.picks, 0),
		       ps.avg_return, ps.best_return
		FROM users u
		LEFT JOIN wins w ON w.user_id = u.id
		LEFT JOIN pick_stats ps ON ps.user_id = u.id
		ORDER BY COALESCE(w.wins, 0) DESC, ps.avg_return DESC NULLS LAST, lower(u.username)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ScoreboardRow{}
	rank := 1
	for rows.Next() {
		var r ScoreboardRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.Wins, &r.Picks, &r.AverageReturn, &r.BestReturn); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	out := Stats{TopSymbols: []SymbolCount{}}
	err := s.db.QueryRow(ctx, `
		SELECT (SELECT COUNT(1) FROM users),
		       (SELECT COUNT(1) FROM weeks),
		       (SELECT COUNT(1) FROM weeks WHERE winner_id IS NOT NULL),
		       (SELECT COUNT(1) FROM picks)
	`).Scan(&out.TotalUsers, &out.TotalWeeks, &out.DecidedWeeks, &out.TotalPicks)
	if err != nil {
		return out, err
	}

	var best BestPick
	err = s.db.QueryRow(ctx, `
		SELECT u.username, p.symbol, w.week_number, p.return_percentage
		FROM picks p
		JOIN users u ON u.id = p.user_id
		JOIN weeks w ON w.id = p.week_id
		WHERE p.return_percentage IS NOT NULL
		ORDER BY p.return_percentage DESC, p.created_at, p.id
		LIMIT 1
	`).Scan(&best.Username, &best.Symbol, &best.WeekNumber, &best.ReturnPercentage)
	switch {
	case err == nil:
		out.BestPick = &best
	case !errors.Is(err, pgx.ErrNoRows):
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT symbol, COUNT(1) AS n
		FROM picks
		GROUP BY symbol
		ORDER BY n DESC, symbol
		LIMIT 5
	`)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var sc SymbolCount
		if err := rows.Scan(&sc.Symbol, &sc.Count); err != nil {
			return out, err
		}
		out.TopSymbols = append(out.TopSymbols, sc)
	}
	return out, rows.Err()
}
