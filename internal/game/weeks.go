package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WeekBounds returns the Monday 00:00 to Friday 23:59:59.999 trading week
// that covers now in loc. On Saturday and Sunday it is the upcoming week.
func WeekBounds(now time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	sinceMonday := (int(local.Weekday()) + 6) % 7
	if sinceMonday >= 5 {
		sinceMonday -= 7
	}
	y, m, d := local.Date()
	start = time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, loc)
	end = time.Date(y, m, d-sinceMonday+4, 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}

const weekColumns = `w.id, w.week_number, w.start_date, w.end_date, w.winner_id, u.username`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWeek(row rowScanner) (Week, error) {
	var w Week
	err := row.Scan(&w.ID, &w.WeekNumber, &w.StartDate, &w.EndDate, &w.WinnerID, &w.WinnerUsername)
	return w, err
}

// CurrentWeek returns the week covering now, creating the next numbered
// week when none exists.
func (s *Service) CurrentWeek(ctx context.Context) (Week, error) {
	start, end := WeekBounds(s.now(), s.loc)
	w, err := s.weekOverlapping(ctx, s.db, start, end)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWeekNotFound) {
		return Week{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Week{}, err
	}
	defer tx.Rollback(ctx)

	// Serialize creators so two requests at the turn of the week cannot
	// insert the same range twice.
	if _, err := tx.Exec(ctx, `LOCK TABLE weeks IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return Week{}, err
	}
	w, err = s.weekOverlapping(ctx, tx, start, end)
	if err == nil {
		return w, tx.Commit(ctx)
	}
	if !errors.Is(err, ErrWeekNotFound) {
		return Week{}, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO weeks (week_number, start_date, end_date)
		SELECT COALESCE(MAX(week_number), 0) + 1, $1, $2 FROM weeks
		RETURNING id, week_number, start_date, end_date
	`, start, end).Scan(&w.ID, &w.WeekNumber, &w.StartDate, &w.EndDate)
	if err != nil {
		return Week{}, fmt.Errorf("create week: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Week{}, err
	}
	s.log.Info("week created", "week_id", w.ID, "week_number", w.WeekNumber, "start", start, "end", end)
	return w, nil
}

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Service) weekOverlapping(ctx context.Context, q dbtx, start, end time.Time) (Week, error) {
	w, err := scanWeek(q.QueryRow(ctx, `
		SELECT `+weekColumns+`
		FROM weeks w
		LEFT JOIN users u ON u.id = w.winner_id
		WHERE w.start_date <= $2 AND w.end_date >= $1
		ORDER BY w.start_date
		LIMIT 1
	`, start, end))
	if errors.Is(err, pgx.ErrNoRows) {
		return Week{}, ErrWeekNotFound
	}
	return w, err
}

func (s *Service) GetWeek(ctx context.Context, weekID int64) (Week, error) {
	w, err := scanWeek(s.db.QueryRow(ctx, `
		SELECT `+weekColumns+`
		FROM weeks w
		LEFT JOIN users u ON u.id = w.winner_id
		WHERE w.id = $1
	`, weekID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Week{}, ErrWeekNotFound
	}
	return w, err
}

func (s *Service) WeekDetail(ctx context.Context, weekID int64) (WeekDetail, error) {
	w, err := s.GetWeek(ctx, weekID)
	if err != nil {
		return WeekDetail{}, err
	}
	picks, err := s.WeekPicks(ctx, weekID)
	if err != nil {
		return WeekDetail{}, err
	}
	return WeekDetail{Week: w, Picks: picks}, nil
}

func (s *Service) ListWeeks(ctx context.Context) ([]Week, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+weekColumns+`
		FROM weeks w
		LEFT JOIN users u ON u.id = w.winner_id
		ORDER BY w.week_number DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Week{}
	for rows.Next() {
		w, err := scanWeek(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWeekDates corrects the date range of a week.
func (s *Service) UpdateWeekDates(ctx context.Context, weekID int64, start, end time.Time) (Week, error) {
	if !end.After(start) {
		return Week{}, ErrInvalidWeekRange
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE weeks SET start_date = $2, end_date = $3 WHERE id = $1
	`, weekID, start, end)
	if err != nil {
		return Week{}, err
	}
	if tag.RowsAffected() == 0 {
		return Week{}, ErrWeekNotFound
	}
	s.log.Info("week dates corrected", "week_id", weekID, "start", start, "end", end)
	return s.GetWeek(ctx, weekID)
}

// endedWeeksWithoutWinner lists weeks that are over at now and undecided.
func (s *Service) endedWeeksWithoutWinner(ctx context.Context) ([]Week, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+weekColumns+`
		FROM weeks w
		LEFT JOIN users u ON u.id = w.winner_id
		WHERE w.winner_id IS NULL AND w.end_date < $1
		ORDER BY w.week_number
	`, s.now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Week
	for rows.Next() {
		w, err := scanWeek(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
