package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stockpicks/internal/game"
)

type WeekRefresher interface {
	RefreshCurrentWeek(ctx context.Context) (game.RecomputeSummary, error)
}

type CloseSnapshotter interface {
	SnapshotCloses(ctx context.Context) (int, error)
}

type WinnerCalculator interface {
	CalculateAllWinners(ctx context.Context) (game.WinnerSummary, error)
}

// RefreshPrices re-fetches the current week's symbols and recomputes picks.
// Per-symbol failures are reported in the summary; the job only fails when
// nothing could be refreshed.
type RefreshPrices struct {
	svc      WeekRefresher
	schedule string
	log      *slog.Logger
}

func NewRefreshPrices(svc WeekRefresher, schedule string, logger *slog.Logger) *RefreshPrices {
	return &RefreshPrices{svc: svc, schedule: schedule, log: logger}
}

func (j *RefreshPrices) Name() string     { return "refresh_prices" }
func (j *RefreshPrices) Schedule() string { return j.schedule }

func (j *RefreshPrices) Run(ctx context.Context) error {
	sum, err := j.svc.RefreshCurrentWeek(ctx)
	if err != nil {
		return fmt.Errorf("refresh current week: %w", err)
	}
	j.log.Info("price refresh summary",
		"week_id", sum.WeekID,
		"updated", sum.Updated,
		"failed", sum.Failed,
		"rejected", sum.Rejected,
		"picks", sum.Picks,
	)
	if sum.Updated == 0 && sum.Failed > 0 {
		return errors.New("every symbol failed to refresh")
	}
	return nil
}

// SnapshotCloses records the closing price of each current pick.
type SnapshotCloses struct {
	svc      CloseSnapshotter
	schedule string
	log      *slog.Logger
}

func NewSnapshotCloses(svc CloseSnapshotter, schedule string, logger *slog.Logger) *SnapshotCloses {
	return &SnapshotCloses{svc: svc, schedule: schedule, log: logger}
}

func (j *SnapshotCloses) Name() string     { return "snapshot_closes" }
func (j *SnapshotCloses) Schedule() string { return j.schedule }

func (j *SnapshotCloses) Run(ctx context.Context) error {
	n, err := j.svc.SnapshotCloses(ctx)
	if err != nil {
		return fmt.Errorf("snapshot closes: %w", err)
	}
	j.log.Info("close snapshot summary", "picks", n)
	return nil
}

// CalculateWinners decides every finished week that has no winner yet.
type CalculateWinners struct {
	svc      WinnerCalculator
	schedule string
	log      *slog.Logger
}

func NewCalculateWinners(svc WinnerCalculator, schedule string, logger *slog.Logger) *CalculateWinners {
	return &CalculateWinners{svc: svc, schedule: schedule, log: logger}
}

func (j *CalculateWinners) Name() string     { return "calculate_winners" }
func (j *CalculateWinners) Schedule() string { return j.schedule }

func (j *CalculateWinners) Run(ctx context.Context) error {
	sum, err := j.svc.CalculateAllWinners(ctx)
	if err != nil {
		return fmt.Errorf("calculate winners: %w", err)
	}
	j.log.Info("winner summary", "decided", sum.Decided, "skipped", sum.Skipped, "failed", sum.Failed)
	if sum.Failed > 0 {
		return fmt.Errorf("%d weeks failed: %v", sum.Failed, sum.Errors)
	}
	return nil
}
