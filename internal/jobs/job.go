package jobs

import (
	"context"
	"time"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	// Schedule is a cron expression with a leading seconds field.
	Schedule() string
	Run(ctx context.Context) error
}

type Result struct {
	Job       string        `json:"job"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

const maxHistory = 100

type history struct {
	results []Result
}

func (h *history) add(r Result) {
	h.results = append(h.results, r)
	if len(h.results) > maxHistory {
		h.results = h.results[len(h.results)-maxHistory:]
	}
}

func (h *history) latest() (Result, bool) {
	if len(h.results) == 0 {
		return Result{}, false
	}
	return h.results[len(h.results)-1], true
}

func (h *history) failures() int {
	n := 0
	for _, r := range h.results {
		if !r.Success {
			n++
		}
	}
	return n
}

type Stats struct {
	Job          string     `json:"job"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	FailureCount int        `json:"failure_count"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastSuccess  bool       `json:"last_success"`
	LastError    string     `json:"last_error,omitempty"`
}
