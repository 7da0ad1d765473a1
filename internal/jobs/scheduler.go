// Package jobs runs the worker's cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	mu      sync.RWMutex
	jobs    map[string]Job
	order   []string
	history map[string]*history

	maxRetries int
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithRetries(n int, delay time.Duration) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.maxRetries = n
		}
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// New builds a scheduler whose expressions are read in loc.
func New(logger *slog.Logger, loc *time.Location, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	// A run still in progress when its next tick fires is skipped.
	s := &Scheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger}))),
		log:        logger,
		jobs:       make(map[string]Job),
		history:    make(map[string]*history),
		maxRetries: 2,
		retryDelay: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	if _, err := s.cron.AddJob(job.Schedule(), cron.FuncJob(func() { s.run(s.ctx, job) })); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = job
	s.order = append(s.order, name)
	s.history[name] = &history{}
	s.log.Info("job scheduled", "job", name, "schedule", job.Schedule())
	return nil
}

// Start runs the cron loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
	s.log.Info("scheduler started", "jobs", len(s.order))
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunAll runs every job once in registration order.
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	s.mu.RUnlock()

	var errs []error
	for _, job := range jobs {
		if r := s.run(ctx, job); !r.Success {
			errs = append(errs, fmt.Errorf("%s: %s", job.Name(), r.Error))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, job Job) Result {
	s.wg.Add(1)
	defer s.wg.Done()

	name := job.Name()
	res := Result{Job: name, StartTime: time.Now()}
	s.log.Info("job started", "job", name)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		res.Attempts = attempt + 1
		lastErr = job.Run(ctx)
		if lastErr == nil || ctx.Err() != nil {
			break
		}
		s.log.Warn("job attempt failed", "job", name, "attempt", attempt+1, "err", lastErr)
		if attempt < s.maxRetries {
			if err := sleepWithContext(ctx, s.retryDelay); err != nil {
				break
			}
		}
	}

	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	res.Success = lastErr == nil
	if lastErr != nil {
		res.Error = lastErr.Error()
		s.log.Error("job failed", "job", name, "attempts", res.Attempts, "duration", res.Duration, "err", lastErr)
	} else {
		s.log.Info("job completed", "job", name, "duration", res.Duration)
	}

	s.mu.Lock()
	if h, ok := s.history[name]; ok {
		h.add(res)
	}
	s.mu.Unlock()
	return res
}

func (s *Scheduler) Stats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Stats, 0, len(s.jobs))
	for name, job := range s.jobs {
		h := s.history[name]
		st := Stats{
			Job:          name,
			Schedule:     job.Schedule(),
			TotalRuns:    len(h.results),
			FailureCount: h.failures(),
		}
		if last, ok := h.latest(); ok {
			at := last.StartTime
			st.LastRun = &at
			st.LastSuccess = last.Success
			st.LastError = last.Error
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
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
