package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/timex"
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// DailyScheduler runs a task once a day at a fixed local wall-clock time.
// A run that is still in progress when the next one is due causes that
// next one to be skipped.
type DailyScheduler struct {
	name    string
	at      time.Duration
	task    Task
	metrics *Metrics
	logger  logging.Logger

	mu sync.Mutex

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewDailyScheduler parses at as "15:04" local time.
func NewDailyScheduler(name, at string, task Task, metrics *Metrics, logger logging.Logger) (*DailyScheduler, error) {
	offset, err := timex.ParseClock(at)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	return &DailyScheduler{
		name:    name,
		at:      offset,
		task:    task,
		metrics: metrics,
		logger:  logger.With("module", "scheduler", "job", name),
		now:     time.Now,
		after:   time.After,
	}, nil
}

// Next returns the first scheduled instant strictly after now.
func (s *DailyScheduler) Next(now time.Time) time.Time {
	h := int(s.at / time.Hour)
	m := int((s.at % time.Hour) / time.Minute)

	next := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, h, m, 0, 0, now.Location())
	}
	return next
}

// Run blocks until ctx is cancelled, running the task at every scheduled
// instant. It returns only after an in-flight run has finished.
func (s *DailyScheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		now := s.now()
		next := s.Next(now)
		s.logger.Info(ctx, "next run scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopping")
			return
		case <-s.after(next.Sub(now)):
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error(ctx, "scheduled run failed", "error", err)
				}
			}()
		}
	}
}

// RunOnce executes the task unless a run is already in progress. It
// reports whether the task ran.
func (s *DailyScheduler) RunOnce(ctx context.Context) (bool, error) {
	if !s.mu.TryLock() {
		s.logger.Warn(ctx, "previous run still in progress, skipping")
		s.metrics.IncSkipped(s.name)
		return false, nil
	}
	defer s.mu.Unlock()

	start := s.now()
	err := s.task(ctx)
	s.metrics.ObserveDuration(s.name, s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.IncRuns(s.name, StatusFailure)
		return true, err
	}
	s.metrics.IncRuns(s.name, StatusSuccess)
	return true, nil
}
