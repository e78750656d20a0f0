package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/sessionguard/internal/metrics"
)

// Job removes stale rows and reports how many went
type Job func(ctx context.Context) (int64, error)

// jobTimeout bounds a single run so a stuck query cannot stall the next tick
const jobTimeout = 30 * time.Second

// Scheduler runs periodic cleanup jobs until its context is cancelled
type Scheduler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewScheduler creates a scheduler whose jobs stop when parent is done or Stop is called
func NewScheduler(parent context.Context, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel, metrics: m, logger: logger}
}

// Every runs job immediately and then once per interval
func (s *Scheduler) Every(interval time.Duration, name string, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.run(name, job)
		for {
			select {
			case <-ticker.C:
				s.run(name, job)
			case <-s.ctx.Done():
				s.logger.Info("cleanup job stopped", slog.String("job", name))
				return
			}
		}
	}()
}

// RunOnce runs job a single time in the caller's goroutine
func (s *Scheduler) RunOnce(name string, job Job) (int64, error) {
	return s.run(name, job)
}

func (s *Scheduler) run(name string, job Job) (int64, error) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	removed, err := job(ctx)
	s.metrics.CleanupRan(name, removed, err)
	if err != nil {
		s.logger.Error("cleanup job failed", slog.String("job", name), slog.Any("error", err))
		return 0, err
	}

	if removed > 0 {
		s.logger.Info("cleanup job completed",
			slog.String("job", name),
			slog.Int64("rows_deleted", removed))
	}
	return removed, nil
}

// Stop cancels every job and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
