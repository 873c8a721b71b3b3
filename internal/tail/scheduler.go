package tail

import (
	"context"
	"sync"
	"time"

	"github.com/rsclarke/dnsmon/internal/logging"
	"go.uber.org/zap"
)

// Cycle is the mutable state of one scheduling session. A fresh Cycle is
// created whenever the period changes and discarded when the schedule stops.
type Cycle struct {
	Period   time.Duration
	Loop     int
	LastText string
}

// TickFunc runs one tick. It returns the next period, or 0 to keep the
// current one.
type TickFunc func(ctx context.Context, cycle *Cycle) time.Duration

// Scheduler runs a TickFunc periodically on its own goroutine. At most one
// schedule is active at a time.
type Scheduler struct {
	tick   TickFunc
	logger *zap.Logger

	mu     sync.Mutex
	period time.Duration
	cancel context.CancelFunc
	starts int
}

// NewScheduler creates an idle scheduler.
func NewScheduler(tick TickFunc, logger *zap.Logger) *Scheduler {
	return &Scheduler{tick: tick, logger: logger}
}

// Schedule (re)starts the periodic task at period. Scheduling the period that
// is already active is a no-op and returns false.
func (s *Scheduler) Schedule(period time.Duration) bool {
	if period <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(period)
}

func (s *Scheduler) scheduleLocked(period time.Duration) bool {
	if s.cancel != nil && s.period == period {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.period = period
	s.starts++

	s.logger.Debug("tail scheduled", logging.Period(period))
	go s.run(ctx, period)
	return true
}

// Cancel stops the periodic task. It is safe to call at any time, including
// from inside a tick.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.period = 0
	s.logger.Debug("tail cancelled")
}

// Period returns the active period, or 0 when idle.
func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Starts returns how many schedules have been started.
func (s *Scheduler) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *Scheduler) run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	cycle := &Cycle{Period: period}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next := s.safeTick(ctx, cycle)
		if ctx.Err() != nil {
			return
		}
		if next > 0 && next != period {
			s.reschedule(ctx, next)
			return
		}
	}
}

// reschedule replaces the schedule owned by ctx. A schedule replaced or
// cancelled during the tick is left alone.
func (s *Scheduler) reschedule(ctx context.Context, next time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	s.scheduleLocked(next)
}

func (s *Scheduler) safeTick(ctx context.Context, cycle *Cycle) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick failed", zap.Any("panic", r), logging.Period(cycle.Period))
			next = 0
		}
	}()
	return s.tick(ctx, cycle)
}
