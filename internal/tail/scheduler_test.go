package tail

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleSamePeriodIsNoop(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(func(context.Context, *Cycle) time.Duration {
		ticks.Add(1)
		return 0
	}, zap.NewNop())
	defer s.Cancel()

	if !s.Schedule(10 * time.Millisecond) {
		t.Fatal("first Schedule should start a run")
	}
	if s.Schedule(10 * time.Millisecond) {
		t.Error("second Schedule at the same period should be a no-op")
	}
	if s.Starts() != 1 {
		t.Errorf("Starts() = %d, want 1", s.Starts())
	}
	waitFor(t, func() bool { return ticks.Load() >= 2 })
}

func TestScheduleNewPeriodReplacesRun(t *testing.T) {
	s := NewScheduler(func(context.Context, *Cycle) time.Duration { return 0 }, zap.NewNop())
	defer s.Cancel()

	s.Schedule(time.Hour)
	if !s.Schedule(10 * time.Millisecond) {
		t.Fatal("changing the period should start a new run")
	}
	if s.Period() != 10*time.Millisecond {
		t.Errorf("Period() = %v", s.Period())
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := NewScheduler(func(context.Context, *Cycle) time.Duration { return 0 }, zap.NewNop())
	s.Cancel()
	s.Schedule(10 * time.Millisecond)
	s.Cancel()
	s.Cancel()
	if s.Period() != 0 {
		t.Errorf("Period() = %v after Cancel, want 0", s.Period())
	}
}

func TestCancelStopsTicks(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(func(context.Context, *Cycle) time.Duration {
		ticks.Add(1)
		return 0
	}, zap.NewNop())

	s.Schedule(5 * time.Millisecond)
	waitFor(t, func() bool { return ticks.Load() >= 1 })
	s.Cancel()

	time.Sleep(20 * time.Millisecond)
	seen := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	if ticks.Load() != seen {
		t.Error("ticks continued after Cancel")
	}
}

func TestTickReturningPeriodReschedules(t *testing.T) {
	var mu sync.Mutex
	var periods []time.Duration
	s := NewScheduler(func(_ context.Context, c *Cycle) time.Duration {
		mu.Lock()
		periods = append(periods, c.Period)
		mu.Unlock()
		return 7 * time.Millisecond
	}, zap.NewNop())
	defer s.Cancel()

	s.Schedule(5 * time.Millisecond)
	waitFor(t, func() bool { return s.Period() == 7*time.Millisecond })
	if s.Starts() != 2 {
		t.Errorf("Starts() = %d, want 2", s.Starts())
	}
}

func TestPanickingTickDoesNotStopSchedule(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(func(context.Context, *Cycle) time.Duration {
		if ticks.Add(1) == 1 {
			panic("malformed content")
		}
		return 0
	}, zap.NewNop())
	defer s.Cancel()

	s.Schedule(5 * time.Millisecond)
	waitFor(t, func() bool { return ticks.Load() >= 3 })
}

func TestCancelFromInsideTick(t *testing.T) {
	var s *Scheduler
	var ticks atomic.Int32
	s = NewScheduler(func(context.Context, *Cycle) time.Duration {
		ticks.Add(1)
		s.Cancel()
		return time.Millisecond
	}, zap.NewNop())

	s.Schedule(5 * time.Millisecond)
	waitFor(t, func() bool { return ticks.Load() == 1 && s.Period() == 0 })
	time.Sleep(20 * time.Millisecond)
	if ticks.Load() != 1 {
		t.Errorf("ticks = %d, want 1", ticks.Load())
	}
	if s.Starts() != 1 {
		t.Error("a cancelled run must not reschedule itself")
	}
}
