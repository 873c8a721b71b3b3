package tail

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Default periods and the tick count after which the steady period applies.
const (
	StartupPeriod   = time.Second
	FastPeriod      = 5 * time.Second
	SlowPeriod      = 10 * time.Second
	EscalationTicks = 120
)

// Reader returns the current tail of the monitored log.
type Reader interface {
	ReadTail() (string, error)
}

// Handler receives the text of every tick and whether it differs from the
// previous tick of the same cycle.
type Handler func(ctx context.Context, text string, changed bool)

// Tailer reads the log on every tick and escalates the polling period once
// the startup burst is over.
type Tailer struct {
	reader Reader
	handle Handler
	steady func() time.Duration
	logger *zap.Logger
}

// NewTailer creates a Tailer. steady reports the period to use after
// EscalationTicks ticks.
func NewTailer(reader Reader, steady func() time.Duration, handle Handler, logger *zap.Logger) *Tailer {
	return &Tailer{reader: reader, handle: handle, steady: steady, logger: logger}
}

// SteadyPeriod returns FastPeriod when records are captured locally and
// SlowPeriod otherwise.
func SteadyPeriod(captureActive bool) time.Duration {
	if captureActive {
		return FastPeriod
	}
	return SlowPeriod
}

// Tick implements TickFunc.
func (t *Tailer) Tick(ctx context.Context, cycle *Cycle) time.Duration {
	text, err := t.reader.ReadTail()
	if err != nil {
		t.logger.Warn("read log tail failed", zap.Error(err))
		text = ""
	}

	cycle.Loop++
	changed := text != cycle.LastText
	cycle.LastText = text

	t.handle(ctx, text, changed)

	if cycle.Loop > EscalationTicks {
		cycle.Loop = 0
		return t.steady()
	}
	return 0
}
