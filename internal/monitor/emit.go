package monitor

import (
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/records"
	"go.uber.org/zap"
)

// offer hands u to the foreground consumer. It never blocks; updates for a
// detached or closed view are dropped.
func (m *Monitor) offer(u Update) bool {
	if !m.attached.Load() {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.updates <- u:
		return true
	default:
		m.logger.Debug("update dropped", zap.Stringer("kind", u.Kind))
		return false
	}
}

// emitLog renders and delivers the activity text. The renderer only learns
// about a payload once it has been delivered.
func (m *Monitor) emitLog(text string, recs []records.ClassifiedRecord) {
	p, ok := m.renderer.Render(text, recs)
	if !ok {
		return
	}
	if m.offer(Update{Kind: UpdateLog, Payload: p}) {
		m.renderer.Commit(p)
	}
}

func (m *Monitor) emitStatus(state module.State) {
	m.offer(Update{Kind: UpdateStatus, State: state})
}

func (m *Monitor) emitStartControl(enabled bool) {
	m.offer(Update{Kind: UpdateStartControl, Enabled: enabled})
}

func (m *Monitor) emitProgress(active bool) {
	m.offer(Update{Kind: UpdateProgress, Enabled: active})
}
