package monitor

import (
	"context"
	"strings"

	"github.com/rsclarke/dnsmon/internal/logging"
	"github.com/rsclarke/dnsmon/internal/models"
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/records"
	"github.com/rsclarke/dnsmon/internal/tail"
	"go.uber.org/zap"
)

// onTick handles one tail read: it scans changed text for daemon signatures,
// collects records, renders, and reacts to the module state.
func (m *Monitor) onTick(ctx context.Context, text string, changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The schedule may have been cancelled while this tick waited.
	if ctx.Err() != nil {
		return
	}

	if text != "" {
		m.lastText = text
	}
	if changed && text != "" {
		m.scan(text)
	}

	recs := m.collectRecords()
	m.emitLog(text, recs)
	m.refreshState()
}

// scan looks for fatal, recoverable, and ready signatures in text.
func (m *Monitor) scan(text string) {
	state := m.env.Store.Get()

	switch {
	case IsFatal(text):
		if m.fatalLatched {
			break
		}
		m.fatalLatched = true
		lines := FatalLines(text)
		m.logger.Error("daemon reported a fatal error", logging.State(state.String()), logging.Lines(lines))
		m.env.Notify.Fatal(models.KeyFatalError, strings.Join(lines, "\n"))
		m.requestStop("fatal error")
	case IsRecoverable(text):
		// Only error lines after the last one reported are new.
		lines := RecoverableLines(text)
		fresh := linesAfter(lines, m.lastRecoverable)
		if len(fresh) == 0 {
			break
		}
		m.lastRecoverable = lines[len(lines)-1]
		m.logger.Warn("daemon reported an error", logging.State(state.String()), logging.Lines(fresh))
		m.env.Notify.Recoverable(models.KeyNoInternet, strings.Join(fresh, "\n"))
	}

	if IsReady(text) && (state == module.Starting || state == module.Running) {
		if !m.env.Config.Monitor.UseModulesWithRoot {
			m.emitProgress(false)
		}
		if state != module.Running {
			m.logger.Info("daemon ready", logging.State(state.String()))
			m.env.Store.Set(module.Running)
		}
		m.showRunning()
	}
}

// collectRecords returns the classified records to show with the tail.
func (m *Monitor) collectRecords() []records.ClassifiedRecord {
	if !m.captureActive() {
		if m.aggregator.HasSnapshot() {
			m.aggregator.Reset()
		}
		return nil
	}

	feed := m.boundFeed()

	if m.env.Store.Get() == module.Restarting {
		if feed != nil {
			feed.Clear()
		}
		m.aggregator.Reset()
		m.renderer.Reset()
		return nil
	}

	if feed == nil {
		return m.aggregator.Current()
	}

	recs, changed := m.aggregator.Pull(feed)
	if changed {
		m.logger.Debug("records updated", zap.Int("count", len(recs)))
	}
	return recs
}

// refreshState applies the effects of a state change. Only the first
// observation of a state has effects, except for Stopped which is handled
// every time.
func (m *Monitor) refreshState() {
	state := m.env.Store.Get()
	edge := !m.hasObserved || state != m.observed
	if !edge && state != module.Stopped {
		return
	}
	if edge {
		m.logger.Debug("state observed", logging.State(state.String()))
	}

	switch state {
	case module.Starting:
		m.fatalLatched = false
		m.lastRecoverable = ""
		m.scheduler.Schedule(tail.StartupPeriod)

	case module.Running:
		m.emitStartControl(true)
		m.setPref(models.PrefModuleRunning, true)
		m.emitStatus(module.Running)
		m.scheduler.Schedule(tail.StartupPeriod)
		if m.captureActive() {
			m.bind()
		}

	case module.Stopped:
		m.scheduler.Cancel()
		if m.prefBool(models.PrefModuleRunning) {
			m.emitStatus(module.Stopped)
			m.env.Store.Set(module.Stopped)
			m.logger.Error("daemon stopped unexpectedly", logging.Tail(m.lastText))
			m.env.Notify.Fatal(models.KeyStoppedUnexpectedly, m.lastText)
		} else {
			m.emitStatus(module.Stopped)
		}
		m.emitProgress(false)
		m.setPref(models.PrefModuleRunning, false)
		m.emitStartControl(true)
	}

	m.observed = state
	m.hasObserved = true
}

// showRunning shows the running status and withdraws any startup allowance
// for system DNS.
func (m *Monitor) showRunning() {
	m.emitStatus(module.Running)
	m.applySystemDNSRule()
}

// applySystemDNSRule revokes the system DNS allowance granted at start.
func (m *Monitor) applySystemDNSRule() {
	if !m.prefBool(models.PrefSystemDNSAllowed) {
		return
	}

	if m.mode == module.RootMode {
		m.setPref(models.PrefSystemDNSAllowed, false)
		m.env.Router.DenySystemDNS()
	}
	if m.captureActive() {
		m.setPref(models.PrefSystemDNSAllowed, false)
		m.env.Router.ReloadVirtualInterface("deny system DNS")
	}
}

func (m *Monitor) bind() {
	if m.env.Binder == nil {
		return
	}

	m.feedMu.Lock()
	if m.conn != unbound {
		m.feedMu.Unlock()
		return
	}
	m.conn = binding
	gen := m.bindGen
	m.feedMu.Unlock()

	m.logger.Debug("binding record feed")
	m.env.Binder.Bind(func(feed records.Feed) { m.onBound(gen, feed) })
}

func (m *Monitor) onBound(gen uint64, feed records.Feed) {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()

	if gen != m.bindGen || m.conn != binding {
		return
	}
	if feed == nil {
		m.conn = unbound
		m.logger.Warn("record feed unavailable")
		return
	}
	m.conn = bound
	m.feed = feed
	m.logger.Info("record feed bound")
}

func (m *Monitor) unbind() {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	m.bindGen++
	m.conn = unbound
	m.feed = nil
}

func (m *Monitor) boundFeed() records.Feed {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	if m.conn != bound {
		return nil
	}
	return m.feed
}
