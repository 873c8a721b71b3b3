package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rsclarke/dnsmon/internal/logging"
	"github.com/rsclarke/dnsmon/internal/models"
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/records"
	"github.com/rsclarke/dnsmon/internal/render"
	"github.com/rsclarke/dnsmon/internal/tail"
	"go.uber.org/zap"
)

const updateBuffer = 128

type connState int

const (
	unbound connState = iota
	binding
	bound
)

// Monitor is the live activity monitor for one daemon.
type Monitor struct {
	env    Env
	logger *zap.Logger
	mode   module.Mode
	fixTTL bool

	tailer     *tail.Tailer
	scheduler  *tail.Scheduler
	aggregator *records.Aggregator
	renderer   *render.Renderer

	// mu serializes ticks with foreground actions.
	mu           sync.Mutex
	observed     module.State
	hasObserved  bool
	fatalLatched bool
	lastText     string

	// lastRecoverable is the last error line reported to the user.
	lastRecoverable string

	feedMu  sync.Mutex
	conn    connState
	feed    records.Feed
	bindGen uint64

	updates   chan Update
	attached  atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Monitor. Nothing runs until Start.
func New(env Env) (*Monitor, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}

	cfg := env.Config
	mode := env.Store.Mode()
	fixTTL := cfg.Monitor.FixTTL && mode == module.RootMode && !cfg.Monitor.UseModulesWithRoot

	classifier := records.NewClassifier(records.ClassifierOptions{
		Apps:  env.Apps,
		Hosts: env.Hosts,
		Network: records.Network{
			Metered:           cfg.Network.Metered,
			TorTethering:      cfg.Network.TorTethering,
			Hotspot:           cfg.Network.Hotspot,
			USBTether:         cfg.Network.USBTether,
			Ethernet:          cfg.Network.Ethernet,
			FixTTL:            fixTTL,
			HotspotPrefix:     cfg.Network.HotspotPrefix,
			USBPrefix:         cfg.Network.USBPrefix,
			LocalEthernetAddr: cfg.Network.LocalEthernetAddr,
		},
		SuppressIPv6Blocks: cfg.Monitor.SuppressIPv6BlockReport,
	})

	m := &Monitor{
		env:        env,
		logger:     env.Logger.Named("monitor"),
		mode:       mode,
		fixTTL:     fixTTL,
		aggregator: records.NewAggregator(classifier),
		renderer:   render.New(cfg.Monitor.AutoScroll),
		updates:    make(chan Update, updateBuffer),
		done:       make(chan struct{}),
	}
	m.tailer = tail.NewTailer(env.Tail, m.steadyPeriod, m.onTick, m.logger.Named("tail"))
	m.scheduler = tail.NewScheduler(m.tailer.Tick, m.logger.Named("scheduler"))

	return m, nil
}

// Updates returns the channel the foreground consumer drains.
func (m *Monitor) Updates() <-chan Update { return m.updates }

// Done is closed once the monitor has been closed.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Start attaches the view and restores it from the current module state.
func (m *Monitor) Start() {
	m.attached.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hasObserved = false
	m.fatalLatched = false
	m.lastRecoverable = ""

	state := m.env.Store.Get()
	m.logger.Info("monitor started",
		logging.State(state.String()),
		logging.Mode(string(m.mode)),
		zap.Bool("fix_ttl", m.fixTTL),
	)

	switch {
	case state == module.Stopping:
		m.emitStatus(module.Stopping)
		m.scheduler.Schedule(tail.StartupPeriod)
	case m.prefBool(models.PrefModuleRunning) || state == module.Running:
		// The daemon owns the state. A daemon marked running that is not
		// alive is reported by the first tick.
		switch state {
		case module.Stopped:
			m.logger.Warn("daemon marked running but not alive")
		case module.Starting:
			m.emitStatus(module.Starting)
		default:
			m.showRunning()
		}
		m.scheduler.Schedule(tail.StartupPeriod)
	default:
		m.emitStatus(module.Stopped)
		m.env.Store.Set(module.Stopped)
	}
}

// Stop detaches the view. It cancels tailing, forgets deduplication state and
// drops the record feed. Stop does not change the module state and may be
// called any number of times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applySystemDNSRule()
	m.scheduler.Cancel()
	m.aggregator.Reset()
	m.renderer.Reset()
	m.lastText = ""
	m.unbind()
	m.attached.Store(false)
}

// Close stops the monitor for good and closes Done.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.Stop()
		close(m.done)
	})
}

// OnStartButtonPressed starts the daemon when it is not marked running and
// stops it otherwise.
func (m *Monitor) OnStartButtonPressed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emitStartControl(false)

	if !m.prefBool(models.PrefModuleRunning) {
		m.emitStatus(module.Starting)
		if !m.env.Config.Monitor.IgnoreSystemDNS {
			m.setPref(models.PrefSystemDNSAllowed, true)
		}
		m.logger.Info("starting daemon")
		m.env.Daemon.Start()
		m.scheduler.Schedule(tail.StartupPeriod)
	} else {
		m.emitStatus(module.Stopping)
		m.requestStop("user request")
	}

	m.emitProgress(true)
}

// SetAutoScroll enables or disables rendering of the activity view.
func (m *Monitor) SetAutoScroll(enabled bool) {
	m.renderer.SetAutoScroll(enabled)
}

// Period returns the active tail period, or 0 when tailing is off.
func (m *Monitor) Period() time.Duration {
	return m.scheduler.Period()
}

func (m *Monitor) captureActive() bool {
	return m.mode == module.VPNMode || m.fixTTL
}

func (m *Monitor) steadyPeriod() time.Duration {
	return tail.SteadyPeriod(m.captureActive())
}

// requestStop persists the not-running flag before asking the daemon to
// stop, so the resulting Stopped state is not reported as unexpected.
func (m *Monitor) requestStop(reason string) {
	if m.mode == module.VPNMode {
		if feed := m.boundFeed(); feed != nil {
			feed.Clear()
		}
	}
	m.setPref(models.PrefModuleRunning, false)
	m.logger.Info("stopping daemon", logging.Reason(reason))
	m.env.Daemon.Stop()
}

func (m *Monitor) prefBool(key string) bool {
	v, err := m.env.Prefs.Bool(key)
	if err != nil {
		m.logger.Warn("read preference failed", logging.Key(key), zap.Error(err))
		return false
	}
	return v
}

func (m *Monitor) setPref(key string, value bool) {
	if err := m.env.Prefs.SetBool(key, value); err != nil {
		m.logger.Warn("write preference failed", logging.Key(key), zap.Bool("value", value), zap.Error(err))
	}
}
