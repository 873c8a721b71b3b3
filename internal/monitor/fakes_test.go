package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rsclarke/dnsmon/internal/config"
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/records"
	"github.com/rsclarke/dnsmon/internal/tail"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu   sync.Mutex
	text string
}

func (f *fakeReader) set(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

func (f *fakeReader) ReadTail() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, nil
}

type fakeDaemon struct {
	starts, stops int
	onStop        func()
}

func (f *fakeDaemon) Start() { f.starts++ }

func (f *fakeDaemon) Stop() {
	f.stops++
	if f.onStop != nil {
		f.onStop()
	}
}

type fakeRouter struct {
	denies  int
	reloads []string
}

func (f *fakeRouter) DenySystemDNS() { f.denies++ }

func (f *fakeRouter) ReloadVirtualInterface(reason string) { f.reloads = append(f.reloads, reason) }

// fakeBinder completes immediately when feed is set, otherwise it keeps the
// callback for the test to complete.
type fakeBinder struct {
	feed    records.Feed
	calls   int
	pending func(records.Feed)
}

func (f *fakeBinder) Bind(done func(records.Feed)) {
	f.calls++
	if f.feed != nil {
		done(f.feed)
		return
	}
	f.pending = done
}

type notification struct {
	fatal bool
	key   string
	text  string
}

type fakeNotify struct {
	sent []notification
}

func (f *fakeNotify) Recoverable(key, text string) {
	f.sent = append(f.sent, notification{key: key, text: text})
}

func (f *fakeNotify) Fatal(key, text string) {
	f.sent = append(f.sent, notification{fatal: true, key: key, text: text})
}

func (f *fakeNotify) count(key string) int {
	n := 0
	for _, s := range f.sent {
		if s.key == key {
			n++
		}
	}
	return n
}

type memPrefs struct {
	mu     sync.Mutex
	values map[string]bool
}

func (p *memPrefs) Bool(key string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[key], nil
}

func (p *memPrefs) SetBool(key string, value bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return nil
}

type harness struct {
	m      *Monitor
	store  *module.Store
	reader *fakeReader
	daemon *fakeDaemon
	router *fakeRouter
	binder *fakeBinder
	notify *fakeNotify
	prefs  *memPrefs
	feed   *records.Buffer
	cycle  *tail.Cycle
}

func newHarness(t *testing.T, mode module.Mode, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Monitor.Mode = string(mode)
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		store:  module.NewStore(mode),
		reader: &fakeReader{},
		daemon: &fakeDaemon{},
		router: &fakeRouter{},
		notify: &fakeNotify{},
		prefs:  &memPrefs{values: make(map[string]bool)},
		feed:   records.NewBuffer(50),
		cycle:  &tail.Cycle{Period: tail.StartupPeriod},
	}
	h.binder = &fakeBinder{feed: h.feed}

	m, err := New(Env{
		Store:  h.store,
		Config: cfg,
		Tail:   h.reader,
		Daemon: h.daemon,
		Router: h.router,
		Binder: h.binder,
		Apps:   appNames{1000: "Browser"},
		Notify: h.notify,
		Prefs:  h.prefs,
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Ticks are driven by the test; the real scheduler only tracks periods.
	m.scheduler = tail.NewScheduler(func(context.Context, *tail.Cycle) time.Duration { return 0 }, zap.NewNop())
	t.Cleanup(m.Close)

	h.m = m
	return h
}

// tick runs one tail tick reading text.
func (h *harness) tick(text string) {
	h.reader.set(text)
	h.m.tailer.Tick(context.Background(), h.cycle)
}

func (h *harness) drain() []Update {
	var out []Update
	for {
		select {
		case u := <-h.m.Updates():
			out = append(out, u)
		default:
			return out
		}
	}
}

func ofKind(updates []Update, kind UpdateKind) []Update {
	var out []Update
	for _, u := range updates {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

type appNames map[int]string

func (a appNames) NameByUID(uid int) (string, bool) {
	name, ok := a[uid]
	return name, ok
}
