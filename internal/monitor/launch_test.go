package monitor

import (
	"path/filepath"
	"testing"

	"github.com/rsclarke/dnsmon/internal/daemon"
	"github.com/rsclarke/dnsmon/internal/models"
	"github.com/rsclarke/dnsmon/internal/module"
	"go.uber.org/zap"
)

// useProcess replaces the fake daemon with a real process runner.
func useProcess(t *testing.T, h *harness, binary string) *daemon.Process {
	t.Helper()
	dir := t.TempDir()
	proc := daemon.New(daemon.Config{
		Binary:  filepath.Join(dir, binary),
		LogPath: filepath.Join(dir, "daemon.log"),
	}, h.store, zap.NewNop())
	h.m.env.Daemon = proc
	return proc
}

func TestResumeWithFailedLaunch(t *testing.T) {
	h := newHarness(t, module.RootMode, nil)
	proc := useProcess(t, h, "missing-dnscrypt-proxy")
	h.prefs.values[models.PrefModuleRunning] = true

	proc.Start()
	if proc.Running() {
		t.Fatal("Running() = true after failed launch")
	}
	h.m.Start()
	if got := h.store.Get(); got != module.Stopped {
		t.Fatalf("state = %v after Start, want stopped", got)
	}

	for i := 0; i < 5; i++ {
		h.tick("")
	}

	if got := h.store.Get(); got != module.Stopped {
		t.Errorf("state = %v, want stopped", got)
	}
	if n := h.notify.count(models.KeyStoppedUnexpectedly); n != 1 {
		t.Errorf("stopped unexpectedly = %d, want 1", n)
	}
	if h.prefs.values[models.PrefModuleRunning] {
		t.Error("running flag should be cleared")
	}
	if h.m.Period() != 0 {
		t.Errorf("Period() = %v, want tailing cancelled", h.m.Period())
	}
	status := ofKind(h.drain(), UpdateStatus)
	for _, u := range status {
		if u.State == module.Running {
			t.Errorf("status updates = %+v, running never happened", status)
			break
		}
	}
}

func TestStartFlagWithFailedLaunch(t *testing.T) {
	h := newHarness(t, module.RootMode, nil)
	useProcess(t, h, "missing-dnscrypt-proxy")

	h.m.Start()
	h.m.OnStartButtonPressed()
	if got := h.store.Get(); got != module.Stopped {
		t.Fatalf("state = %v right after a failed launch, want stopped", got)
	}
	h.drain()

	h.tick("")

	if n := len(h.notify.sent); n != 0 {
		t.Errorf("notifications = %+v, want none", h.notify.sent)
	}
	if h.m.Period() != 0 {
		t.Errorf("Period() = %v, want tailing cancelled", h.m.Period())
	}
	if h.prefs.values[models.PrefModuleRunning] {
		t.Error("running flag should stay cleared")
	}

	updates := h.drain()
	if status := ofKind(updates, UpdateStatus); len(status) == 0 || status[len(status)-1].State != module.Stopped {
		t.Errorf("status updates = %+v, want stopped", status)
	}
	if ctl := ofKind(updates, UpdateStartControl); len(ctl) == 0 || !ctl[len(ctl)-1].Enabled {
		t.Errorf("start control updates = %+v, want enabled", ctl)
	}
}

func TestStopIdleDaemonIsImmediate(t *testing.T) {
	h := newHarness(t, module.VPNMode, nil)
	useProcess(t, h, "dnscrypt-proxy")
	h.prefs.values[models.PrefModuleRunning] = true
	h.store.Set(module.Running)
	h.m.Start()

	h.m.OnStartButtonPressed()

	if got := h.store.Get(); got != module.Stopped {
		t.Fatalf("state = %v right after stopping an idle daemon, want stopped", got)
	}

	h.tick("")

	if n := h.notify.count(models.KeyStoppedUnexpectedly); n != 0 {
		t.Errorf("stopped unexpectedly reported %d times after a user stop", n)
	}
	if h.m.Period() != 0 {
		t.Errorf("Period() = %v, want tailing cancelled", h.m.Period())
	}
}
