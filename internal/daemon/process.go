// Package daemon launches and stops the resolution daemon.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rsclarke/dnsmon/internal/logging"
	"github.com/rsclarke/dnsmon/internal/module"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// DefaultKillTimeout is how long Stop waits after SIGTERM before SIGKILL.
const DefaultKillTimeout = 10 * time.Second

// Config describes the daemon command line.
type Config struct {
	Binary      string
	Args        []string
	LogPath     string // stdout and stderr, truncated on every start
	KillTimeout time.Duration
}

// Process runs the daemon as a child process and reports its lifecycle
// through the state store.
type Process struct {
	cfg    Config
	store  *module.Store
	logger *zap.Logger

	mu         sync.Mutex
	cmd        *exec.Cmd
	done       chan struct{}
	restarting bool
}

// New creates a Process. Nothing runs until Start.
func New(cfg Config, store *module.Store, logger *zap.Logger) *Process {
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	return &Process{cfg: cfg, store: store, logger: logger}
}

// Start launches the daemon. The state becomes Starting, and Stopped once the
// process exits or fails to launch.
func (p *Process) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		p.logger.Warn("daemon already running", zap.Int("pid", p.cmd.Process.Pid))
		return
	}
	if err := p.startLocked(); err != nil {
		p.logger.Error("failed to start daemon", zap.String("binary", p.cfg.Binary), zap.Error(err))
		p.store.Set(module.Stopped)
	}
}

func (p *Process) startLocked() error {
	p.store.Set(module.Starting)

	if err := os.MkdirAll(filepath.Dir(p.cfg.LogPath), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(p.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}

	cmd := exec.Command(p.cfg.Binary, p.cfg.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("exec %s: %w", p.cfg.Binary, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.done = done

	p.logger.Info("daemon started", zap.Int("pid", cmd.Process.Pid), zap.String("binary", p.cfg.Binary))
	go p.wait(cmd, logFile, done)
	return nil
}

func (p *Process) wait(cmd *exec.Cmd, logFile *os.File, done chan struct{}) {
	err := cmd.Wait()
	_ = logFile.Close()
	close(done)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == cmd {
		p.cmd = nil
		p.done = nil
	}

	if err != nil {
		p.logger.Info("daemon exited", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	} else {
		p.logger.Info("daemon exited", zap.Int("pid", cmd.Process.Pid))
	}

	if p.restarting {
		p.restarting = false
		if err := p.startLocked(); err != nil {
			p.logger.Error("failed to restart daemon", zap.Error(err))
			p.store.Set(module.Stopped)
		}
		return
	}
	p.store.Set(module.Stopped)
}

// Stop asks the daemon to terminate. The state becomes Stopping, and Stopped
// once the process has exited.
func (p *Process) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.restarting = false
	if p.cmd == nil {
		p.store.Set(module.Stopped)
		return
	}
	p.store.Set(module.Stopping)
	p.signalLocked()
}

// Restart stops the daemon and starts it again once it has exited. The state
// is Restarting until the new process launches.
func (p *Process) Restart() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		if err := p.startLocked(); err != nil {
			p.logger.Error("failed to start daemon", zap.Error(err))
			p.store.Set(module.Stopped)
		}
		return
	}
	p.restarting = true
	p.store.Set(module.Restarting)
	p.signalLocked()
}

// Shutdown stops the daemon and waits for it to exit or for ctx to end.
func (p *Process) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	p.Stop()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for daemon exit: %w", ctx.Err())
	}
}

// Running reports whether a daemon process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// signalLocked sends SIGTERM to the daemon's process group and escalates to
// SIGKILL after the kill timeout.
func (p *Process) signalLocked() {
	pid := p.cmd.Process.Pid
	done := p.done

	p.logger.Info("stopping daemon", zap.Int("pid", pid), logging.State(p.store.Get().String()))
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		p.logger.Warn("sigterm failed", zap.Int("pid", pid), zap.Error(err))
	}

	go func() {
		select {
		case <-done:
		case <-time.After(p.cfg.KillTimeout):
			p.logger.Warn("daemon did not exit, killing", zap.Int("pid", pid))
			_ = unix.Kill(-pid, unix.SIGKILL)
		}
	}()
}
