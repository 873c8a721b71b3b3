// Package readiness reports supervisor state to systemd.
package readiness

import (
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rsclarke/dnsmon/internal/module"
	"go.uber.org/zap"
)

// Notifier sends sd_notify messages. Outside systemd every call is a no-op.
type Notifier struct {
	logger *zap.Logger
	notify func(unsetEnvironment bool, state string) (bool, error)

	mu    sync.Mutex
	last  module.State
	ready bool
}

// New creates a Notifier.
func New(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger, notify: daemon.SdNotify, last: -1}
}

// Ready reports that dnsmon has finished starting.
func (n *Notifier) Ready() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ready {
		return
	}
	n.ready = true
	n.send(daemon.SdNotifyReady)
}

// Status publishes the daemon state. Repeated states are sent once.
func (n *Notifier) Status(state module.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if state == n.last {
		return
	}
	n.last = state
	n.send(fmt.Sprintf("STATUS=daemon %s", state))
}

// Stopping reports that dnsmon is shutting down.
func (n *Notifier) Stopping() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send(daemon.SdNotifyStopping)
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", zap.String("state", state))
	}
}
