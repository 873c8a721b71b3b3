// Package monitor supervises the resolution daemon: it tails the daemon log,
// reacts to what the log says, and merges captured DNS records into the
// activity view.
package monitor

import (
	"errors"

	"github.com/rsclarke/dnsmon/internal/config"
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/records"
	"github.com/rsclarke/dnsmon/internal/tail"
	"go.uber.org/zap"
)

// DaemonControl starts and stops the daemon. Both calls return immediately;
// the outcome is observed through the state store.
type DaemonControl interface {
	Start()
	Stop()
}

// Router manages system-level DNS routing.
type Router interface {
	DenySystemDNS()
	ReloadVirtualInterface(reason string)
}

// Binder connects to the record producer. done is called later with the
// feed, or with nil when the connection failed.
type Binder interface {
	Bind(done func(records.Feed))
}

// NotificationSink surfaces problems to the user.
type NotificationSink interface {
	Recoverable(key, text string)
	Fatal(key, text string)
}

// Prefs is persistent boolean storage.
type Prefs interface {
	Bool(key string) (bool, error)
	SetBool(key string, value bool) error
}

// Env holds everything the monitor works with.
type Env struct {
	Store  *module.Store
	Config *config.Config
	Tail   tail.Reader
	Daemon DaemonControl
	Router Router
	Binder Binder // optional; records are unavailable without it
	Apps   records.AppNameResolver
	Hosts  records.HostResolver // optional
	Notify NotificationSink
	Prefs  Prefs
	Logger *zap.Logger
}

func (e Env) validate() error {
	switch {
	case e.Store == nil:
		return errors.New("monitor: state store is required")
	case e.Config == nil:
		return errors.New("monitor: config is required")
	case e.Tail == nil:
		return errors.New("monitor: tail reader is required")
	case e.Daemon == nil:
		return errors.New("monitor: daemon control is required")
	case e.Router == nil:
		return errors.New("monitor: router is required")
	case e.Notify == nil:
		return errors.New("monitor: notification sink is required")
	case e.Prefs == nil:
		return errors.New("monitor: preference store is required")
	}
	return nil
}
