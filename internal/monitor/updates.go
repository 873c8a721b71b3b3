package monitor

import (
	"github.com/rsclarke/dnsmon/internal/module"
	"github.com/rsclarke/dnsmon/internal/render"
)

// UpdateKind identifies what an Update changes in the view.
type UpdateKind int

const (
	// UpdateLog replaces the activity text.
	UpdateLog UpdateKind = iota + 1
	// UpdateStatus shows a module status.
	UpdateStatus
	// UpdateStartControl enables or disables the start control.
	UpdateStartControl
	// UpdateProgress shows or hides the indeterminate progress indicator.
	UpdateProgress
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateLog:
		return "log"
	case UpdateStatus:
		return "status"
	case UpdateStartControl:
		return "start_control"
	case UpdateProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// Update is one change for the foreground consumer to apply.
type Update struct {
	Kind    UpdateKind
	Payload render.Payload // UpdateLog
	State   module.State   // UpdateStatus
	Enabled bool           // UpdateStartControl, UpdateProgress
}
