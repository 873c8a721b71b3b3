// Package module holds the lifecycle state of the supervised DNS daemon.
package module

import (
	"fmt"
	"strings"
	"sync"
)

// State is the lifecycle state of the supervised daemon.
type State int

// Lifecycle states.
const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Restarting
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Restarting:
		return "restarting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Mode is how DNS traffic is routed to the daemon.
type Mode string

// Operation modes.
const (
	RootMode Mode = "root"
	VPNMode  Mode = "vpn"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case RootMode:
		return RootMode, nil
	case VPNMode:
		return VPNMode, nil
	default:
		return "", fmt.Errorf("unknown operation mode %q (expected root|vpn)", s)
	}
}

// Store is the process-wide holder of the current module state.
// Any value may overwrite any other; callers own transition legality.
type Store struct {
	mu    sync.RWMutex
	state State
	mode  Mode
}

// NewStore creates a store in the Stopped state for the given mode.
func NewStore(mode Mode) *Store {
	return &Store{state: Stopped, mode: mode}
}

// Get returns the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set replaces the current state.
func (s *Store) Set(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Mode returns the operation mode fixed at construction.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}
