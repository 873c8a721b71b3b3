// Package records defines raw DNS query records captured by the routing
// layer and the classified records shown in the activity view.
package records

import "strings"

// NoOwnerUID marks a record with no owning process, i.e. traffic that did
// not pass through per-process routing.
const NoOwnerUID = -1000

// RawQueryRecord is one intercepted DNS exchange. Records are comparable by
// value; producers own them and consumers only read snapshots.
type RawQueryRecord struct {
	UID           int
	QName         string
	AName         string
	CName         string
	DAddr         string // resolved addresses, ", " separated
	SAddr         string
	Blocked       bool
	BlockedByIPv6 bool
}

// FirstDAddr returns the first resolved address.
func (r RawQueryRecord) FirstDAddr() string {
	first, _, _ := strings.Cut(r.DAddr, ", ")
	return strings.TrimSpace(first)
}

// Kind is the display classification of a record.
type Kind int

// Record kinds.
const (
	KindPlain Kind = iota
	KindAttributed
	KindBlocked
)

func (k Kind) String() string {
	switch k {
	case KindBlocked:
		return "blocked"
	case KindAttributed:
		return "attributed"
	default:
		return "plain"
	}
}

// ClassifiedRecord is a raw record enriched with attribution and display
// text. Label is the owning application or network segment, empty when
// the flow is unlabeled.
type ClassifiedRecord struct {
	Kind  Kind
	Label string
	Text  string
	Raw   RawQueryRecord
}

// Line renders the record as plain text.
func (c ClassifiedRecord) Line() string {
	if c.Label == "" {
		return c.Text
	}
	return c.Label + " -> " + c.Text
}

// Feed is the raw record source offered by the routing collaborator.
// Snapshot copies the buffer under a read lock held only for the copy.
type Feed interface {
	Snapshot() []RawQueryRecord
	Clear()
}
