package records

import (
	"slices"
	"sync"
)

// Buffer is a multi-producer raw record buffer. Adding a record equal to
// one already buffered is a no-op, and the oldest records are dropped once
// the buffer reaches its capacity.
type Buffer struct {
	mu      sync.RWMutex
	records []RawQueryRecord
	max     int
}

// NewBuffer creates a buffer holding at most max records.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1
	}
	return &Buffer{max: max, records: make([]RawQueryRecord, 0, max)}
}

// Add appends r unless an equal record is already buffered.
// It reports whether the record was added.
func (b *Buffer) Add(r RawQueryRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if slices.Contains(b.records, r) {
		return false
	}
	if len(b.records) >= b.max {
		b.records = slices.Delete(b.records, 0, len(b.records)-b.max+1)
	}
	b.records = append(b.records, r)
	return true
}

// Snapshot returns a copy of the buffered records in arrival order.
func (b *Buffer) Snapshot() []RawQueryRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.records)
}

// Clear drops all buffered records.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = b.records[:0]
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}
