package records

import (
	"slices"
	"sync"
)

// Aggregator pulls raw records from a feed and converts them, skipping the
// conversion when the feed has not changed since the last pull.
type Aggregator struct {
	classifier *Classifier

	mu         sync.Mutex
	snapshot   []RawQueryRecord
	classified []ClassifiedRecord
}

// NewAggregator creates an Aggregator around c.
func NewAggregator(c *Classifier) *Aggregator {
	return &Aggregator{classifier: c}
}

// Pull snapshots feed and returns the current classified records. changed
// is false, and the previous records are returned, when the snapshot is
// empty or equal by value to the previously converted one.
func (a *Aggregator) Pull(feed Feed) (current []ClassifiedRecord, changed bool) {
	var raw []RawQueryRecord
	if feed != nil {
		raw = feed.Snapshot()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(raw) == 0 || slices.Equal(raw, a.snapshot) {
		return a.classified, false
	}

	a.snapshot = raw
	a.classified = a.classifier.Convert(raw)
	return a.classified, true
}

// Current returns the last converted records without pulling.
func (a *Aggregator) Current() []ClassifiedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.classified
}

// HasSnapshot reports whether any records have been converted since the
// last Reset.
func (a *Aggregator) HasSnapshot() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.snapshot) > 0
}

// Reset discards the dedup snapshot and converted records.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = nil
	a.classified = nil
}
