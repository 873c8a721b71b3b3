// Package render merges the log tail and classified records into tview markup.
package render

import (
	"strings"
	"sync"

	"github.com/rivo/tview"
	"github.com/rsclarke/dnsmon/internal/records"
)

// Record colors.
const (
	ColorBlocked    = "#f08080"
	ColorAttributed = "#E7AD42"
	ColorPlain      = "#009688"
)

// Payload is one renderable update for the activity view.
type Payload struct {
	Text        string
	ScrollToEnd bool
}

// Renderer suppresses payloads identical to the last one delivered.
type Renderer struct {
	mu         sync.Mutex
	last       string
	autoScroll bool
}

// New creates a Renderer.
func New(autoScroll bool) *Renderer {
	return &Renderer{autoScroll: autoScroll}
}

// SetAutoScroll enables or disables rendering.
func (r *Renderer) SetAutoScroll(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoScroll = enabled
}

// AutoScroll reports whether rendering is enabled.
func (r *Renderer) AutoScroll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoScroll
}

// Render builds the payload for tail and recs. It returns false when the
// content is empty, unchanged since the last Commit, or auto-scroll is off.
// Render never advances the last rendered text; call Commit once the payload
// has been delivered.
func (r *Renderer) Render(tail string, recs []records.ClassifiedRecord) (Payload, bool) {
	if tail == "" && len(recs) == 0 {
		return Payload{}, false
	}

	text := Format(tail, recs)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.autoScroll || text == r.last {
		return Payload{}, false
	}
	return Payload{Text: text, ScrollToEnd: true}, true
}

// Commit records p as what the user last saw.
func (r *Renderer) Commit(p Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = p.Text
}

// Last returns the last committed text.
func (r *Renderer) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Reset forgets the last committed text.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = ""
}

// Format returns the escaped tail followed by one colored line per record.
func Format(tail string, recs []records.ClassifiedRecord) string {
	var b strings.Builder
	b.WriteString(tview.Escape(tail))
	if len(recs) == 0 {
		return b.String()
	}

	b.WriteString("\n")
	for i, rec := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(Line(rec))
	}
	return b.String()
}

// Line renders a single record.
func Line(rec records.ClassifiedRecord) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(color(rec.Kind))
	b.WriteString("]")
	if rec.Label != "" {
		b.WriteString("[::b]")
		b.WriteString(tview.Escape(rec.Label))
		b.WriteString("[::-] -> ")
	}
	b.WriteString(tview.Escape(rec.Text))
	b.WriteString("[-]")
	return b.String()
}

func color(k records.Kind) string {
	switch k {
	case records.KindBlocked:
		return ColorBlocked
	case records.KindAttributed:
		return ColorAttributed
	default:
		return ColorPlain
	}
}
