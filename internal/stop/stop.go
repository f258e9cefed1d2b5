// Package stop detects stop patterns in an incrementally produced text
// stream. The detector keeps only a bounded tail of the stream, so a
// long generation never grows its memory, while still catching patterns
// that arrive split across fragment boundaries.
package stop

import "strings"

// Detector scans a stream of text fragments for the earliest occurrence
// of any configured pattern. It is not safe for concurrent use.
type Detector struct {
	patterns []string
	limit    int

	// window holds the retained tail of the stream; off is the absolute
	// stream offset of window[0].
	window []byte
	off    int
}

// New returns a detector for the given patterns. window bounds how much
// stream tail is retained; it is clamped so the longest pattern always
// fits. Empty patterns are ignored.
func New(patterns []string, window int) *Detector {
	kept := make([]string, 0, len(patterns))
	longest := 0
	for _, p := range patterns {
		if p == "" {
			continue
		}
		kept = append(kept, p)
		if len(p) > longest {
			longest = len(p)
		}
	}
	if window < longest {
		window = longest
	}
	if window <= 0 {
		window = 1
	}
	return &Detector{patterns: kept, limit: window}
}

// Write appends a fragment to the stream.
func (d *Detector) Write(fragment string) {
	if len(d.patterns) == 0 {
		d.off += len(fragment)
		return
	}
	d.window = append(d.window, fragment...)
	if drop := len(d.window) - d.limit; drop > 0 {
		d.window = append(d.window[:0], d.window[drop:]...)
		d.off += drop
	}
}

// Match reports whether any pattern occurs in the retained stream, and
// if so the absolute stream offset where the earliest match begins.
func (d *Detector) Match() (int, bool) {
	best := -1
	w := string(d.window)
	for _, p := range d.patterns {
		if i := strings.Index(w, p); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return d.off + best, true
}

// Reset discards all stream state so the detector can scan a new stream.
func (d *Detector) Reset() {
	d.window = d.window[:0]
	d.off = 0
}
