// Package stats tallies blocking matches per rule pattern. The recorder is
// write-only from the query path; the admin surface reads and resets it.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Entry holds the tally for one pattern.
type Entry struct {
	Pattern   string    `json:"pattern"`
	Count     int64     `json:"count"`
	LastMatch time.Time `json:"last_match"`
}

// Recorder is a concurrent-safe per-pattern match counter.
type Recorder struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{entries: make(map[string]*Entry)}
}

// Record increments the tally for a pattern, stamping the match time.
func (r *Recorder) Record(pattern string) {
	r.RecordAt(pattern, time.Now())
}

// RecordAt increments the tally with an explicit timestamp. Exposed for the
// handler, which has already taken its per-query time sample.
func (r *Recorder) RecordAt(pattern string, ts time.Time) {
	r.mu.Lock()
	e, ok := r.entries[pattern]
	if !ok {
		e = &Entry{Pattern: pattern}
		r.entries[pattern] = e
	}
	e.Count++
	e.LastMatch = ts
	r.mu.Unlock()
}

// Snapshot returns the current tallies sorted by count descending, then
// pattern. The result is a copy: later increments do not mutate it.
func (r *Recorder) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Reset clears all tallies.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()
}

// Total returns the sum of all tallies.
func (r *Recorder) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, e := range r.entries {
		total += e.Count
	}
	return total
}
