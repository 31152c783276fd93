package rules

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Store holds the current rule snapshot and the maintenance flag. Reads are
// lock-free: the snapshot lives behind an atomic pointer and is replaced
// wholesale on every edit, so the query path never blocks on an
// administrative write and never observes a half-applied change. Writers are
// serialized by a mutex.
type Store struct {
	current     atomic.Pointer[Snapshot]
	maintenance atomic.Bool
	notice      string

	mu        sync.Mutex // serializes mutators and callbacks
	onChange  func(*Snapshot, bool)
	onPublish func(*Snapshot)
}

// NewStore creates a store with an empty snapshot and the given maintenance
// TXT notice.
func NewStore(notice string) *Store {
	s := &Store{notice: notice}
	s.current.Store(EmptySnapshot())
	return s
}

// CurrentSnapshot returns the latest fully-published snapshot. Never blocks,
// never fails.
func (s *Store) CurrentSnapshot() *Snapshot {
	return s.current.Load()
}

// Publish atomically replaces the current snapshot. Readers see either the
// old or the new snapshot in full, never a mix.
func (s *Store) Publish(snap *Snapshot) {
	if snap == nil {
		snap = EmptySnapshot()
	}
	s.mu.Lock()
	s.current.Store(snap)
	s.notify(snap)
	s.mu.Unlock()
}

// SetMaintenance flips the global maintenance override.
func (s *Store) SetMaintenance(active bool) {
	s.mu.Lock()
	s.maintenance.Store(active)
	s.notify(s.current.Load())
	s.mu.Unlock()
}

// Maintenance reports whether maintenance mode is active.
func (s *Store) Maintenance() bool {
	return s.maintenance.Load()
}

// Notice returns the fixed maintenance TXT payload.
func (s *Store) Notice() string {
	return s.notice
}

// OnChange registers a callback invoked after every published change with
// the new snapshot and maintenance state. Used by the administrative surface
// for write-through persistence. Must be set before the store is shared.
func (s *Store) OnChange(fn func(snap *Snapshot, maintenance bool)) {
	s.onChange = fn
}

// OnPublish registers an observer invoked with every snapshot that becomes
// current, whatever the path: administrative edits and disk reloads alike.
// Used for gauges that must follow the published rule count. Must be set
// before the store is shared.
func (s *Store) OnPublish(fn func(snap *Snapshot)) {
	s.onPublish = fn
}

// notify runs the callbacks. Caller holds s.mu.
func (s *Store) notify(snap *Snapshot) {
	if s.onChange != nil {
		s.onChange(snap, s.maintenance.Load())
	}
	if s.onPublish != nil {
		s.onPublish(snap)
	}
}

// replaceFromDisk swaps in state already persisted on disk without firing
// the write-through callback, so a reload never echoes back into a save.
// The publish observer still fires.
func (s *Store) replaceFromDisk(snap *Snapshot, maintenance bool) {
	if snap == nil {
		snap = EmptySnapshot()
	}
	s.mu.Lock()
	s.current.Store(snap)
	s.maintenance.Store(maintenance)
	if s.onPublish != nil {
		s.onPublish(snap)
	}
	s.mu.Unlock()
}

// AddRule validates the rule and publishes a snapshot with it appended.
// Invalid rules are rejected without touching the published state.
func (s *Store) AddRule(pattern string, target Target, window Window, enabled bool) error {
	rule, err := NewRule(pattern, target, window, enabled)
	if err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	s.mu.Lock()
	next := s.current.Load().withRule(rule)
	s.current.Store(next)
	s.notify(next)
	s.mu.Unlock()
	return nil
}

// RemoveRule publishes a snapshot with every rule carrying the pattern
// removed. Returns the number of rules removed.
func (s *Store) RemoveRule(pattern string) (int, error) {
	normalized, err := NormalizePattern(pattern)
	if err != nil {
		return 0, fmt.Errorf("remove rule: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, removed := s.current.Load().withoutPattern(normalized)
	if removed == 0 {
		return 0, nil
	}
	s.current.Store(next)
	s.notify(next)
	return removed, nil
}

// ToggleRule flips the enabled flag of the first rule carrying the pattern
// and publishes the result. Returns the new enabled state and whether a rule
// was found.
func (s *Store) ToggleRule(pattern string) (enabled, found bool, err error) {
	normalized, err := NormalizePattern(pattern)
	if err != nil {
		return false, false, fmt.Errorf("toggle rule: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, enabled, found := s.current.Load().withToggled(normalized)
	if !found {
		return false, false, nil
	}
	s.current.Store(next)
	s.notify(next)
	return enabled, true, nil
}
