package rules

// Snapshot is an immutable, ordered collection of rules. Insertion order is
// preserved and serves as the final tie-break during matching. A snapshot is
// never mutated after construction: the store replaces the whole snapshot on
// every administrative edit, so readers holding a reference can keep using it
// even after a concurrent publish.
type Snapshot struct {
	rules []Rule
}

// NewSnapshot builds a snapshot from the given rules. The slice is copied so
// later mutation of the caller's slice cannot leak into the snapshot.
func NewSnapshot(rs []Rule) *Snapshot {
	cp := make([]Rule, len(rs))
	copy(cp, rs)
	return &Snapshot{rules: cp}
}

// EmptySnapshot returns a snapshot with no rules.
func EmptySnapshot() *Snapshot {
	return &Snapshot{}
}

// Len returns the number of rules in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.rules)
}

// Rules returns a copy of the rules in insertion order.
func (s *Snapshot) Rules() []Rule {
	cp := make([]Rule, len(s.rules))
	copy(cp, s.rules)
	return cp
}

// withRule returns a new snapshot with the rule appended.
func (s *Snapshot) withRule(r Rule) *Snapshot {
	cp := make([]Rule, len(s.rules), len(s.rules)+1)
	copy(cp, s.rules)
	return &Snapshot{rules: append(cp, r)}
}

// withoutPattern returns a new snapshot with every rule carrying the pattern
// removed, plus the number of rules dropped.
func (s *Snapshot) withoutPattern(pattern string) (*Snapshot, int) {
	cp := make([]Rule, 0, len(s.rules))
	removed := 0
	for _, r := range s.rules {
		if r.Pattern == pattern {
			removed++
			continue
		}
		cp = append(cp, r)
	}
	return &Snapshot{rules: cp}, removed
}

// withToggled returns a new snapshot with the first rule carrying the pattern
// flipped, the resulting enabled state, and whether a rule was found.
func (s *Snapshot) withToggled(pattern string) (*Snapshot, bool, bool) {
	cp := make([]Rule, len(s.rules))
	copy(cp, s.rules)
	for i := range cp {
		if cp[i].Pattern == pattern {
			cp[i].Enabled = !cp[i].Enabled
			return &Snapshot{rules: cp}, cp[i].Enabled, true
		}
	}
	return &Snapshot{rules: cp}, false, false
}
