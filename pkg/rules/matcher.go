package rules

// Decision is the outcome of matching a query name against a snapshot:
// either Block with the winning rule's target, or pass-through.
type Decision struct {
	Block   bool
	Target  Target
	Pattern string // winning rule pattern, for stats and logging
}

// Pass is the no-rule-applies decision.
var Pass = Decision{}

// Decide matches a query name against a snapshot at the given minute of the
// day and returns the decision. It is pure and deterministic: no I/O, no
// clock, no store access.
//
// A rule is a candidate iff it is enabled, its pattern matches the
// normalized name, and its window contains nowMinutes. Among candidates the
// most specific pattern wins: exact patterns outrank wildcards, longer
// wildcard suffixes outrank shorter ones, and insertion order breaks ties.
func Decide(name string, snap *Snapshot, nowMinutes int) Decision {
	if snap == nil {
		return Pass
	}
	name = NormalizeName(name)

	bestIdx := -1
	bestExact := false
	bestSuffix := -1

	for i, r := range snap.rules {
		if !r.Enabled || !r.Window.Contains(nowMinutes) || !r.Matches(name) {
			continue
		}
		exact := !r.Wildcard()
		suffixLen := len(r.Suffix())

		if bestIdx < 0 {
			bestIdx, bestExact, bestSuffix = i, exact, suffixLen
			continue
		}
		// Strictly-better only: equal specificity keeps the earlier rule.
		if exact && !bestExact {
			bestIdx, bestExact, bestSuffix = i, exact, suffixLen
			continue
		}
		if exact == bestExact && !exact && suffixLen > bestSuffix {
			bestIdx, bestSuffix = i, suffixLen
		}
	}

	if bestIdx < 0 {
		return Pass
	}
	winner := snap.rules[bestIdx]
	return Decision{
		Block:   true,
		Target:  winner.Target,
		Pattern: winner.Pattern,
	}
}
