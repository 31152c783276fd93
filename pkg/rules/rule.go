// Package rules implements the query-decision engine for PabloDNS: validated
// filtering rules with daily time windows, immutable snapshots published
// copy-on-write, and the pure matcher that maps a query name and time of day
// to a decision.
package rules

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// MinutesPerDay is the number of minutes in a rule window's daily cycle.
const MinutesPerDay = 24 * 60

// Window is a daily time-of-day interval [Start, End) in minutes since
// midnight, local time. Start == End means active all day; Start > End means
// the interval wraps past midnight (e.g. 22:00-06:00).
type Window struct {
	Start int
	End   int
}

// NewWindow validates the minute bounds and returns a Window.
func NewWindow(start, end int) (Window, error) {
	if start < 0 || start >= MinutesPerDay {
		return Window{}, fmt.Errorf("window start %d out of range [0,%d)", start, MinutesPerDay)
	}
	if end < 0 || end >= MinutesPerDay {
		return Window{}, fmt.Errorf("window end %d out of range [0,%d)", end, MinutesPerDay)
	}
	return Window{Start: start, End: end}, nil
}

// WindowFromClock parses "HH:MM" clock strings. Empty strings mean
// all-day, matching the persisted format where an unset window is always
// active.
func WindowFromClock(start, end string) (Window, error) {
	if start == "" && end == "" {
		return Window{}, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return h*60 + m, nil
}

// AllDay reports whether the window covers the whole day.
func (w Window) AllDay() bool {
	return w.Start == w.End
}

// Contains reports whether the given minute-of-day falls inside the window.
func (w Window) Contains(minute int) bool {
	switch {
	case w.Start == w.End:
		return true
	case w.Start < w.End:
		return minute >= w.Start && minute < w.End
	default:
		// Wraps past midnight.
		return minute >= w.Start || minute < w.End
	}
}

// String renders the window as "HH:MM-HH:MM".
func (w Window) String() string {
	return fmt.Sprintf("%s-%s", formatClock(w.Start), formatClock(w.End))
}

// StartClock returns the window start as "HH:MM".
func (w Window) StartClock() string {
	return formatClock(w.Start)
}

// EndClock returns the window end as "HH:MM".
func (w Window) EndClock() string {
	return formatClock(w.End)
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// refusedSentinel is the persisted spelling of the refuse target.
const refusedSentinel = "REFUSED"

// Target is the outcome of a matching rule: either the refuse sentinel or an
// IPv4/IPv6 address used for redirection.
type Target struct {
	refuse bool
	ip     net.IP
}

// Refuse returns the refuse target.
func Refuse() Target {
	return Target{refuse: true}
}

// Redirect returns a redirection target for the given address.
func Redirect(ip net.IP) (Target, error) {
	if ip == nil {
		return Target{}, fmt.Errorf("redirect target requires an IP address")
	}
	return Target{ip: ip}, nil
}

// ParseTarget parses the persisted target spelling: the literal "REFUSED"
// (case-insensitive) or an IP literal.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, refusedSentinel) {
		return Refuse(), nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return Target{}, fmt.Errorf("invalid target %q: not %q or an IP literal", s, refusedSentinel)
	}
	return Target{ip: ip}, nil
}

// Refused reports whether the target is the refuse sentinel.
func (t Target) Refused() bool {
	return t.refuse
}

// IP returns the redirection address, or nil for the refuse sentinel.
func (t Target) IP() net.IP {
	return t.ip
}

// IsIPv4 reports whether the redirection address is IPv4.
func (t Target) IsIPv4() bool {
	return t.ip != nil && t.ip.To4() != nil
}

// String returns the persisted spelling of the target.
func (t Target) String() string {
	if t.refuse {
		return refusedSentinel
	}
	return t.ip.String()
}

// Rule is a single filtering directive. Rules are value types validated at
// construction; an invalid rule never enters a Snapshot.
type Rule struct {
	Pattern string // normalized: lower-case, single trailing dot
	Target  Target
	Window  Window
	Enabled bool
}

// NewRule validates and normalizes a rule. The pattern is either an exact
// fully-qualified name or a wildcard of the form "*.<suffix>" matching any
// strict subdomain of <suffix>.
func NewRule(pattern string, target Target, window Window, enabled bool) (Rule, error) {
	normalized, err := NormalizePattern(pattern)
	if err != nil {
		return Rule{}, err
	}
	if !target.refuse && target.ip == nil {
		return Rule{}, fmt.Errorf("rule %q: target is neither %s nor an IP", normalized, refusedSentinel)
	}
	return Rule{
		Pattern: normalized,
		Target:  target,
		Window:  window,
		Enabled: enabled,
	}, nil
}

// NormalizeName lower-cases a domain name and ensures a single trailing dot.
func NormalizeName(name string) string {
	return dns.Fqdn(strings.ToLower(strings.TrimSpace(name)))
}

// NormalizePattern normalizes a rule pattern the same way as query names,
// preserving a leading "*." wildcard marker.
func NormalizePattern(pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return "", fmt.Errorf("empty pattern")
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		if suffix == "" || suffix == "." {
			return "", fmt.Errorf("wildcard pattern %q has empty suffix", pattern)
		}
		if strings.Contains(suffix, "*") {
			return "", fmt.Errorf("pattern %q: wildcard allowed only as leading label", pattern)
		}
		return "*." + NormalizeName(suffix), nil
	}
	if strings.Contains(pattern, "*") {
		return "", fmt.Errorf("pattern %q: wildcard allowed only as leading label", pattern)
	}
	return NormalizeName(pattern), nil
}

// Wildcard reports whether the rule pattern is of the "*.<suffix>" form.
func (r Rule) Wildcard() bool {
	return strings.HasPrefix(r.Pattern, "*.")
}

// Suffix returns the wildcard suffix (without the "*." marker). For exact
// patterns it returns the pattern itself.
func (r Rule) Suffix() string {
	return strings.TrimPrefix(r.Pattern, "*.")
}

// Matches reports whether a normalized query name matches the rule pattern.
// Wildcards require at least one additional label: "*.ads.example." matches
// "x.ads.example." but not "ads.example.".
func (r Rule) Matches(name string) bool {
	if !r.Wildcard() {
		return name == r.Pattern
	}
	return strings.HasSuffix(name, "."+r.Suffix())
}
