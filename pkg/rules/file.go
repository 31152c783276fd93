package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileDocument is the persisted on-disk format, owned by the administrative
// surface: the rule list plus the maintenance flag. Times use "HH:MM" clock
// strings; the target is an IP literal or the REFUSED sentinel.
type fileDocument struct {
	Rules       []fileRule `json:"rules"`
	Maintenance bool       `json:"maintenance"`
}

type fileRule struct {
	Pattern string `json:"pattern"`
	IP      string `json:"ip"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}

// LoadFile reads the persisted rules document and builds the initial
// snapshot and maintenance state. A missing file is not an error: the
// responder starts with no rules, like a first run.
func LoadFile(path string) (*Snapshot, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptySnapshot(), false, nil
		}
		return nil, false, fmt.Errorf("read rules file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rs := make([]Rule, 0, len(doc.Rules))
	for i, fr := range doc.Rules {
		target, err := ParseTarget(fr.IP)
		if err != nil {
			return nil, false, fmt.Errorf("rules file %s, rule %d: %w", path, i, err)
		}
		window, err := WindowFromClock(fr.Start, fr.End)
		if err != nil {
			return nil, false, fmt.Errorf("rules file %s, rule %d: %w", path, i, err)
		}
		rule, err := NewRule(fr.Pattern, target, window, fr.Enabled)
		if err != nil {
			return nil, false, fmt.Errorf("rules file %s, rule %d: %w", path, i, err)
		}
		rs = append(rs, rule)
	}

	return NewSnapshot(rs), doc.Maintenance, nil
}

// SaveFile writes the snapshot and maintenance flag back to disk. The write
// goes through a temp file and rename so a crash mid-write never leaves a
// truncated document.
func SaveFile(path string, snap *Snapshot, maintenance bool) error {
	doc := fileDocument{
		Rules:       make([]fileRule, 0, snap.Len()),
		Maintenance: maintenance,
	}
	for _, r := range snap.Rules() {
		doc.Rules = append(doc.Rules, fileRule{
			Pattern: r.Pattern,
			IP:      r.Target.String(),
			Start:   formatClock(r.Window.Start),
			End:     formatClock(r.Window.End),
			Enabled: r.Enabled,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rules-*.json")
	if err != nil {
		return fmt.Errorf("write rules file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write rules file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write rules file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write rules file: %w", err)
	}
	return nil
}
