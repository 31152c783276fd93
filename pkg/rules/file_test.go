package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissing(t *testing.T) {
	snap, maintenance, err := LoadFile(filepath.Join(t.TempDir(), "rules.json"))
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
	assert.False(t, maintenance)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")

	original := NewSnapshot([]Rule{
		mustRule(t, "*.ads.example.", "REFUSED", Window{}, true),
		mustRule(t, "tracker.example.", "0.0.0.0", Window{480, 1200}, true),
		mustRule(t, "night.example.", "::1", Window{1320, 360}, false),
	})
	require.NoError(t, SaveFile(path, original, true))

	snap, maintenance, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, maintenance)
	assert.Equal(t, original.Rules(), snap.Rules())
}

func TestLoadFileRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json at all"},
		{"bad target", `{"rules":[{"pattern":"a.example.","ip":"nonsense","start":"","end":"","enabled":true}]}`},
		{"bad clock", `{"rules":[{"pattern":"a.example.","ip":"REFUSED","start":"25:00","end":"06:00","enabled":true}]}`},
		{"empty pattern", `{"rules":[{"pattern":"","ip":"REFUSED","start":"","end":"","enabled":true}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			_, _, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFilePersistedClockFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	body := `{
  "rules": [
    {"pattern": "*.Ads.Example", "ip": "refused", "start": "22:00", "end": "06:00", "enabled": true},
    {"pattern": "plain.example", "ip": "1.2.3.4", "start": "", "end": "", "enabled": false}
  ],
  "maintenance": false
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	snap, maintenance, err := LoadFile(path)
	require.NoError(t, err)
	assert.False(t, maintenance)
	require.Equal(t, 2, snap.Len())

	rs := snap.Rules()
	assert.Equal(t, "*.ads.example.", rs[0].Pattern)
	assert.True(t, rs[0].Target.Refused())
	assert.Equal(t, Window{1320, 360}, rs[0].Window)
	assert.Equal(t, "plain.example.", rs[1].Pattern)
	assert.False(t, rs[1].Enabled)
}
