package rules

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, SaveFile(path, EmptySnapshot(), false))

	store := NewStore("maintenance")
	watcher, err := NewWatcher(path, store, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Start(ctx)
	}()

	body := `{"rules":[{"pattern":"*.ads.example.","ip":"REFUSED","start":"","end":"","enabled":true}],"maintenance":true}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	require.Eventually(t, func() bool {
		return store.CurrentSnapshot().Len() == 1 && store.Maintenance()
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

// Start is a blocking loop: callers must run it on its own goroutine, and it
// must return promptly once the context is canceled so shutdown can proceed.
func TestWatcherStartBlocksUntilCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, SaveFile(path, EmptySnapshot(), false))

	store := NewStore("maintenance")
	watcher, err := NewWatcher(path, store, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Start(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Start returned before cancel: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestWatcherIgnoresInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	seed := NewSnapshot([]Rule{mustRule(t, "keep.example.", "REFUSED", Window{}, true)})
	require.NoError(t, SaveFile(path, seed, false))

	store := NewStore("maintenance")
	store.Publish(seed)

	watcher, err := NewWatcher(path, store, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Start(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	// A bad document never partially applies: the published state stays put.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, store.CurrentSnapshot().Len())
	assert.Equal(t, "keep.example.", store.CurrentSnapshot().Rules()[0].Pattern)
}

func TestWatcherMissingFileFails(t *testing.T) {
	store := NewStore("maintenance")
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing.json"), store, slog.Default())
	assert.Error(t, err)
}
