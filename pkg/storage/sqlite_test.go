package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) Storage {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.FlushInterval = 50 * time.Millisecond

	s, err := NewSQLiteStorage(&cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func logEntry(domain string, action Action) *QueryLog {
	return &QueryLog{
		Timestamp:      time.Now(),
		ClientIP:       "192.168.1.10",
		Domain:         domain,
		QueryType:      "A",
		Action:         action,
		ResponseCode:   0,
		ResponseTimeMs: 1.5,
	}
}

func TestLogAndGetRecentQueries(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	entry := logEntry("facebook.com.", ActionRefused)
	entry.Rule = "*.facebook.com"
	require.NoError(t, s.LogQuery(ctx, entry))
	require.NoError(t, s.LogQuery(ctx, logEntry("example.com.", ActionPass)))

	require.Eventually(t, func() bool {
		queries, err := s.GetRecentQueries(ctx, 10, 0)
		return err == nil && len(queries) == 2
	}, 2*time.Second, 25*time.Millisecond)

	queries, err := s.GetRecentQueries(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queries, 2)

	for _, q := range queries {
		if q.Domain == "facebook.com." {
			assert.Equal(t, ActionRefused, q.Action)
			assert.Equal(t, "*.facebook.com", q.Rule)
		}
	}
}

func TestGetQueriesByDomain(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.LogQuery(ctx, logEntry("a.example.", ActionPass)))
	require.NoError(t, s.LogQuery(ctx, logEntry("b.example.", ActionPass)))
	require.NoError(t, s.LogQuery(ctx, logEntry("a.example.", ActionRefused)))

	require.Eventually(t, func() bool {
		queries, err := s.GetQueriesByDomain(ctx, "a.example.", 10)
		return err == nil && len(queries) == 2
	}, 2*time.Second, 25*time.Millisecond)
}

func TestGetStatistics(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.LogQuery(ctx, logEntry("a.example.", ActionRefused)))
	require.NoError(t, s.LogQuery(ctx, logEntry("b.example.", ActionRedirected)))
	require.NoError(t, s.LogQuery(ctx, logEntry("c.example.", ActionPass)))
	require.NoError(t, s.LogQuery(ctx, logEntry("c.example.", ActionPass)))

	since := time.Now().Add(-time.Hour)
	require.Eventually(t, func() bool {
		stats, err := s.GetStatistics(ctx, since)
		return err == nil && stats.TotalQueries == 4
	}, 2*time.Second, 25*time.Millisecond)

	stats, err := s.GetStatistics(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RefusedQueries)
	assert.Equal(t, int64(1), stats.RedirectedQueries)
	assert.Equal(t, int64(2), stats.PassedQueries)
	assert.Equal(t, int64(3), stats.UniqueDomains)
	assert.InDelta(t, 50.0, stats.MatchRate, 0.01)
}

func TestGetTopDomains(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogQuery(ctx, logEntry("popular.example.", ActionPass)))
	}
	require.NoError(t, s.LogQuery(ctx, logEntry("rare.example.", ActionPass)))

	require.Eventually(t, func() bool {
		domains, err := s.GetTopDomains(ctx, 10)
		return err == nil && len(domains) == 2
	}, 2*time.Second, 25*time.Millisecond)

	domains, err := s.GetTopDomains(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "popular.example.", domains[0].Domain)
	assert.Equal(t, int64(3), domains[0].QueryCount)
}

func TestCleanup(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	old := logEntry("stale.example.", ActionPass)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.LogQuery(ctx, old))
	require.NoError(t, s.LogQuery(ctx, logEntry("fresh.example.", ActionPass)))

	require.Eventually(t, func() bool {
		queries, err := s.GetRecentQueries(ctx, 10, 0)
		return err == nil && len(queries) == 2
	}, 2*time.Second, 25*time.Millisecond)

	require.NoError(t, s.Cleanup(ctx, time.Now().Add(-24*time.Hour)))

	queries, err := s.GetRecentQueries(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "fresh.example.", queries[0].Domain)
}

func TestClosedStorage(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Close())

	ctx := context.Background()
	assert.ErrorIs(t, s.LogQuery(ctx, logEntry("x.example.", ActionPass)), ErrClosed)
	_, err := s.GetRecentQueries(ctx, 10, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrClosed)

	// Second close is a no-op.
	assert.NoError(t, s.Close())
}

func TestBufferFullDropsQueries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.BufferSize = 1
	cfg.FlushInterval = time.Hour // keep the worker idle

	rec := &countingRecorder{}
	s, err := NewSQLiteStorage(&cfg, rec)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	// Fill the buffer, then overflow it. The flush worker may consume the
	// first entry, so push until a drop is observed.
	var dropped bool
	for i := 0; i < 10000; i++ {
		if err := s.LogQuery(ctx, logEntry("x.example.", ActionPass)); err == ErrBufferFull {
			dropped = true
			break
		}
	}
	assert.True(t, dropped)
	assert.Positive(t, rec.count)
}

type countingRecorder struct {
	count int64
}

func (r *countingRecorder) AddDroppedQuery(_ context.Context, n int64) {
	r.count += n
}
