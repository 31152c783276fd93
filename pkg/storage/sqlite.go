package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MetricsRecorder records storage metrics without importing the telemetry
// package, which would create an import cycle.
type MetricsRecorder interface {
	AddDroppedQuery(ctx context.Context, count int64)
}

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	client_ip TEXT NOT NULL,
	domain TEXT NOT NULL,
	query_type TEXT NOT NULL,
	action TEXT NOT NULL,
	rule TEXT,
	upstream TEXT,
	response_code INTEGER NOT NULL,
	response_time_ms REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_timestamp ON queries(timestamp);
CREATE INDEX IF NOT EXISTS idx_queries_domain ON queries(domain);
`

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db              *sql.DB
	cfg             *Config
	metrics         MetricsRecorder
	buffer          chan *QueryLog
	stmtInsertQuery *sql.Stmt
	wg              sync.WaitGroup
	mu              sync.RWMutex
	closed          bool
}

// NewSQLiteStorage creates a new SQLite storage backend
func NewSQLiteStorage(cfg *Config, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrNotEnabled
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if _, schemaErr := db.Exec(schema); schemaErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", schemaErr)
	}

	stmtInsert, err := db.Prepare(`
		INSERT INTO queries
		(timestamp, client_ip, domain, query_type, action, rule, upstream, response_code, response_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s := &SQLiteStorage{
		db:              db,
		cfg:             cfg,
		metrics:         metrics,
		buffer:          make(chan *QueryLog, cfg.BufferSize),
		stmtInsertQuery: stmtInsert,
	}

	s.wg.Add(1)
	go s.flushWorker()

	return s, nil
}

// LogQuery logs a DNS query (async, buffered)
func (s *SQLiteStorage) LogQuery(ctx context.Context, query *QueryLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if query.Timestamp.IsZero() {
		query.Timestamp = time.Now()
	}

	select {
	case s.buffer <- query:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Buffer full, drop the entry and record it
		if s.metrics != nil {
			s.metrics.AddDroppedQuery(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker drains the buffer in the background, batching inserts so
// logging never blocks DNS request processing. It exits after the buffer
// channel is closed and the remaining entries are flushed.
func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*QueryLog, 0, s.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			slog.Default().Error("Failed to flush query batch",
				"error", err,
				"batch_size", len(batch),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case query, ok := <-s.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, query)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// flushBatch writes a batch of queries in a single transaction.
func (s *SQLiteStorage) flushBatch(queries []*QueryLog) error {
	if len(queries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt := tx.Stmt(s.stmtInsertQuery)

	for _, query := range queries {
		_, err := stmt.Exec(
			query.Timestamp,
			query.ClientIP,
			query.Domain,
			query.QueryType,
			string(query.Action),
			query.Rule,
			query.Upstream,
			query.ResponseCode,
			query.ResponseTimeMs,
		)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return nil
}

// GetRecentQueries returns the most recent queries with pagination support
func (s *SQLiteStorage) GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, client_ip, domain, query_type, action, rule, upstream, response_code, response_time_ms
		FROM queries
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanQueryLogs(rows)
}

// GetQueriesByDomain returns queries for a specific domain
func (s *SQLiteStorage) GetQueriesByDomain(ctx context.Context, domain string, limit int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, client_ip, domain, query_type, action, rule, upstream, response_code, response_time_ms
		FROM queries
		WHERE domain = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanQueryLogs(rows)
}

// GetStatistics returns query statistics since a given time
func (s *SQLiteStorage) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Statistics{
		Since: since,
		Until: time.Now(),
	}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN action = 'refused' THEN 1 ELSE 0 END) as refused,
			SUM(CASE WHEN action = 'redirected' THEN 1 ELSE 0 END) as redirected,
			SUM(CASE WHEN action = 'pass' THEN 1 ELSE 0 END) as passed,
			COUNT(DISTINCT domain) as unique_domains,
			COUNT(DISTINCT client_ip) as unique_clients,
			AVG(response_time_ms) as avg_response_time
		FROM queries
		WHERE timestamp >= ?
	`, since).Scan(
		&stats.TotalQueries,
		&stats.RefusedQueries,
		&stats.RedirectedQueries,
		&stats.PassedQueries,
		&stats.UniqueDomains,
		&stats.UniqueClients,
		&avg,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	stats.AvgResponseTimeMs = avg.Float64

	if stats.TotalQueries > 0 {
		matched := stats.RefusedQueries + stats.RedirectedQueries
		stats.MatchRate = float64(matched) / float64(stats.TotalQueries) * 100
	}

	return stats, nil
}

// GetTopDomains returns the most queried domains
func (s *SQLiteStorage) GetTopDomains(ctx context.Context, limit int) ([]*DomainStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, COUNT(*) AS total, MAX(timestamp) AS last_seen
		FROM queries
		GROUP BY domain
		ORDER BY total DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var domains []*DomainStats
	for rows.Next() {
		var d DomainStats
		var lastRaw sql.NullString
		if err := rows.Scan(&d.Domain, &d.QueryCount, &lastRaw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		if lastRaw.Valid {
			d.LastQueried = parseSQLiteTime(lastRaw.String)
		}
		domains = append(domains, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	return domains, nil
}

// Cleanup removes old queries based on retention policy
func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM queries WHERE timestamp < ?
	`, olderThan)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	rows, _ := result.RowsAffected()

	// VACUUM only after significant deletions
	if rows > 10000 {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			slog.Default().Error("VACUUM operation failed",
				"error", err,
				"deleted_rows", rows,
			)
		}
	}

	return nil
}

// Close closes the storage backend
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.buffer)
	s.wg.Wait()

	if s.stmtInsertQuery != nil {
		_ = s.stmtInsertQuery.Close()
	}

	return s.db.Close()
}

// Ping checks if the storage is reachable
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.db.PingContext(ctx)
}

func parseSQLiteTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// scanQueryLogs scans SQL rows into QueryLog structs, handling NULLs in
// the optional rule and upstream columns.
func scanQueryLogs(rows *sql.Rows) ([]*QueryLog, error) {
	var queries []*QueryLog

	for rows.Next() {
		var q QueryLog
		var rule, upstream sql.NullString
		var action string

		err := rows.Scan(
			&q.ID,
			&q.Timestamp,
			&q.ClientIP,
			&q.Domain,
			&q.QueryType,
			&action,
			&rule,
			&upstream,
			&q.ResponseCode,
			&q.ResponseTimeMs,
		)
		if err != nil {
			return nil, err
		}

		q.Action = Action(action)
		if rule.Valid {
			q.Rule = rule.String
		}
		if upstream.Valid {
			q.Upstream = upstream.String
		}

		queries = append(queries, &q)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return queries, nil
}
