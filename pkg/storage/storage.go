// Package storage persists the query log to SQLite.
package storage

import (
	"context"
	"time"
)

// Action describes how a query was answered.
type Action string

const (
	ActionPass        Action = "pass"
	ActionRefused     Action = "refused"
	ActionRedirected  Action = "redirected"
	ActionMaintenance Action = "maintenance"
	ActionServfail    Action = "servfail"
)

// Storage defines the interface for the query log backend.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Query logging
	LogQuery(ctx context.Context, query *QueryLog) error
	GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error)
	GetQueriesByDomain(ctx context.Context, domain string, limit int) ([]*QueryLog, error)

	// Statistics
	GetStatistics(ctx context.Context, since time.Time) (*Statistics, error)
	GetTopDomains(ctx context.Context, limit int) ([]*DomainStats, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Close() error
	Ping(ctx context.Context) error
}

// QueryLog represents a single DNS query log entry
type QueryLog struct {
	Timestamp      time.Time `json:"timestamp"`
	ClientIP       string    `json:"client_ip"`
	Domain         string    `json:"domain"`
	QueryType      string    `json:"query_type"`
	Action         Action    `json:"action"`
	Rule           string    `json:"rule,omitempty"`
	Upstream       string    `json:"upstream,omitempty"`
	ID             int64     `json:"id"`
	ResponseCode   int       `json:"response_code"`
	ResponseTimeMs float64   `json:"response_time_ms"`
}

// Statistics represents aggregated query statistics
type Statistics struct {
	Since             time.Time `json:"since"`
	Until             time.Time `json:"until"`
	TotalQueries      int64     `json:"total_queries"`
	RefusedQueries    int64     `json:"refused_queries"`
	RedirectedQueries int64     `json:"redirected_queries"`
	PassedQueries     int64     `json:"passed_queries"`
	UniqueDomains     int64     `json:"unique_domains"`
	UniqueClients     int64     `json:"unique_clients"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	MatchRate         float64   `json:"match_rate"` // Percentage of rule-matched queries
}

// DomainStats represents aggregated counts for a single domain
type DomainStats struct {
	LastQueried time.Time `json:"last_queried"`
	Domain      string    `json:"domain"`
	QueryCount  int64     `json:"query_count"`
}

// Config represents storage configuration
type Config struct {
	Path          string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	RetentionDays int
	Enabled       bool
}

// DefaultConfig returns a default storage configuration
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Path:          "./pablodns.db",
		BufferSize:    1000,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
	}
}

// Validate normalizes the storage configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Path == "" {
		return ErrInvalidConfig
	}
	if c.BufferSize < 1 {
		c.BufferSize = 100
	}
	if c.BatchSize < 1 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.RetentionDays < 1 {
		c.RetentionDays = 7
	}
	return nil
}
