package api

import (
	"time"

	"pablodns/pkg/rules"
	"pablodns/pkg/stats"
	"pablodns/pkg/storage"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status string `json:"status"` // "alive"
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status string            `json:"status"` // "ready" or "not_ready"
	Checks map[string]string `json:"checks"` // Component health status
}

// RuleResponse represents a single rule
type RuleResponse struct {
	Pattern string `json:"pattern"`
	Target  string `json:"target"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
	Enabled bool   `json:"enabled"`
}

// RulesResponse represents the full rule set
type RulesResponse struct {
	Rules       []RuleResponse `json:"rules"`
	Total       int            `json:"total"`
	Maintenance bool           `json:"maintenance"`
}

// RuleRequest is the payload for adding a rule
type RuleRequest struct {
	Pattern string `json:"pattern"`
	Target  string `json:"target"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// PatternRequest addresses an existing rule by pattern
type PatternRequest struct {
	Pattern string `json:"pattern"`
}

// ToggleResponse reports the state of a toggled rule
type ToggleResponse struct {
	Pattern string `json:"pattern"`
	Enabled bool   `json:"enabled"`
}

// RemoveResponse reports how many rules were removed
type RemoveResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}

// MaintenanceResponse represents maintenance mode state
type MaintenanceResponse struct {
	Enabled bool   `json:"enabled"`
	Notice  string `json:"notice"`
}

// MaintenanceRequest toggles maintenance mode
type MaintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// MatchStatsResponse represents per-rule match counters
type MatchStatsResponse struct {
	Entries []MatchStatsEntry `json:"entries"`
	Total   int64             `json:"total"`
}

// MatchStatsEntry is a single rule's match counter
type MatchStatsEntry struct {
	Pattern   string `json:"pattern"`
	Count     int64  `json:"count"`
	LastMatch string `json:"last_match,omitempty"`
}

// QueryStatsResponse represents aggregated query log statistics
type QueryStatsResponse struct {
	TotalQueries      int64   `json:"total_queries"`
	RefusedQueries    int64   `json:"refused_queries"`
	RedirectedQueries int64   `json:"redirected_queries"`
	PassedQueries     int64   `json:"passed_queries"`
	MatchRate         float64 `json:"match_rate"`      // Percentage
	AvgResponseMs     float64 `json:"avg_response_ms"` // Average response time
	Period            string  `json:"period"`
	Timestamp         string  `json:"timestamp"` // ISO 8601 format
}

// QueryResponse represents a single DNS query log entry
type QueryResponse struct {
	ID             int64   `json:"id"`
	Timestamp      string  `json:"timestamp"` // ISO 8601 format
	ClientIP       string  `json:"client_ip"`
	Domain         string  `json:"domain"`
	QueryType      string  `json:"query_type"`
	Action         string  `json:"action"`
	Rule           string  `json:"rule,omitempty"`
	ResponseCode   int     `json:"response_code"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	Upstream       string  `json:"upstream,omitempty"`
}

// QueriesResponse represents paginated query results
type QueriesResponse struct {
	Queries []QueryResponse `json:"queries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// DomainStatsResponse represents statistics for a single domain
type DomainStatsResponse struct {
	Domain      string `json:"domain"`
	Queries     int64  `json:"queries"`
	LastQueried string `json:"last_queried,omitempty"`
}

// TopDomainsResponse represents top queried domains
type TopDomainsResponse struct {
	Domains []DomainStatsResponse `json:"domains"`
	Limit   int                   `json:"limit"`
}

// SystemResponse represents host resource usage
type SystemResponse struct {
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsed      uint64  `json:"mem_used"`
	MemTotal     uint64  `json:"mem_total"`
	MemPercent   float64 `json:"mem_percent"`
	TemperatureC float64 `json:"temperature_c,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// convertRule converts rules.Rule to RuleResponse
func convertRule(r rules.Rule) RuleResponse {
	resp := RuleResponse{
		Pattern: r.Pattern,
		Target:  r.Target.String(),
		Enabled: r.Enabled,
	}
	if !r.Window.AllDay() {
		resp.Start = r.Window.StartClock()
		resp.End = r.Window.EndClock()
	}
	return resp
}

// convertMatchEntry converts stats.Entry to MatchStatsEntry
func convertMatchEntry(e stats.Entry) MatchStatsEntry {
	entry := MatchStatsEntry{
		Pattern: e.Pattern,
		Count:   e.Count,
	}
	if !e.LastMatch.IsZero() {
		entry.LastMatch = e.LastMatch.Format(time.RFC3339)
	}
	return entry
}

// convertQueryLog converts storage.QueryLog to QueryResponse
func convertQueryLog(q *storage.QueryLog) QueryResponse {
	return QueryResponse{
		ID:             q.ID,
		Timestamp:      q.Timestamp.Format(time.RFC3339),
		ClientIP:       q.ClientIP,
		Domain:         q.Domain,
		QueryType:      q.QueryType,
		Action:         string(q.Action),
		Rule:           q.Rule,
		ResponseCode:   q.ResponseCode,
		ResponseTimeMs: q.ResponseTimeMs,
		Upstream:       q.Upstream,
	}
}

// convertDomainStats converts storage.DomainStats to DomainStatsResponse
func convertDomainStats(d *storage.DomainStats) DomainStatsResponse {
	resp := DomainStatsResponse{
		Domain:  d.Domain,
		Queries: d.QueryCount,
	}
	if !d.LastQueried.IsZero() {
		resp.LastQueried = d.LastQueried.Format(time.RFC3339)
	}
	return resp
}
