package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"pablodns/pkg/storage"
)

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Uptime:  s.getUptime(),
		Version: s.version,
	})
}

// handleHealthz handles GET /healthz (liveness probe)
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// handleReadyz handles GET /readyz (readiness probe)
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	checks := make(map[string]string)
	ready := true

	if s.store != nil {
		checks["rules"] = "ok"
	} else {
		checks["rules"] = "unavailable"
		ready = false
	}

	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.storage.Ping(ctx); err != nil {
			checks["storage"] = "unavailable"
		} else {
			checks["storage"] = "ok"
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, ReadinessResponse{Status: status, Checks: checks})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Statistics not available")
		return
	}

	entries := s.stats.Snapshot()
	response := MatchStatsResponse{
		Entries: make([]MatchStatsEntry, 0, len(entries)),
		Total:   s.stats.Total(),
	}
	for _, e := range entries {
		response.Entries = append(response.Entries, convertMatchEntry(e))
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleResetStats handles POST /api/stats/reset
func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Statistics not available")
		return
	}

	s.stats.Reset()
	s.logger.Info("Rule match statistics reset")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQueryStatistics handles GET /api/queries/stats
func (s *Server) handleQueryStatistics(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	since := parseDuration(r.URL.Query().Get("since"), 24*time.Hour)
	sinceTime := time.Now().Add(-since)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := s.storage.GetStatistics(ctx, sinceTime)
	if err != nil {
		s.logger.Error("Failed to get statistics", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve statistics")
		return
	}

	s.writeJSON(w, http.StatusOK, QueryStatsResponse{
		TotalQueries:      stats.TotalQueries,
		RefusedQueries:    stats.RefusedQueries,
		RedirectedQueries: stats.RedirectedQueries,
		PassedQueries:     stats.PassedQueries,
		MatchRate:         stats.MatchRate,
		AvgResponseMs:     stats.AvgResponseTimeMs,
		Period:            since.String(),
		Timestamp:         time.Now().Format(time.RFC3339),
	})
}

// handleQueries handles GET /api/queries
func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	limit := parseIntParam(r, "limit", 100, 1, 1000)
	offset := parseIntParam(r, "offset", 0, 0, 1<<30)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var logs []*storage.QueryLog
	var err error
	if domain := r.URL.Query().Get("domain"); domain != "" {
		logs, err = s.storage.GetQueriesByDomain(ctx, domain, limit)
	} else {
		logs, err = s.storage.GetRecentQueries(ctx, limit, offset)
	}
	if err != nil {
		s.logger.Error("Failed to get queries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve queries")
		return
	}

	queries := make([]QueryResponse, 0, len(logs))
	for _, q := range logs {
		queries = append(queries, convertQueryLog(q))
	}

	s.writeJSON(w, http.StatusOK, QueriesResponse{
		Queries: queries,
		Total:   len(queries),
		Limit:   limit,
		Offset:  offset,
	})
}

// handleTopDomains handles GET /api/top-domains
func (s *Server) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	limit := parseIntParam(r, "limit", 10, 1, 100)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	domains, err := s.storage.GetTopDomains(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to get top domains", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve top domains")
		return
	}

	domainResponses := make([]DomainStatsResponse, 0, len(domains))
	for _, d := range domains {
		domainResponses = append(domainResponses, convertDomainStats(d))
	}

	s.writeJSON(w, http.StatusOK, TopDomainsResponse{
		Domains: domainResponses,
		Limit:   limit,
	})
}

// handleSystem handles GET /api/system
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	metrics := collectSystemMetrics(ctx)

	response := SystemResponse{
		CPUPercent: metrics.CPUPercent,
		MemUsed:    metrics.MemUsed,
		MemTotal:   metrics.MemTotal,
		MemPercent: metrics.MemPercent,
	}
	if metrics.TemperatureAvailable() {
		response.TemperatureC = metrics.TemperatureC
	}

	s.writeJSON(w, http.StatusOK, response)
}

// parseIntParam parses an integer query parameter with bounds
func parseIntParam(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return def
	}
	return v
}
