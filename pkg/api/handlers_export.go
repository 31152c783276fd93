package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// handleExportStats handles GET /api/stats/export, streaming the per-rule
// match counters as CSV sorted by count descending.
func (s *Server) handleExportStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Statistics not available")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="pablodns-stats.csv"`)

	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"pattern", "count", "last_match"}); err != nil {
		s.logger.Error("Failed to write CSV header", "error", err)
		return
	}

	for _, e := range s.stats.Snapshot() {
		lastMatch := ""
		if !e.LastMatch.IsZero() {
			lastMatch = e.LastMatch.Format(time.RFC3339)
		}
		record := []string{e.Pattern, strconv.FormatInt(e.Count, 10), lastMatch}
		if err := cw.Write(record); err != nil {
			s.logger.Error("Failed to write CSV record", "error", err)
			return
		}
	}
}

// handleExportQueries handles GET /api/queries/export, streaming the recent
// query log as CSV.
func (s *Server) handleExportQueries(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not available")
		return
	}

	limit := parseIntParam(r, "limit", 1000, 1, 10000)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	logs, err := s.storage.GetRecentQueries(ctx, limit, 0)
	if err != nil {
		s.logger.Error("Failed to get queries for export", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve queries")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="pablodns-queries.csv"`)

	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "client_ip", "domain", "query_type", "action", "rule", "upstream", "response_code", "response_time_ms"}
	if err := cw.Write(header); err != nil {
		s.logger.Error("Failed to write CSV header", "error", err)
		return
	}

	for _, q := range logs {
		record := []string{
			q.Timestamp.Format(time.RFC3339),
			q.ClientIP,
			q.Domain,
			q.QueryType,
			string(q.Action),
			q.Rule,
			q.Upstream,
			strconv.Itoa(q.ResponseCode),
			fmt.Sprintf("%.2f", q.ResponseTimeMs),
		}
		if err := cw.Write(record); err != nil {
			s.logger.Error("Failed to write CSV record", "error", err)
			return
		}
	}
}
