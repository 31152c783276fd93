// Package api exposes the admin HTTP interface: rule management,
// maintenance mode, match statistics, and the query log.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pablodns/pkg/rules"
	"pablodns/pkg/stats"
	"pablodns/pkg/storage"
)

// Server represents the API server
type Server struct {
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger

	// Dependencies
	store   *rules.Store
	stats   *stats.Recorder
	storage storage.Storage

	// Auth
	apiKey       string
	basicUser    string
	passwordHash string

	// Metadata
	version   string
	startTime time.Time
}

// Config holds API server configuration
type Config struct {
	ListenAddress string
	Store         *rules.Store
	Stats         *stats.Recorder
	Storage       storage.Storage
	Logger        *slog.Logger
	Version       string

	APIKey       string
	BasicUser    string
	PasswordHash string
}

// New creates a new API server
func New(cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		store:        cfg.Store,
		stats:        cfg.Stats,
		storage:      cfg.Storage,
		logger:       cfg.Logger,
		apiKey:       cfg.APIKey,
		basicUser:    cfg.BasicUser,
		passwordHash: cfg.PasswordHash,
		version:      cfg.Version,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()

	// Health checks
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)

	// Rule management
	mux.HandleFunc("GET /api/rules", s.handleListRules)
	mux.HandleFunc("POST /api/rules", s.handleAddRule)
	mux.HandleFunc("DELETE /api/rules", s.handleRemoveRule)
	mux.HandleFunc("POST /api/rules/toggle", s.handleToggleRule)

	// Maintenance mode
	mux.HandleFunc("GET /api/maintenance", s.handleGetMaintenance)
	mux.HandleFunc("POST /api/maintenance", s.handleSetMaintenance)

	// Rule match statistics
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/stats/reset", s.handleResetStats)
	mux.HandleFunc("GET /api/stats/export", s.handleExportStats)

	// Query log
	mux.HandleFunc("GET /api/queries", s.handleQueries)
	mux.HandleFunc("GET /api/queries/export", s.handleExportQueries)
	mux.HandleFunc("GET /api/queries/stats", s.handleQueryStatistics)
	mux.HandleFunc("GET /api/top-domains", s.handleTopDomains)

	// System metrics
	mux.HandleFunc("GET /api/system", s.handleSystem)

	handler := s.authMiddleware(mux)
	handler = s.loggingMiddleware(handler)
	handler = s.corsMiddleware(handler)

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the API server
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}

// parseDuration parses a duration string with default value
func parseDuration(s string, defaultDuration time.Duration) time.Duration {
	if s == "" {
		return defaultDuration
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultDuration
	}

	return d
}

// getUptime returns the server uptime as a string
func (s *Server) getUptime() string {
	uptime := time.Since(s.startTime)

	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
