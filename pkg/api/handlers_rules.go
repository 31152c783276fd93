package api

import (
	"encoding/json"
	"net/http"

	"pablodns/pkg/rules"
)

// handleListRules handles GET /api/rules
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Rule store not available")
		return
	}

	snapshot := s.store.CurrentSnapshot()
	list := snapshot.Rules()

	response := RulesResponse{
		Rules:       make([]RuleResponse, 0, len(list)),
		Total:       len(list),
		Maintenance: s.store.Maintenance(),
	}
	for _, rule := range list {
		response.Rules = append(response.Rules, convertRule(rule))
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleAddRule handles POST /api/rules
func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Rule store not available")
		return
	}

	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	target, err := rules.ParseTarget(req.Target)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	window, err := rules.WindowFromClock(req.Start, req.End)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	if err := s.store.AddRule(req.Pattern, target, window, enabled); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("Rule added",
		"pattern", req.Pattern,
		"target", req.Target,
		"enabled", enabled,
	)

	s.writeJSON(w, http.StatusCreated, RuleResponse{
		Pattern: req.Pattern,
		Target:  target.String(),
		Start:   req.Start,
		End:     req.End,
		Enabled: enabled,
	})
}

// handleRemoveRule handles DELETE /api/rules
func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Rule store not available")
		return
	}

	var req PatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	removed, err := s.store.RemoveRule(req.Pattern)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if removed == 0 {
		s.writeError(w, http.StatusNotFound, "No rule matches the given pattern")
		return
	}

	s.logger.Info("Rule removed", "pattern", req.Pattern, "count", removed)

	s.writeJSON(w, http.StatusOK, RemoveResponse{
		Pattern: req.Pattern,
		Removed: removed,
	})
}

// handleToggleRule handles POST /api/rules/toggle
func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Rule store not available")
		return
	}

	var req PatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	enabled, found, err := s.store.ToggleRule(req.Pattern)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "No rule matches the given pattern")
		return
	}

	s.logger.Info("Rule toggled", "pattern", req.Pattern, "enabled", enabled)

	s.writeJSON(w, http.StatusOK, ToggleResponse{
		Pattern: req.Pattern,
		Enabled: enabled,
	})
}

// handleGetMaintenance handles GET /api/maintenance
func (s *Server) handleGetMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Rule store not available")
		return
	}

	s.writeJSON(w, http.StatusOK, MaintenanceResponse{
		Enabled: s.store.Maintenance(),
		Notice:  s.store.Notice(),
	})
}

// handleSetMaintenance handles POST /api/maintenance
func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Rule store not available")
		return
	}

	var req MaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.store.SetMaintenance(req.Enabled)
	s.logger.Info("Maintenance mode changed", "enabled", req.Enabled)

	s.writeJSON(w, http.StatusOK, MaintenanceResponse{
		Enabled: req.Enabled,
		Notice:  s.store.Notice(),
	})
}
