package api

import (
	"net/http"
	"strconv"
)

// defaultHistoryLimit bounds history responses when no limit is given.
const defaultHistoryLimit = 50

// maxHistoryLimit is the hard cap on history page size.
const maxHistoryLimit = 500

// handleHealth returns the liveness of each dependency.
//
// GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "disabled"
	if s.db != nil {
		database = "ok"
		if err := s.db.HealthCheck(r.Context()); err != nil {
			database = "error"
		}
	}

	status := "ok"
	if !s.bridge.BusConnected() || !s.bridge.NetworkConnected() {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(s.bridge.Uptime().Seconds()),
		"mqtt":           s.bridge.BusConnected(),
		"zwave":          s.bridge.NetworkConnected(),
		"database":       database,
	})
}

// handleStats returns the synchronizer counters.
//
// GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Stats())
}

// handleListEvents returns recent journaled state changes.
//
// GET /api/v1/events?limit=N
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "journal disabled")
		return
	}

	limit, ok := historyLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	events, err := s.history.RecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading journal events", "error", err)
		writeInternalError(w, "journal read failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleListCommands returns recent journaled command resolutions.
//
// GET /api/v1/commands?limit=N
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeNotFound(w, "journal disabled")
		return
	}

	limit, ok := historyLimit(r)
	if !ok {
		writeBadRequest(w, "limit must be a positive integer")
		return
	}

	commands, err := s.history.RecentCommands(r.Context(), limit)
	if err != nil {
		s.logger.Error("reading journal commands", "error", err)
		writeInternalError(w, "journal read failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"count":    len(commands),
	})
}

// historyLimit parses the optional limit query parameter.
func historyLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, false
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, true
}
