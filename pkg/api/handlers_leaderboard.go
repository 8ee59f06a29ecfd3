package api

import (
	"net/http"
	"strconv"
)

// handleLeaderboard is GET /leaderboard: the top agent-stats-cache rows
// ranked wins-first.
// ?limit= bounds the page size, defaulting to 50 and capped at 200 so
// a caller can't force an unbounded scan.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.Store.Q().ListLeaderboard(r.Context(), limit)
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": rows})
}
