package api

import (
	"net/http"
	"strconv"

	"github.com/fmops/gatehouse/internal/audit"
)

// handleListAuditLogs returns paginated audit trail entries with optional
// filters. Every security-relevant action lands here via the event fanout,
// so this is the authoritative "who did what to whom" view.
//
// Query parameters:
//   - action: filter by action (login, login_failed, lockout, role_change, ...)
//   - account_id: filter by subject account
//   - actor_id: filter by the account that performed the action
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:    q.Get("action"),
		AccountID: q.Get("account_id"),
		ActorID:   q.Get("actor_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
