package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fmops/gatehouse/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createAccountRequest struct {
	Email       string      `json:"email"`
	Username    string      `json:"username,omitempty"`
	Password    string      `json:"password"`
	FirstName   string      `json:"first_name,omitempty"`
	LastName    string      `json:"last_name,omitempty"`
	Role        auth.Role   `json:"role,omitempty"`
	Status      auth.Status `json:"status,omitempty"`
	Verified    bool        `json:"verified,omitempty"`
	FacilityIDs []string    `json:"facility_ids,omitempty"`
}

type updateAccountRequest struct {
	Email     *string `json:"email,omitempty"`
	Username  *string `json:"username,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Verified  *bool   `json:"verified,omitempty"`
}

type changeRoleRequest struct {
	Role auth.Role `json:"role"`
}

type changeStatusRequest struct {
	Status auth.Status `json:"status"`
}

type assignFacilitiesRequest struct {
	FacilityIDs []string `json:"facility_ids"`
}

// sessionView is a session entry with the raw token withheld. Current marks
// the session belonging to the token that made the request.
type sessionView struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Device    string    `json:"device,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Current   bool      `json:"current,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListAccounts returns accounts matching the optional role/status
// filters.
//
// Query parameters:
//   - role: filter by account role
//   - status: filter by lifecycle status
//   - include_deleted: "true" to include soft-deleted accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auth.ListFilter{
		Role:           auth.Role(q.Get("role")),
		Status:         auth.Status(q.Get("status")),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}

	if filter.Role != "" && !auth.IsValidRole(filter.Role) {
		writeBadRequest(w, "unknown role filter")
		return
	}
	if filter.Status != "" && !auth.IsValidStatus(filter.Status) {
		writeBadRequest(w, "unknown status filter")
		return
	}

	accounts, err := s.auth.Accounts().List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list accounts failed", "error", err)
		writeInternalError(w, "failed to list accounts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// handleCreateAccount creates a new account on behalf of an administrator.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	// Only super admins can mint super admins
	actor := accountFromContext(r.Context())
	if req.Role == auth.RoleSuperAdmin && actor.Role != auth.RoleSuperAdmin {
		writeForbidden(w, "only super admins can create super admin accounts")
		return
	}

	account, err := s.auth.Create(r.Context(), auth.CreateInput{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Role:        req.Role,
		Status:      req.Status,
		Verified:    req.Verified,
		FacilityIDs: req.FacilityIDs,
	}, actor.ID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("account created", "account_id", account.ID, "role", account.Role, "created_by", actor.ID)
	writeJSON(w, http.StatusCreated, account)
}

// handleGetAccount returns a single account by ID.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := s.auth.Accounts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("get account failed", "error", err)
		writeInternalError(w, "failed to get account")
		return
	}

	writeJSON(w, http.StatusOK, account)
}

// handleUpdateAccount patches an account's profile fields. Role, status and
// facility membership have their own endpoints with their own guards.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := accountFromContext(r.Context())

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// Verification is an administrative attestation, not a profile field
	if req.Verified != nil && !isAdminRole(actor.Role) {
		writeForbidden(w, "only admins can change verification")
		return
	}

	account, err := s.auth.UpdateProfile(r.Context(), id, auth.UpdateInput{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Verified:  req.Verified,
	}, actor.ID)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("account updated", "account_id", id, "updated_by", actor.ID)
	writeJSON(w, http.StatusOK, account)
}

// handleChangeRole moves an account to a new role. The new role's default
// permissions are merged under the existing set, so explicit grants and
// overrides survive the change.
func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := accountFromContext(r.Context())

	var req changeRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Role == "" {
		writeBadRequest(w, "role is required")
		return
	}

	// Self-protection: cannot change your own role
	if id == actor.ID {
		writeForbidden(w, "cannot change your own role")
		return
	}

	target, err := s.auth.Accounts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("get account for role change failed", "error", err)
		writeInternalError(w, "failed to change role")
		return
	}

	// Only super admins can touch super admin accounts or promote to super admin
	if (target.Role == auth.RoleSuperAdmin || req.Role == auth.RoleSuperAdmin) && actor.Role != auth.RoleSuperAdmin {
		writeForbidden(w, "only super admins can change super admin roles")
		return
	}

	account, err := s.auth.ChangeRole(r.Context(), id, req.Role, actor.ID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("role changed", "account_id", id, "role", req.Role, "changed_by", actor.ID)
	writeJSON(w, http.StatusOK, account)
}

// handleChangeStatus moves an account to a new lifecycle state. Enforcement
// is the request gate's job: a suspended account fails its next request.
func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := accountFromContext(r.Context())

	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Status == "" {
		writeBadRequest(w, "status is required")
		return
	}

	// Self-protection: cannot suspend or block yourself
	if id == actor.ID {
		writeForbidden(w, "cannot change your own status")
		return
	}

	target, err := s.auth.Accounts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("get account for status change failed", "error", err)
		writeInternalError(w, "failed to change status")
		return
	}

	if target.Role == auth.RoleSuperAdmin && actor.Role != auth.RoleSuperAdmin {
		writeForbidden(w, "only super admins can change super admin status")
		return
	}

	account, err := s.auth.ChangeStatus(r.Context(), id, req.Status, actor.ID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("status changed", "account_id", id, "status", req.Status, "changed_by", actor.ID)
	writeJSON(w, http.StatusOK, account)
}

// handleAssignFacilities replaces an account's facility membership list.
// An empty list revokes all facility access.
func (s *Server) handleAssignFacilities(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := accountFromContext(r.Context())

	var req assignFacilitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	account, err := s.auth.AssignFacilities(r.Context(), id, req.FacilityIDs, actor.ID)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("facilities assigned", "account_id", id, "facility_count", len(account.FacilityIDs), "assigned_by", actor.ID)
	writeJSON(w, http.StatusOK, account)
}

// handleDeleteAccount soft-deletes an account and clears its sessions.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := accountFromContext(r.Context())

	// Cannot delete yourself
	if id == actor.ID {
		writeForbidden(w, "cannot delete your own account")
		return
	}

	target, err := s.auth.Accounts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("get account for delete failed", "error", err)
		writeInternalError(w, "failed to delete account")
		return
	}

	if target.Role == auth.RoleSuperAdmin && actor.Role != auth.RoleSuperAdmin {
		writeForbidden(w, "only super admins can delete super admin accounts")
		return
	}

	if err := s.auth.Delete(r.Context(), id, actor.ID); err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("account deleted", "account_id", id, "deleted_by", actor.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleRestoreAccount brings a soft-deleted account back into service.
func (s *Server) handleRestoreAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := accountFromContext(r.Context())

	account, err := s.auth.Restore(r.Context(), id, actor.ID)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "no deleted account with this id")
			return
		}
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("account restored", "account_id", id, "restored_by", actor.ID)
	writeJSON(w, http.StatusOK, account)
}

// handleListSessions returns an account's live sessions with token values
// withheld.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := s.auth.Accounts().GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.logger.Error("get account for sessions failed", "error", err)
		writeInternalError(w, "failed to list sessions")
		return
	}

	presented := tokenFromContext(r.Context())
	sessions := make([]sessionView, 0, len(account.Security.SessionTokens))
	for _, tok := range account.Security.SessionTokens {
		sessions = append(sessions, sessionView{
			CreatedAt: tok.CreatedAt,
			ExpiresAt: tok.ExpiresAt,
			Device:    tok.Device,
			IP:        tok.IP,
			Current:   tok.Token == presented,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleRevokeSessions clears every session of an account: "log out
// everywhere" for the owner, administrative revocation for admins.
func (s *Server) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := accountFromContext(r.Context())

	if err := s.auth.LogoutAll(r.Context(), id, actor.ID); err != nil {
		if errors.Is(err, auth.ErrAccountNotFound) {
			writeNotFound(w, "account not found")
			return
		}
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("sessions revoked", "account_id", id, "revoked_by", actor.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "sessions_revoked"})
}

// handleListFacilityAccounts returns the accounts assigned to a facility.
// Membership lives on the account document, so this filters the full
// listing rather than querying by facility.
func (s *Server) handleListFacilityAccounts(w http.ResponseWriter, r *http.Request) {
	facilityID := chi.URLParam(r, "facilityID")

	accounts, err := s.auth.Accounts().List(r.Context(), auth.ListFilter{})
	if err != nil {
		s.logger.Error("list facility accounts failed", "facility_id", facilityID, "error", err)
		writeInternalError(w, "failed to list facility accounts")
		return
	}

	members := make([]auth.Account, 0)
	for _, account := range accounts {
		if account.HasFacility(facilityID) {
			members = append(members, account)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": members,
		"count":    len(members),
	})
}
