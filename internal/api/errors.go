package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fmops/gatehouse/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// Auth error codes. The middleware and auth handlers map the auth package's
// error taxonomy onto these so clients can react without parsing messages.
const (
	ErrCodeUnauthenticated    = "unauthenticated"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeTokenExpired       = "token_expired"
	ErrCodeTokenInvalid       = "token_invalid"
	ErrCodeAccountNotFound    = "account_not_found"
	ErrCodeSessionInvalid     = "session_invalid"
	ErrCodeAccountNotActive   = "account_not_active"
	ErrCodeAccountLocked      = "account_locked"
	ErrCodeInsufficientRole   = "insufficient_role"
	ErrCodeAccessDenied       = "access_denied"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthenticated, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAuthError maps the auth package's error taxonomy onto HTTP responses.
// Sentinel messages are caller-safe and pass through verbatim; the typed
// errors carry their context (actual status, remaining lockout minutes) in
// the message. Anything unrecognised is an internal failure: the cause is
// logged and never echoed to the client.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) { //nolint:gocyclo // one branch per taxonomy error
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, ErrCodeTokenExpired, "token has expired")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, ErrCodeTokenInvalid, "invalid token")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthenticated, "authentication required")
	case errors.Is(err, auth.ErrSessionInvalid):
		writeError(w, http.StatusUnauthorized, ErrCodeSessionInvalid, "session is no longer valid")
	case errors.Is(err, auth.ErrAccountNotFound):
		writeError(w, http.StatusUnauthorized, ErrCodeAccountNotFound, "account not found")
	case errors.Is(err, auth.ErrAccountNotActive):
		writeError(w, http.StatusForbidden, ErrCodeAccountNotActive, err.Error())
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusForbidden, ErrCodeAccountLocked, err.Error())
	case errors.Is(err, auth.ErrInsufficientRole):
		writeError(w, http.StatusForbidden, ErrCodeInsufficientRole, "insufficient role")
	case errors.Is(err, auth.ErrAccessDenied):
		writeError(w, http.StatusForbidden, ErrCodeAccessDenied, "access denied")
	case errors.Is(err, auth.ErrSelfModification):
		writeForbidden(w, err.Error())
	case errors.Is(err, auth.ErrEmailExists):
		writeConflict(w, "email already registered")
	case errors.Is(err, auth.ErrUsernameExists):
		writeConflict(w, "username already taken")
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeBadRequest(w, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error("auth operation failed", "error", err)
		writeInternalError(w, "internal server error")
	}
}
