package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fmops/gatehouse/internal/auth"
)

const (
	// ctxKeyAccount is the context key for the authenticated account.
	ctxKeyAccount contextKey = "account"
	// ctxKeyToken is the context key for the presented bearer token.
	ctxKeyToken contextKey = "token"
)

// bearerToken extracts the credential from an Authorization header. The
// Bearer scheme is matched case-insensitively; an empty return means no
// usable credential was presented.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// accountFromContext returns the authenticated account, or nil when the
// request passed through optionalAuth without credentials.
func accountFromContext(ctx context.Context) *auth.Account {
	account, _ := ctx.Value(ctxKeyAccount).(*auth.Account)
	return account
}

// tokenFromContext returns the raw bearer token the caller presented.
func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(ctxKeyToken).(string)
	return token
}

// requireAuth runs the full request gate: extract the bearer token,
// authenticate it against the live account (signature, expiry, status,
// lockout, session list), then attach the account and the presented token
// to the request context. Every failure is terminal — the chain fails
// closed.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeUnauthorized(w, "authentication required")
			return
		}

		account, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeAuthError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAccount, account)
		ctx = context.WithValue(ctx, ctxKeyToken, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// optionalAuth attaches the account when a valid token is presented and
// continues anonymously otherwise. It never rejects: routes behind it
// serve everyone and may adapt their response to the caller.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		account, err := s.auth.Identify(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAccount, account)
		ctx = context.WithValue(ctx, ctxKeyToken, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole permits the listed roles. Super admins pass unconditionally.
// Must run after requireAuth.
func (s *Server) requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := accountFromContext(r.Context())
			if account == nil {
				writeUnauthorized(w, "authentication required")
				return
			}
			if !roleAllowed(account.Role, roles) {
				writeError(w, http.StatusForbidden, ErrCodeInsufficientRole, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireSelfOrRole permits the account whose ID matches the URL parameter,
// or any of the listed roles. Ownership routes (profile, own sessions) use
// this so admins can act on any account.
func (s *Server) requireSelfOrRole(param string, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := accountFromContext(r.Context())
			if account == nil {
				writeUnauthorized(w, "authentication required")
				return
			}
			if account.ID == chi.URLParam(r, param) || roleAllowed(account.Role, roles) {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusForbidden, ErrCodeAccessDenied, "access denied")
		})
	}
}

// requireFacilityAccess gates facility-scoped routes. Admins see every
// facility; everyone else needs the facility in their membership list.
// Facility managers and supervisors pass regardless of membership until
// facility rosters land — their day-to-day work spans facilities they are
// not formally assigned to yet.
func (s *Server) requireFacilityAccess(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := accountFromContext(r.Context())
			if account == nil {
				writeUnauthorized(w, "authentication required")
				return
			}

			facilityID := chi.URLParam(r, param)
			switch {
			case account.Role == auth.RoleSuperAdmin || account.Role == auth.RoleAdmin:
				// Platform and deployment admins see every facility.
			case account.HasFacility(facilityID):
				// Assigned member.
			case account.Role == auth.RoleFacilityManager || account.Role == auth.RoleSupervisor:
				// Operational roles pass pending facility rosters.
			default:
				writeError(w, http.StatusForbidden, ErrCodeAccessDenied, "no access to this facility")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// roleAllowed reports whether the role is in the allowed set. Super admins
// are always allowed.
func roleAllowed(role auth.Role, allowed []auth.Role) bool {
	if role == auth.RoleSuperAdmin {
		return true
	}
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// isAdminRole reports whether the role carries deployment-wide
// administrative authority.
func isAdminRole(role auth.Role) bool {
	return role == auth.RoleAdmin || role == auth.RoleSuperAdmin
}
