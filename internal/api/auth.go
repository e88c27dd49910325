package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fmops/gatehouse/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// maxDeviceNameLength caps the user-agent string stored on a session entry.
const maxDeviceNameLength = 120

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// changePasswordRequest is the request body for POST /auth/change-password.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// registerRequest is the request body for POST /auth/register.
type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// tokenResponse is the response body for login and refresh.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int           `json:"expires_in"`
	Account      *auth.Account `json:"account"`
}

// ticketStore holds pending WebSocket authentication tickets. Tickets are
// single-use, expire after ticketTTL, and carry the identity captured at
// issue time so the WebSocket client inherits the caller's account and role.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	accountID string
	role      auth.Role
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// handleLogin authenticates credentials and returns a token pair plus the
// account document.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	account, pair, err := s.auth.Login(r.Context(), auth.Credentials{
		Email:    req.Email,
		Password: req.Password,
		Device:   deviceName(r),
		IP:       clientIP(r),
	})
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("login", "account_id", account.ID, "role", account.Role, "ip", clientIP(r))
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.auth.AccessTTL().Seconds()),
		Account:      account,
	})
}

// handleRefresh exchanges a refresh token for a new access token. The
// refresh token is stateless and survives the exchange.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	account, pair, err := s.auth.Refresh(r.Context(), req.RefreshToken, deviceName(r), clientIP(r))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.auth.AccessTTL().Seconds()),
		Account:      account,
	})
}

// handleMe returns the authenticated account document.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, accountFromContext(r.Context()))
}

// handleLogout removes the presented token's session. The token itself
// remains cryptographically valid until expiry; the session list is what
// the request gate checks.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())

	if err := s.auth.Logout(r.Context(), account.ID, tokenFromContext(r.Context())); err != nil {
		s.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleLogoutAll clears every session of the authenticated account.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())

	if err := s.auth.LogoutAll(r.Context(), account.ID, account.ID); err != nil {
		s.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out_everywhere"})
}

// handleChangePassword re-hashes the credential after verifying the
// current one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}

	account := accountFromContext(r.Context())
	if err := s.auth.ChangePassword(r.Context(), account.ID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

// handleRegister creates a self-service account: role user, status active.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	account, err := s.auth.Register(r.Context(), auth.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IP:        clientIP(r),
	})
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.logger.Info("account registered", "account_id", account.ID, "ip", clientIP(r))
	writeJSON(w, http.StatusCreated, account)
}

// handleWSTicket generates a single-use WebSocket authentication ticket
// bound to the caller's identity. The client uses it to authenticate the
// WebSocket connection without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	ticket := generateTicket()

	s.tickets.mu.Lock()
	s.tickets.tickets[ticket] = ticketEntry{
		accountID: account.ID,
		role:      account.Role,
		expiresAt: time.Now().Add(ticketTTL),
	}
	s.tickets.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// validateTicket checks if a ticket is valid and consumes it (single-use).
// On success it returns the identity captured when the ticket was issued.
func (s *Server) validateTicket(ticket string) (ticketEntry, bool) {
	s.tickets.mu.Lock()
	defer s.tickets.mu.Unlock()

	entry, ok := s.tickets.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}

	// Remove ticket (single-use)
	delete(s.tickets.tickets, ticket)

	if time.Now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanExpiredTickets removes expired tickets from the store.
func (s *Server) cleanExpiredTickets() {
	s.tickets.mu.Lock()
	defer s.tickets.mu.Unlock()

	now := time.Now()
	for ticket, entry := range s.tickets.tickets {
		if now.After(entry.expiresAt) {
			delete(s.tickets.tickets, ticket)
		}
	}
}

// cleanTicketsLoop runs cleanExpiredTickets periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanExpiredTickets()
		}
	}
}

// clientIP extracts the caller's address, preferring the first
// X-Forwarded-For hop when a proxy added one.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// deviceName labels the session with the client's user agent, truncated to
// keep session documents small.
func deviceName(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > maxDeviceNameLength {
		return ua[:maxDeviceNameLength]
	}
	return ua
}
