package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fmops/gatehouse/internal/auth"
)

// ─── Registration Tests ────────────────────────────────────────────

func TestRegister(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"email":"new@example.com","username":"newbie","password":"a-long-password","first_name":"New"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	var account auth.Account
	if err := json.Unmarshal(w.Body.Bytes(), &account); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if account.ID == "" {
		t.Error("registered account has no ID")
	}
	if account.Email != "new@example.com" {
		t.Errorf("email = %s, want new@example.com", account.Email)
	}
	if account.Role != auth.RoleUser {
		t.Errorf("role = %s, want %s", account.Role, auth.RoleUser)
	}

	// Credential material must never appear in API responses.
	raw := w.Body.String()
	if strings.Contains(raw, "password_hash") {
		t.Error("response leaks password_hash")
	}
	if strings.Contains(raw, "session_tokens") {
		t.Error("response leaks session state")
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	srv, svc := testServer(t)
	seedAccount(t, svc, "taken@example.com", auth.RoleUser)
	router := srv.buildRouter()

	body := `{"email":"taken@example.com","password":"a-long-password"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeConflict {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeConflict)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"email":"short@example.com","password":"tiny"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRegister_MissingFields(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(`{"email":"x@example.com"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Login Tests ───────────────────────────────────────────────────

func TestLogin(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "login@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	if tok.AccessToken == "" {
		t.Error("access token is empty")
	}
	if tok.RefreshToken == "" {
		t.Error("refresh token is empty")
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("token_type = %s, want Bearer", tok.TokenType)
	}
	if tok.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", tok.ExpiresIn)
	}
	if tok.Account == nil || tok.Account.ID != account.ID {
		t.Error("login response does not carry the account document")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "wrongpw@example.com", auth.RoleUser)
	router := srv.buildRouter()

	body := fmt.Sprintf(`{"email":%q,"password":"not-the-password"}`, account.Email)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeInvalidCredentials {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeInvalidCredentials)
	}
}

// Unknown emails answer exactly like wrong passwords so login probing can't
// reveal which addresses exist.
func TestLogin_UnknownEmail(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"email":"ghost@example.com","password":"whatever-password"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeInvalidCredentials {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeInvalidCredentials)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"x@example.com"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLogin_Lockout(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "lockout@example.com", auth.RoleUser)
	router := srv.buildRouter()

	wrongBody := fmt.Sprintf(`{"email":%q,"password":"not-the-password"}`, account.Email)

	// Four failures stay plain rejections.
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(wrongBody))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want %d", i+1, w.Code, http.StatusUnauthorized)
		}
	}

	// The fifth crosses the threshold and locks the account.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(wrongBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("locking attempt status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeAccountLocked {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeAccountLocked)
	}

	// Even the correct password is refused while the lock holds.
	goodBody := fmt.Sprintf(`{"email":%q,"password":%q}`, account.Email, testPassword)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(goodBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("locked login status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeAccountLocked {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeAccountLocked)
	}
}

func TestLogin_SuspendedAccount(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "suspended@example.com", auth.RoleUser)
	if _, err := svc.ChangeStatus(context.Background(), account.ID, auth.StatusSuspended, ""); err != nil {
		t.Fatalf("suspending account: %v", err)
	}
	router := srv.buildRouter()

	body := fmt.Sprintf(`{"email":%q,"password":%q}`, account.Email, testPassword)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeAccountNotActive {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeAccountNotActive)
	}
}

// ─── Authenticated Request Tests ───────────────────────────────────

func TestMe(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "me@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	req := authedRequest(http.MethodGet, "/api/v1/auth/me", "", tok.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d, want %d", w.Code, http.StatusOK)
	}

	var got auth.Account
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != account.ID {
		t.Errorf("id = %s, want %s", got.ID, account.ID)
	}
	if strings.Contains(w.Body.String(), "password_hash") {
		t.Error("response leaks password_hash")
	}
}

func TestMe_NoToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeUnauthenticated {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeUnauthenticated)
	}
}

func TestMe_MalformedHeader(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestMe_GarbageToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authedRequest(http.MethodGet, "/api/v1/auth/me", "", "not-a-real-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeTokenInvalid {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeTokenInvalid)
	}
}

// ─── Logout Tests ──────────────────────────────────────────────────

func TestLogout(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "logout@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	req := authedRequest(http.MethodPost, "/api/v1/auth/logout", "", tok.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d, want %d", w.Code, http.StatusOK)
	}

	// The token is now outside the session list, so the gate refuses it.
	req = authedRequest(http.MethodGet, "/api/v1/auth/me", "", tok.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeSessionInvalid {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeSessionInvalid)
	}
}

func TestLogoutAll(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "logoutall@example.com", auth.RoleUser)
	router := srv.buildRouter()

	first := loginAs(t, router, account.Email, testPassword)
	second := loginAs(t, router, account.Email, testPassword)

	req := authedRequest(http.MethodPost, "/api/v1/auth/logout-all", "", first.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("logout-all status = %d, want %d", w.Code, http.StatusOK)
	}

	// Every session is gone, including the one that wasn't presented.
	req = authedRequest(http.MethodGet, "/api/v1/auth/me", "", second.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("me after logout-all status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// ─── Refresh Tests ─────────────────────────────────────────────────

func TestRefresh(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "refresh@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	body := fmt.Sprintf(`{"refresh_token":%q}`, tok.RefreshToken)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	var refreshed tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Fatal("refreshed access token is empty")
	}

	// The new access token opens a live session.
	req = authedRequest(http.MethodGet, "/api/v1/auth/me", "", refreshed.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("me with refreshed token status = %d, want %d", w.Code, http.StatusOK)
	}
}

// An access token must never pass as a refresh token: the two are signed
// with different secrets.
func TestRefresh_AccessTokenRejected(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "crossover@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	body := fmt.Sprintf(`{"refresh_token":%q}`, tok.AccessToken)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRefresh_MissingToken(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Change Password Tests ─────────────────────────────────────────

func TestChangePassword(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "changepw@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	body := fmt.Sprintf(`{"current_password":%q,"new_password":"brand-new-password"}`, testPassword)
	req := authedRequest(http.MethodPost, "/api/v1/auth/change-password", body, tok.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("change-password status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	// The session that made the change survives.
	req = authedRequest(http.MethodGet, "/api/v1/auth/me", "", tok.AccessToken)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("me after password change status = %d, want %d", w.Code, http.StatusOK)
	}

	// Old password stops working, new one logs in.
	oldBody := fmt.Sprintf(`{"email":%q,"password":%q}`, account.Email, testPassword)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(oldBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login with old password status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	loginAs(t, router, account.Email, "brand-new-password")
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "wrongcurrent@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	body := `{"current_password":"not-the-password","new_password":"brand-new-password"}`
	req := authedRequest(http.MethodPost, "/api/v1/auth/change-password", body, tok.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if e := decodeError(t, w.Body.Bytes()); e.Code != ErrCodeInvalidCredentials {
		t.Errorf("error code = %s, want %s", e.Code, ErrCodeInvalidCredentials)
	}
}

func TestChangePassword_TooShort(t *testing.T) {
	srv, svc := testServer(t)
	account := seedAccount(t, svc, "shortnew@example.com", auth.RoleUser)
	router := srv.buildRouter()

	tok := loginAs(t, router, account.Email, testPassword)

	body := fmt.Sprintf(`{"current_password":%q,"new_password":"tiny"}`, testPassword)
	req := authedRequest(http.MethodPost, "/api/v1/auth/change-password", body, tok.AccessToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
