package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mustLogin logs in with the standard seeded password and fails the test on
// any error.
func mustLogin(t *testing.T, svc *Service, email string) (*Account, *TokenPair) {
	t.Helper()

	account, pair, err := svc.Login(context.Background(), Credentials{
		Email:    email,
		Password: "test-password",
		Device:   "test-device",
		IP:       "127.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	return account, pair
}

func TestNewService_Validation(t *testing.T) {
	db := testDB(t)
	repo := NewAccountRepository(db)

	if _, err := NewService(nil, testAuthConfig(), nil); err == nil {
		t.Error("NewService without repository should fail")
	}

	cfg := testAuthConfig()
	cfg.AccessSecret = ""
	if _, err := NewService(repo, cfg, nil); err == nil {
		t.Error("NewService without access secret should fail")
	}

	cfg = testAuthConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	if _, err := NewService(repo, cfg, nil); err == nil {
		t.Error("NewService with identical secrets should fail")
	}
}

// ─── Login ──────────────────────────────────────────────────────────

func TestLogin_Success(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}
	svc := testService(t, db, WithRecorder(rec))
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "login@example.com", RoleTechnician)
	account, pair, err := svc.Login(ctx, Credentials{
		Email:    "login@example.com",
		Password: "test-password",
		Device:   "android-app",
		IP:       "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if account.ID != seeded.ID {
		t.Errorf("account ID = %q, want %q", account.ID, seeded.ID)
	}

	// Each token verifies only against its own secret.
	claims, err := VerifyToken(pair.AccessToken, testAccessSecret)
	if err != nil {
		t.Fatalf("access token rejected: %v", err)
	}
	if claims.AccountID() != seeded.ID {
		t.Errorf("access token subject = %q, want %q", claims.AccountID(), seeded.ID)
	}
	if _, err := VerifyToken(pair.RefreshToken, testRefreshSecret); err != nil {
		t.Fatalf("refresh token rejected: %v", err)
	}
	if _, err := VerifyToken(pair.RefreshToken, testAccessSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("refresh token against access secret error = %v, want ErrTokenInvalid", err)
	}

	// The session entry stores the exact access token plus metadata.
	stored, err := svc.Accounts().GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(stored.Security.SessionTokens) != 1 {
		t.Fatalf("session count = %d, want 1", len(stored.Security.SessionTokens))
	}
	sess := stored.Security.SessionTokens[0]
	if sess.Token != pair.AccessToken {
		t.Error("session entry should store the issued access token")
	}
	if sess.Device != "android-app" || sess.IP != "10.0.0.9" {
		t.Errorf("session metadata = %q/%q", sess.Device, sess.IP)
	}
	if stored.Security.LastLoginAt == nil || stored.Security.LastLoginIP != "10.0.0.9" {
		t.Error("last login not stamped")
	}

	if got := rec.types(); len(got) != 1 || got[0] != EventLogin {
		t.Errorf("recorded events = %v, want [login]", got)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}
	svc := testService(t, db, WithRecorder(rec))
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "wrong@example.com", RoleUser)

	_, _, err := svc.Login(ctx, Credentials{Email: "wrong@example.com", Password: "not-the-password"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}

	stored, _ := svc.Accounts().GetByID(ctx, seeded.ID)
	if stored.Security.FailedLoginAttempts != 1 {
		t.Errorf("FailedLoginAttempts = %d, want 1", stored.Security.FailedLoginAttempts)
	}
	if got := rec.types(); len(got) != 1 || got[0] != EventLoginFailed {
		t.Errorf("recorded events = %v, want [login_failed]", got)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}
	svc := testService(t, db, WithRecorder(rec))

	// Unknown email and wrong password must be indistinguishable.
	_, _, err := svc.Login(context.Background(), Credentials{Email: "Nobody@Example.com", Password: "whatever"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login(unknown email) error = %v, want ErrInvalidCredentials", err)
	}

	if len(rec.events) != 1 || rec.events[0].Type != EventLoginFailed {
		t.Fatalf("recorded events = %v, want one login_failed", rec.types())
	}
	if rec.events[0].Email != "nobody@example.com" {
		t.Errorf("event email = %q, want normalized", rec.events[0].Email)
	}
	if rec.events[0].AccountID != "" {
		t.Errorf("event AccountID = %q, want empty for unknown email", rec.events[0].AccountID)
	}
}

func TestLogin_StatusGate(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	for _, status := range []Status{StatusInactive, StatusSuspended, StatusPending, StatusBlocked} {
		acct := seedTestAccount(t, db, string(status)+"@example.com", RoleUser)
		acct.Status = status
		if err := svc.Accounts().Update(ctx, acct); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		// Correct password, wrong lifecycle state.
		_, _, err := svc.Login(ctx, Credentials{Email: acct.Email, Password: "test-password"})
		if !errors.Is(err, ErrAccountNotActive) {
			t.Errorf("Login(%s) error = %v, want ErrAccountNotActive", status, err)
		}
		var notActive *NotActiveError
		if !errors.As(err, &notActive) || notActive.Status != status {
			t.Errorf("Login(%s) error should carry the status, got %v", status, err)
		}
	}
}

func TestLogin_InactiveKeepsFailureCounter(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	acct := seedTestAccount(t, db, "paused@example.com", RoleUser)
	acct.Status = StatusSuspended
	acct.Security.FailedLoginAttempts = 3
	if err := svc.Accounts().Update(ctx, acct); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// A correct password against a suspended account is not a successful
	// authentication: the counter must not reset.
	_, _, err := svc.Login(ctx, Credentials{Email: "paused@example.com", Password: "test-password"})
	if !errors.Is(err, ErrAccountNotActive) {
		t.Fatalf("Login() error = %v, want ErrAccountNotActive", err)
	}

	stored, _ := svc.Accounts().GetByID(ctx, acct.ID)
	if stored.Security.FailedLoginAttempts != 3 {
		t.Errorf("FailedLoginAttempts = %d, want 3", stored.Security.FailedLoginAttempts)
	}
}

func TestLogin_LockoutProgression(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}

	current := time.Now()
	svc := testService(t, db, WithRecorder(rec), WithClock(func() time.Time { return current }))
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "locked@example.com", RoleUser)
	wrong := Credentials{Email: "locked@example.com", Password: "not-the-password"}
	right := Credentials{Email: "locked@example.com", Password: "test-password"}

	// Four failures answer "invalid credentials".
	for i := 1; i <= 4; i++ {
		if _, _, err := svc.Login(ctx, wrong); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d error = %v, want ErrInvalidCredentials", i, err)
		}
	}

	// The fifth crosses the threshold and already answers "locked".
	_, _, err := svc.Login(ctx, wrong)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fifth failure error = %v, want ErrAccountLocked", err)
	}
	var locked *LockedError
	if !errors.As(err, &locked) || locked.RetryMinutes != 30 {
		t.Fatalf("fifth failure error = %v, want LockedError with 30 minutes", err)
	}

	// Even the correct password is refused while the window holds, and the
	// remaining minutes round up.
	current = current.Add(10*time.Minute + time.Second)
	_, _, err = svc.Login(ctx, right)
	if !errors.As(err, &locked) || locked.RetryMinutes != 20 {
		t.Fatalf("locked login error = %v, want LockedError with 20 minutes", err)
	}

	// Past the window the correct password works and resets the counter.
	current = current.Add(21 * time.Minute)
	if _, _, err := svc.Login(ctx, right); err != nil {
		t.Fatalf("login after lockout expiry error = %v", err)
	}
	stored, _ := svc.Accounts().GetByID(ctx, seeded.ID)
	if stored.Security.FailedLoginAttempts != 0 {
		t.Errorf("FailedLoginAttempts = %d, want 0 after success", stored.Security.FailedLoginAttempts)
	}
	if stored.Security.LockoutExpiry != nil {
		t.Error("LockoutExpiry should be cleared after success")
	}

	// Exactly one lockout event across the whole progression.
	var lockouts int
	for _, typ := range rec.types() {
		if typ == EventLockout {
			lockouts++
		}
	}
	if lockouts != 1 {
		t.Errorf("lockout events = %d, want 1", lockouts)
	}
}

func TestLogin_RelockAfterNaturalExpiry(t *testing.T) {
	db := testDB(t)

	current := time.Now()
	svc := testService(t, db, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "relock@example.com", RoleUser)
	wrong := Credentials{Email: "relock@example.com", Password: "not-the-password"}

	for i := 0; i < 5; i++ {
		svc.Login(ctx, wrong) //nolint:errcheck // driving the counter up
	}

	// The window expires but the counter stays at five, so one more failure
	// arms a fresh full window immediately.
	current = current.Add(31 * time.Minute)
	_, _, err := svc.Login(ctx, wrong)
	var locked *LockedError
	if !errors.As(err, &locked) || locked.RetryMinutes != 30 {
		t.Fatalf("failure after natural expiry error = %v, want fresh 30-minute lock", err)
	}

	stored, _ := svc.Accounts().GetByID(ctx, seeded.ID)
	if stored.Security.FailedLoginAttempts != 6 {
		t.Errorf("FailedLoginAttempts = %d, want 6", stored.Security.FailedLoginAttempts)
	}
}

// ─── Sessions and authentication ────────────────────────────────────

func TestAuthenticate_Success(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)

	seeded := seedTestAccount(t, db, "authn@example.com", RoleSupervisor)
	_, pair := mustLogin(t, svc, "authn@example.com")

	account, err := svc.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if account.ID != seeded.ID || account.Role != RoleSupervisor {
		t.Errorf("authenticated account = %q/%v", account.ID, account.Role)
	}
}

func TestAuthenticate_TokenGates(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Authenticate(garbage) error = %v, want ErrTokenInvalid", err)
	}

	// A well-signed token whose subject no longer exists.
	ghost, err := IssueToken("acc-ghost", testAccessSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, ghost); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Authenticate(ghost subject) error = %v, want ErrAccountNotFound", err)
	}

	// A well-signed token for a live account that never went through login:
	// not in the session list, so it is refused.
	seeded := seedTestAccount(t, db, "sidedoor@example.com", RoleUser)
	minted, err := IssueToken(seeded.ID, testAccessSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, minted); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Authenticate(minted token) error = %v, want ErrSessionInvalid", err)
	}
}

func TestAuthenticate_SessionEvictionInvalidatesOldest(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "devices@example.com", RoleUser)

	// Six logins against a capacity of five: the first session is pushed out.
	pairs := make([]*TokenPair, 0, 6)
	for i := 0; i < 6; i++ {
		_, pair := mustLogin(t, svc, "devices@example.com")
		pairs = append(pairs, pair)
	}

	if _, err := svc.Authenticate(ctx, pairs[0].AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("oldest token error = %v, want ErrSessionInvalid", err)
	}
	for i, pair := range pairs[1:] {
		if _, err := svc.Authenticate(ctx, pair.AccessToken); err != nil {
			t.Errorf("token %d error = %v, want success", i+1, err)
		}
	}

	stored, _ := svc.Accounts().GetByID(ctx, seeded.ID)
	if len(stored.Security.SessionTokens) != 5 {
		t.Errorf("session count = %d, want capacity 5", len(stored.Security.SessionTokens))
	}
}

func TestAuthenticate_StatusChangeTakesEffectNextRequest(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "cutoff@example.com", RoleUser)
	_, pair := mustLogin(t, svc, "cutoff@example.com")

	if _, err := svc.ChangeStatus(ctx, seeded.ID, StatusSuspended, "acc-admin"); err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrAccountNotActive) {
		t.Errorf("Authenticate(suspended) error = %v, want ErrAccountNotActive", err)
	}

	// Suspension keeps the session list; reactivation restores access with
	// the same token.
	if _, err := svc.ChangeStatus(ctx, seeded.ID, StatusActive, "acc-admin"); err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Errorf("Authenticate(reactivated) error = %v, want success", err)
	}
}

func TestIdentify_SkipsSessionGate(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "identify@example.com", RoleUser)

	// Identify answers for a well-signed token even without a session entry.
	minted, err := IssueToken(seeded.ID, testAccessSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	account, err := svc.Identify(ctx, minted)
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if account.ID != seeded.ID {
		t.Errorf("identified account = %q, want %q", account.ID, seeded.ID)
	}

	if _, err := svc.Identify(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Identify(garbage) error = %v, want ErrTokenInvalid", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "logout@example.com", RoleUser)
	_, first := mustLogin(t, svc, "logout@example.com")
	_, second := mustLogin(t, svc, "logout@example.com")

	if err := svc.Logout(ctx, seeded.ID, first.AccessToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, first.AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Authenticate after logout error = %v, want ErrSessionInvalid", err)
	}
	// The other device's session is untouched.
	if _, err := svc.Authenticate(ctx, second.AccessToken); err != nil {
		t.Errorf("other session error = %v, want success", err)
	}

	// Logging out twice is not an error.
	if err := svc.Logout(ctx, seeded.ID, first.AccessToken); err != nil {
		t.Errorf("second Logout() error = %v, want nil", err)
	}
}

func TestLogoutAll(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}
	svc := testService(t, db, WithRecorder(rec))
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "everywhere@example.com", RoleUser)
	_, first := mustLogin(t, svc, "everywhere@example.com")
	_, second := mustLogin(t, svc, "everywhere@example.com")

	if err := svc.LogoutAll(ctx, seeded.ID, seeded.ID); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}

	for _, pair := range []*TokenPair{first, second} {
		if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrSessionInvalid) {
			t.Errorf("Authenticate after LogoutAll error = %v, want ErrSessionInvalid", err)
		}
	}

	last := rec.events[len(rec.events)-1]
	if last.Type != EventLogoutAll {
		t.Errorf("self revocation event = %v, want logout_all", last.Type)
	}
	if last.Details["revoked"] != 2 {
		t.Errorf("revoked detail = %v, want 2", last.Details["revoked"])
	}
}

func TestLogoutAll_ByAdministrator(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}
	svc := testService(t, db, WithRecorder(rec))
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "revoked@example.com", RoleUser)
	mustLogin(t, svc, "revoked@example.com")

	if err := svc.LogoutAll(ctx, seeded.ID, "acc-admin01"); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}

	last := rec.events[len(rec.events)-1]
	if last.Type != EventSessionsRevoked {
		t.Errorf("administrative revocation event = %v, want sessions_revoked", last.Type)
	}
	if last.ActorID != "acc-admin01" {
		t.Errorf("event ActorID = %q", last.ActorID)
	}
}

// ─── Refresh ────────────────────────────────────────────────────────

func TestRefresh(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "refresh@example.com", RoleUser)
	_, pair := mustLogin(t, svc, "refresh@example.com")

	_, renewed, err := svc.Refresh(ctx, pair.RefreshToken, "test-device", "127.0.0.1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if renewed.AccessToken == pair.AccessToken {
		t.Error("Refresh should issue a fresh access token")
	}
	if renewed.RefreshToken != pair.RefreshToken {
		t.Error("Refresh should return the same refresh token, not rotate it")
	}

	// Both access tokens remain live sessions.
	if _, err := svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Errorf("original access token error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, renewed.AccessToken); err != nil {
		t.Errorf("renewed access token error = %v", err)
	}

	stored, _ := svc.Accounts().GetByID(ctx, seeded.ID)
	if len(stored.Security.SessionTokens) != 2 {
		t.Errorf("session count = %d, want 2", len(stored.Security.SessionTokens))
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)

	seedTestAccount(t, db, "kinds@example.com", RoleUser)
	_, pair := mustLogin(t, svc, "kinds@example.com")

	// An access token presented as a refresh token fails the signature
	// check: wrong kind, not wrong expiry.
	_, _, err := svc.Refresh(context.Background(), pair.AccessToken, "", "")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(access token) error = %v, want ErrTokenInvalid", err)
	}
}

func TestRefresh_GatesStillApply(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "gated@example.com", RoleUser)
	_, pair := mustLogin(t, svc, "gated@example.com")

	if _, err := svc.ChangeStatus(ctx, seeded.ID, StatusBlocked, "acc-admin"); err != nil {
		t.Fatalf("ChangeStatus() error = %v", err)
	}

	_, _, err := svc.Refresh(ctx, pair.RefreshToken, "", "")
	if !errors.Is(err, ErrAccountNotActive) {
		t.Errorf("Refresh(blocked account) error = %v, want ErrAccountNotActive", err)
	}
}

// ─── Password change ────────────────────────────────────────────────

func TestChangePassword(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "rotate@example.com", RoleUser)
	_, pair := mustLogin(t, svc, "rotate@example.com")

	if err := svc.ChangePassword(ctx, seeded.ID, "test-password", "brand-new-password"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	// Old credential dead, new one live.
	if _, _, err := svc.Login(ctx, Credentials{Email: "rotate@example.com", Password: "test-password"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("login with old password error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, Credentials{Email: "rotate@example.com", Password: "brand-new-password"}); err != nil {
		t.Errorf("login with new password error = %v", err)
	}

	// Existing sessions survive a password change.
	if _, err := svc.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Errorf("existing session after password change error = %v", err)
	}

	stored, _ := svc.Accounts().GetByID(ctx, seeded.ID)
	if stored.Security.LastPasswordChange == nil {
		t.Error("LastPasswordChange should be stamped")
	}
}

func TestChangePassword_Rejections(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "reject@example.com", RoleUser)

	if err := svc.ChangePassword(ctx, seeded.ID, "test-password", "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("short password error = %v, want ErrPasswordTooShort", err)
	}
	if err := svc.ChangePassword(ctx, seeded.ID, "not-the-password", "long-enough-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong current password error = %v, want ErrInvalidCredentials", err)
	}
}

// ─── Account lifecycle ──────────────────────────────────────────────

func TestRegister(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}
	svc := testService(t, db, WithRecorder(rec))
	ctx := context.Background()

	account, err := svc.Register(ctx, RegisterInput{
		Email:     "Fresh@Example.com",
		Username:  "fresh.start",
		Password:  "a-decent-password",
		FirstName: "Fresh",
		LastName:  "Start",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if account.Role != RoleUser || account.Status != StatusActive {
		t.Errorf("self-registered account = %v/%v, want user/active", account.Role, account.Status)
	}
	if account.Verified {
		t.Error("self-registered account should start unverified")
	}
	if account.Email != "fresh@example.com" {
		t.Errorf("Email = %q, want normalized", account.Email)
	}
	if !account.Can(CapViewFacilities) || account.Can(CapManageUsers) {
		t.Error("self-registered account should carry user role defaults")
	}
	if got := rec.types(); len(got) != 1 || got[0] != EventRegister {
		t.Errorf("recorded events = %v, want [register]", got)
	}

	// And the credential works immediately.
	if _, _, err := svc.Login(ctx, Credentials{Email: "fresh@example.com", Password: "a-decent-password"}); err != nil {
		t.Errorf("login after register error = %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seedTestAccount(t, db, "claimed@example.com", RoleUser)

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"duplicate email", RegisterInput{Email: "claimed@example.com", Password: "long-enough-pw"}, ErrEmailExists},
		{"invalid email", RegisterInput{Email: "not-an-email", Password: "long-enough-pw"}, ErrInvalidInput},
		{"invalid username", RegisterInput{Email: "u@example.com", Username: "x", Password: "long-enough-pw"}, ErrInvalidInput},
		{"short password", RegisterInput{Email: "p@example.com", Password: "short"}, ErrPasswordTooShort},
	}
	for _, tt := range tests {
		if _, err := svc.Register(ctx, tt.in); !errors.Is(err, tt.want) {
			t.Errorf("Register(%s) error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestCreate_Administrative(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	account, err := svc.Create(ctx, CreateInput{
		Email:       "staff@example.com",
		Password:    "a-decent-password",
		Role:        RoleHousekeeping,
		Status:      StatusPending,
		Verified:    true,
		FacilityIDs: []string{"fac-1", "fac-1", "fac-2", ""},
	}, "acc-admin01")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if account.Role != RoleHousekeeping || account.Status != StatusPending || !account.Verified {
		t.Errorf("created account = %v/%v/%v", account.Role, account.Status, account.Verified)
	}
	if account.CreatedBy != "acc-admin01" {
		t.Errorf("CreatedBy = %q", account.CreatedBy)
	}
	if len(account.FacilityIDs) != 2 {
		t.Errorf("FacilityIDs = %v, want deduped pair", account.FacilityIDs)
	}
	if !account.Can(CapManageReadings) || account.Can(CapManageDevices) {
		t.Error("created account should carry housekeeping role defaults")
	}
}

func TestCreate_Validation(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{Email: "r@example.com", Password: "long-enough-pw", Role: Role("czar")}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Create(unknown role) error = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Create(ctx, CreateInput{Email: "s@example.com", Password: "long-enough-pw", Status: Status("frozen")}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Create(unknown status) error = %v, want ErrInvalidInput", err)
	}

	// Empty role and status fall back to the self-registration defaults.
	account, err := svc.Create(ctx, CreateInput{Email: "d@example.com", Password: "long-enough-pw"}, "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if account.Role != RoleUser || account.Status != StatusActive {
		t.Errorf("defaulted account = %v/%v, want user/active", account.Role, account.Status)
	}
}

func TestUpdateProfile(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "profile@example.com", RoleUser)

	newFirst := "Updated"
	verified := true
	account, err := svc.UpdateProfile(ctx, seeded.ID, UpdateInput{FirstName: &newFirst, Verified: &verified}, "acc-admin")
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	if account.FirstName != "Updated" || !account.Verified {
		t.Errorf("updated profile = %q/%v", account.FirstName, account.Verified)
	}
	// Untouched fields keep their values.
	if account.LastName != "Account" || account.Email != "profile@example.com" {
		t.Errorf("untouched fields changed: %q/%q", account.LastName, account.Email)
	}

	// The password hash is never written by profile updates.
	if _, _, err := svc.Login(ctx, Credentials{Email: "profile@example.com", Password: "test-password"}); err != nil {
		t.Errorf("login after profile update error = %v", err)
	}

	badEmail := "not-an-email"
	if _, err := svc.UpdateProfile(ctx, seeded.ID, UpdateInput{Email: &badEmail}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("UpdateProfile(bad email) error = %v, want ErrInvalidInput", err)
	}
}

func TestChangeRole_MergesDefaultsUnderExisting(t *testing.T) {
	db := testDB(t)
	rec := &captureRecorder{}
	svc := testService(t, db, WithRecorder(rec))
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "promoted@example.com", RoleUser)

	// Hand-tuned permissions: one custom key, one explicit denial.
	seeded.Permissions = PermissionSet{Grants: map[Capability]bool{
		Capability("canManageBilling"): true,
		CapViewReports:                 false,
	}}
	if err := svc.Accounts().Update(ctx, seeded); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	account, err := svc.ChangeRole(ctx, seeded.ID, RoleFacilityManager, "acc-admin01")
	if err != nil {
		t.Fatalf("ChangeRole() error = %v", err)
	}

	if account.Role != RoleFacilityManager {
		t.Errorf("Role = %v, want facility_manager", account.Role)
	}
	// Existing keys survive the merge, custom and denial alike.
	if !account.Can(Capability("canManageBilling")) {
		t.Error("custom grant should survive a role change")
	}
	if account.Can(CapViewReports) {
		t.Error("explicit denial should survive a role change")
	}
	// Keys the account never had are filled from the new role's defaults.
	if !account.Can(CapManageFacilities) {
		t.Error("missing key should be filled from facility_manager defaults")
	}
	if account.Can(CapManageUsers) {
		t.Error("facility_manager default denial should be filled for missing key")
	}

	last := rec.events[len(rec.events)-1]
	if last.Type != EventRoleChange {
		t.Fatalf("recorded event = %v, want role_change", last.Type)
	}
	if last.Details["from"] != string(RoleUser) || last.Details["to"] != string(RoleFacilityManager) {
		t.Errorf("role change details = %v", last.Details)
	}

	if _, err := svc.ChangeRole(ctx, seeded.ID, Role("czar"), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ChangeRole(unknown) error = %v, want ErrInvalidInput", err)
	}
}

func TestAssignFacilities(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "assigned@example.com", RoleTechnician)

	account, err := svc.AssignFacilities(ctx, seeded.ID, []string{"fac-9", "fac-9", "fac-3"}, "acc-admin")
	if err != nil {
		t.Fatalf("AssignFacilities() error = %v", err)
	}
	if len(account.FacilityIDs) != 2 || !account.HasFacility("fac-9") || !account.HasFacility("fac-3") {
		t.Errorf("FacilityIDs = %v", account.FacilityIDs)
	}

	// Assignment replaces, never appends.
	account, err = svc.AssignFacilities(ctx, seeded.ID, []string{"fac-1"}, "acc-admin")
	if err != nil {
		t.Fatalf("AssignFacilities() error = %v", err)
	}
	if len(account.FacilityIDs) != 1 || account.HasFacility("fac-9") {
		t.Errorf("FacilityIDs after replace = %v", account.FacilityIDs)
	}
}

func TestDeleteAndRestore(t *testing.T) {
	db := testDB(t)
	svc := testService(t, db)
	ctx := context.Background()

	seeded := seedTestAccount(t, db, "cycle@example.com", RoleUser)
	_, pair := mustLogin(t, svc, "cycle@example.com")

	if err := svc.Delete(ctx, seeded.ID, "acc-admin"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	// Gone from normal reads, and the token dies with the sessions.
	if _, err := svc.Accounts().GetByID(ctx, seeded.ID); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("GetByID(deleted) error = %v, want ErrAccountNotFound", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Authenticate(deleted) error = %v, want ErrAccountNotFound", err)
	}

	buried, err := svc.Accounts().GetDeletedByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetDeletedByID() error = %v", err)
	}
	if len(buried.Security.SessionTokens) != 0 {
		t.Error("delete should clear the session list")
	}
	if buried.DeletedAt == nil {
		t.Error("DeletedAt should be stamped")
	}

	restored, err := svc.Restore(ctx, seeded.ID, "acc-admin")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.Deleted || restored.DeletedAt != nil {
		t.Error("restore should clear the deletion marks")
	}

	// Back in normal reads, but old sessions stay revoked.
	if _, err := svc.Accounts().GetByID(ctx, seeded.ID); err != nil {
		t.Errorf("GetByID(restored) error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Authenticate(restored) error = %v, want ErrSessionInvalid", err)
	}

	// Restore only works on deleted accounts.
	if _, err := svc.Restore(ctx, seeded.ID, ""); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("Restore(live) error = %v, want ErrAccountNotFound", err)
	}
}
