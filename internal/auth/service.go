package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// Config carries the auth policy knobs. Zero fields fall back to the
// package defaults.
type Config struct {
	AccessSecret     string
	AccessTTL        time.Duration
	RefreshSecret    string
	RefreshTTL       time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
	SessionCapacity  int
	SessionTTL       time.Duration
	HashCost         uint32
}

func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = time.Hour
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 14 * 24 * time.Hour
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = DefaultLockoutThreshold
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	if c.SessionCapacity <= 0 {
		c.SessionCapacity = DefaultSessionCapacity
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.HashCost == 0 {
		c.HashCost = DefaultHashCost
	}
	return c
}

// Service orchestrates authentication and account management over the
// account document store. All mutations follow read-modify-write on the
// whole document.
type Service struct {
	accounts AccountRepository
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithRecorder attaches a security event recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the auth service. The repository and both token
// secrets are required; the secrets must differ so that a refresh token can
// never verify as an access token.
func NewService(accounts AccountRepository, cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("auth service requires an account repository")
	}
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("auth service requires access and refresh token secrets")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("access and refresh token secrets must differ")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		accounts: accounts,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Credentials are the login inputs plus request metadata for the session
// entry and the audit trail.
type Credentials struct {
	Email    string
	Password string
	Device   string
	IP       string
}

// Login authenticates credentials and establishes a session. Order of the
// gates matters: lockout is checked before the password is evaluated, and a
// failure that crosses the lockout threshold already answers "locked"
// rather than "invalid credentials".
func (s *Service) Login(ctx context.Context, creds Credentials) (*Account, *TokenPair, error) {
	account, err := s.accounts.GetByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Indistinguishable from a wrong password: never leak which
			// emails exist.
			s.record(ctx, Event{Type: EventLoginFailed, Email: NormalizeEmail(creds.Email), IP: creds.IP,
				Details: map[string]any{"reason": "unknown email"}})
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("loading account for login: %w", err)
	}

	now := s.now()

	if account.Security.IsLocked(now) {
		remaining := account.Security.LockoutRemaining(now)
		s.record(ctx, Event{Type: EventLoginFailed, AccountID: account.ID, Email: account.Email, IP: creds.IP,
			Details: map[string]any{"reason": "locked", "retry_minutes": remaining}})
		return nil, nil, &LockedError{RetryMinutes: remaining}
	}

	ok, err := VerifyPassword(creds.Password, account.PasswordHash)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		account.Security.RecordFailure(s.cfg.LockoutThreshold, s.cfg.LockoutDuration, now)
		locked := account.Security.IsLocked(now)
		if err := s.accounts.Update(ctx, account); err != nil {
			return nil, nil, fmt.Errorf("recording failed login: %w", err)
		}

		s.record(ctx, Event{Type: EventLoginFailed, AccountID: account.ID, Email: account.Email, IP: creds.IP,
			Details: map[string]any{"reason": "wrong password", "failed_attempts": account.Security.FailedLoginAttempts}})
		if locked {
			remaining := account.Security.LockoutRemaining(now)
			s.record(ctx, Event{Type: EventLockout, AccountID: account.ID, Email: account.Email, IP: creds.IP,
				Details: map[string]any{"failed_attempts": account.Security.FailedLoginAttempts, "retry_minutes": remaining}})
			return nil, nil, &LockedError{RetryMinutes: remaining}
		}
		return nil, nil, ErrInvalidCredentials
	}

	if account.Status != StatusActive {
		s.record(ctx, Event{Type: EventLoginFailed, AccountID: account.ID, Email: account.Email, IP: creds.IP,
			Details: map[string]any{"reason": "status", "status": string(account.Status)}})
		return nil, nil, &NotActiveError{Status: account.Status}
	}

	pair, err := s.issuePair(account.ID)
	if err != nil {
		return nil, nil, err
	}

	account.Security.RecordSuccess(creds.IP, now)
	account.Security.AddSession(
		NewSessionToken(pair.AccessToken, creds.Device, creds.IP, s.cfg.SessionTTL, now),
		s.cfg.SessionCapacity,
	)
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("saving session: %w", err)
	}

	s.record(ctx, Event{Type: EventLogin, AccountID: account.ID, Email: account.Email, Role: account.Role,
		IP: creds.IP, Device: creds.Device})
	return account, pair, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// account's status and lockout gates still apply; the refresh token itself
// is stateless and survives the exchange.
func (s *Service) Refresh(ctx context.Context, refreshToken, device, ip string) (*Account, *TokenPair, error) {
	claims, err := VerifyToken(refreshToken, s.cfg.RefreshSecret)
	if err != nil {
		return nil, nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID())
	if err != nil {
		return nil, nil, err
	}

	now := s.now()

	if account.Status != StatusActive {
		return nil, nil, &NotActiveError{Status: account.Status}
	}
	if account.Security.IsLocked(now) {
		return nil, nil, &LockedError{RetryMinutes: account.Security.LockoutRemaining(now)}
	}

	access, err := IssueToken(account.ID, s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("issuing access token: %w", err)
	}

	account.Security.AddSession(
		NewSessionToken(access, device, ip, s.cfg.SessionTTL, now),
		s.cfg.SessionCapacity,
	)
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("saving session: %w", err)
	}

	s.record(ctx, Event{Type: EventTokenRefresh, AccountID: account.ID, Email: account.Email, Role: account.Role,
		IP: ip, Device: device})
	return account, &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.cfg.AccessTTL),
	}, nil
}

// Authenticate runs the full request gate over a presented access token:
// verify signature and expiry, load the live account, check status, check
// lockout, then require the exact token in the live session list. Returns
// the account on success; every failure maps to one taxonomy error.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*Account, error) {
	claims, err := VerifyToken(rawToken, s.cfg.AccessSecret)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID())
	if err != nil {
		return nil, err
	}

	now := s.now()

	if account.Status != StatusActive {
		return nil, &NotActiveError{Status: account.Status}
	}
	if account.Security.IsLocked(now) {
		return nil, &LockedError{RetryMinutes: account.Security.LockoutRemaining(now)}
	}
	if !account.Security.HasSession(rawToken, now) {
		return nil, ErrSessionInvalid
	}

	return account, nil
}

// Identify is the optional-auth variant: verify the token and load the
// account, nothing more. Status, lockout and session gates are deliberately
// not applied — callers treat any failure as "anonymous", never as a reject.
func (s *Service) Identify(ctx context.Context, rawToken string) (*Account, error) {
	claims, err := VerifyToken(rawToken, s.cfg.AccessSecret)
	if err != nil {
		return nil, err
	}
	return s.accounts.GetByID(ctx, claims.AccountID())
}

// Logout removes the presented token's session entry. Removing an already
// absent entry is a no-op, so logout is idempotent.
func (s *Service) Logout(ctx context.Context, accountID, rawToken string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	account.Security.RemoveSession(rawToken)
	if err := s.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("saving logout: %w", err)
	}

	s.record(ctx, Event{Type: EventLogout, AccountID: account.ID, Email: account.Email, Role: account.Role})
	return nil
}

// LogoutAll clears every session of the account. Used for "log out
// everywhere", administrative revocation and bus-driven forced logout.
func (s *Service) LogoutAll(ctx context.Context, accountID, actorID string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	revoked := len(account.Security.SessionTokens)
	account.Security.ClearSessions()
	if err := s.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("saving session revocation: %w", err)
	}

	evType := EventLogoutAll
	if actorID != "" && actorID != accountID {
		evType = EventSessionsRevoked
	}
	s.record(ctx, Event{Type: evType, AccountID: account.ID, Email: account.Email, ActorID: actorID,
		Details: map[string]any{"revoked": revoked}})
	return nil
}

// ChangePassword re-hashes the credential after verifying the current one.
// This is one of exactly two paths that run the hash function; unrelated
// account updates never touch it.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verifying current password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := HashPasswordCost(newPassword, s.cfg.HashCost)
	if err != nil {
		return fmt.Errorf("hashing new password: %w", err)
	}

	now := s.now()
	account.PasswordHash = hash
	account.Security.LastPasswordChange = &now
	if err := s.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("saving password change: %w", err)
	}

	s.record(ctx, Event{Type: EventPasswordChange, AccountID: account.ID, Email: account.Email, Role: account.Role})
	return nil
}

// RegisterInput are the self-registration fields.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
	IP        string
}

// Register creates a self-service account: role user, status active,
// unverified, role-default permissions.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	account := &Account{
		Email:       in.Email,
		Username:    in.Username,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Role:        RoleUser,
		Status:      StatusActive,
		Permissions: DefaultsForRole(RoleUser),
	}
	if err := s.createAccount(ctx, account, in.Password); err != nil {
		return nil, err
	}

	s.record(ctx, Event{Type: EventRegister, AccountID: account.ID, Email: account.Email, Role: account.Role, IP: in.IP})
	return account, nil
}

// CreateInput are the administrative account-creation fields.
type CreateInput struct {
	Email       string
	Username    string
	Password    string
	FirstName   string
	LastName    string
	Role        Role
	Status      Status
	Verified    bool
	FacilityIDs []string
}

// Create makes an account on behalf of an administrator. Permissions start
// from the role defaults; they are recomputed only here and on role change.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID string) (*Account, error) {
	if in.Role == "" {
		in.Role = RoleUser
	}
	if in.Status == "" {
		in.Status = StatusActive
	}
	if !IsValidRole(in.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if !IsValidStatus(in.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}

	account := &Account{
		Email:       in.Email,
		Username:    in.Username,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		Role:        in.Role,
		Status:      in.Status,
		Verified:    in.Verified,
		Permissions: DefaultsForRole(in.Role),
		FacilityIDs: dedupe(in.FacilityIDs),
		CreatedBy:   actorID,
	}
	if err := s.createAccount(ctx, account, in.Password); err != nil {
		return nil, err
	}

	s.record(ctx, Event{Type: EventAccountCreate, AccountID: account.ID, Email: account.Email, Role: account.Role,
		ActorID: actorID})
	return account, nil
}

// createAccount validates shared fields, hashes the password and persists.
func (s *Service) createAccount(ctx context.Context, account *Account, password string) error {
	account.Email = NormalizeEmail(account.Email)
	if !IsValidEmail(account.Email) {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if account.Username != "" && !IsValidUsername(account.Username) {
		return fmt.Errorf("%w: invalid username", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	hash, err := HashPasswordCost(password, s.cfg.HashCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	account.PasswordHash = hash

	return s.accounts.Create(ctx, account)
}

// UpdateInput carries profile mutations. Nil pointers leave fields untouched.
type UpdateInput struct {
	Email     *string
	Username  *string
	FirstName *string
	LastName  *string
	Verified  *bool
}

// UpdateProfile applies profile changes and writes the document back. The
// password hash is never touched here.
func (s *Service) UpdateProfile(ctx context.Context, accountID string, in UpdateInput, actorID string) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if in.Email != nil {
		email := NormalizeEmail(*in.Email)
		if !IsValidEmail(email) {
			return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
		}
		account.Email = email
	}
	if in.Username != nil {
		if *in.Username != "" && !IsValidUsername(*in.Username) {
			return nil, fmt.Errorf("%w: invalid username", ErrInvalidInput)
		}
		account.Username = *in.Username
	}
	if in.FirstName != nil {
		account.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		account.LastName = *in.LastName
	}
	if in.Verified != nil {
		account.Verified = *in.Verified
	}

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.record(ctx, Event{Type: EventAccountUpdate, AccountID: account.ID, Email: account.Email, Role: account.Role,
		ActorID: actorID})
	return account, nil
}

// ChangeRole assigns a new role and merges its defaults under the existing
// permission set: custom grants and overrides survive, missing keys are
// filled from the new role's defaults.
func (s *Service) ChangeRole(ctx context.Context, accountID string, newRole Role, actorID string) (*Account, error) {
	if !IsValidRole(newRole) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, newRole)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	oldRole := account.Role
	account.Role = newRole
	account.Permissions = MergeRoleDefaults(account.Permissions, newRole)
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.record(ctx, Event{Type: EventRoleChange, AccountID: account.ID, Email: account.Email, Role: newRole,
		ActorID: actorID, Details: map[string]any{"from": string(oldRole), "to": string(newRole)}})
	return account, nil
}

// ChangeStatus moves the account to a new lifecycle state. Enforcement is
// the middleware's job: a suspended account fails its next request gate.
func (s *Service) ChangeStatus(ctx context.Context, accountID string, newStatus Status, actorID string) (*Account, error) {
	if !IsValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, newStatus)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	oldStatus := account.Status
	account.Status = newStatus
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.record(ctx, Event{Type: EventStatusChange, AccountID: account.ID, Email: account.Email, Role: account.Role,
		ActorID: actorID, Details: map[string]any{"from": string(oldStatus), "to": string(newStatus)}})
	return account, nil
}

// AssignFacilities replaces the account's facility membership list.
func (s *Service) AssignFacilities(ctx context.Context, accountID string, facilityIDs []string, actorID string) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	account.FacilityIDs = dedupe(facilityIDs)
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	s.record(ctx, Event{Type: EventFacilityAssign, AccountID: account.ID, Email: account.Email, Role: account.Role,
		ActorID: actorID, Details: map[string]any{"facility_ids": account.FacilityIDs}})
	return account, nil
}

// Delete soft-deletes the account: it disappears from normal reads and its
// sessions are cleared, but the document is retained for audit and restore.
func (s *Service) Delete(ctx context.Context, accountID, actorID string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	now := s.now()
	account.Deleted = true
	account.DeletedAt = &now
	account.Security.ClearSessions()
	if err := s.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("saving delete: %w", err)
	}

	s.record(ctx, Event{Type: EventAccountDelete, AccountID: account.ID, Email: account.Email, Role: account.Role,
		ActorID: actorID})
	return nil
}

// Restore brings a soft-deleted account back into service.
func (s *Service) Restore(ctx context.Context, accountID, actorID string) (*Account, error) {
	account, err := s.accounts.GetDeletedByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	account.Deleted = false
	account.DeletedAt = nil
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("saving restore: %w", err)
	}

	s.record(ctx, Event{Type: EventAccountRestore, AccountID: account.ID, Email: account.Email, Role: account.Role,
		ActorID: actorID})
	return account, nil
}

// Accounts exposes the repository for read paths that need no policy
// (listings, metrics).
func (s *Service) Accounts() AccountRepository {
	return s.accounts
}

// AccessTTL reports the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration {
	return s.cfg.AccessTTL
}

// issuePair mints a fresh access/refresh token pair.
func (s *Service) issuePair(accountID string) (*TokenPair, error) {
	access, err := IssueToken(accountID, s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}
	refresh, err := IssueToken(accountID, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    s.now().Add(s.cfg.AccessTTL),
	}, nil
}

// record forwards an event to the recorder, stamping the time if unset.
// Recording never fails the calling flow.
func (s *Service) record(ctx context.Context, ev Event) {
	if s.recorder == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.recorder.Record(ctx, ev)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
