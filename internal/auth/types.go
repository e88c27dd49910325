package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 3-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// emailPattern is a pragmatic format check, not RFC 5322. Deliverability is
// the mail system's problem; this only rejects obvious garbage.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// maxEmailLength caps stored email addresses.
const maxEmailLength = 254

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// IsValidEmail checks if an email address is plausibly formed.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// NormalizeEmail lowercases and trims an email address. All lookups and
// stored values go through this so that equality is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleSuperAdmin has every capability plus the "all" permission override.
	// Passes every role authorisation check unconditionally. Platform
	// operators only — credentials belong in a sealed recovery pack.
	RoleSuperAdmin Role = "super_admin"

	// RoleAdmin has full administrative control over accounts, facilities
	// and settings within the deployment.
	RoleAdmin Role = "admin"

	// RoleFacilityManager runs day-to-day operations of assigned facilities:
	// services, devices, readings, rosters. Cannot manage accounts.
	RoleFacilityManager Role = "facility_manager"

	// RoleSupervisor oversees field staff: rosters and readings, read access
	// to most of the rest.
	RoleSupervisor Role = "supervisor"

	// RoleTechnician maintains equipment: device and reading management in
	// assigned facilities.
	RoleTechnician Role = "technician"

	// RoleHousekeeping is cleaning/janitorial staff: reads schedules and
	// facilities, no management capabilities.
	RoleHousekeeping Role = "housekeeping"

	// RoleUser is an ordinary tenant/resident account. Read-level
	// capabilities only.
	RoleUser Role = "user"

	// RoleGuest is a limited visitor account.
	RoleGuest Role = "guest"
)

// ValidRoles is the set of assignable account roles.
var ValidRoles = []Role{
	RoleSuperAdmin,
	RoleAdmin,
	RoleFacilityManager,
	RoleSupervisor,
	RoleTechnician,
	RoleHousekeeping,
	RoleUser,
	RoleGuest,
}

// IsValidRole returns true if the role is a recognised account role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Status represents an account lifecycle state. Only active accounts may
// authenticate or pass the request middleware.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusBlocked   Status = "blocked"
)

// ValidStatuses is the set of assignable account statuses.
var ValidStatuses = []Status{StatusActive, StatusInactive, StatusSuspended, StatusPending, StatusBlocked}

// IsValidStatus returns true if the status is a recognised lifecycle state.
func IsValidStatus(s Status) bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Account represents a human identity. It is stored as a single document:
// Permissions, FacilityIDs and Security round-trip through JSON columns and
// every update writes the document as a whole.
type Account struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	Username     string        `json:"username,omitempty"`
	PasswordHash string        `json:"-"` // never serialised
	FirstName    string        `json:"first_name,omitempty"`
	LastName     string        `json:"last_name,omitempty"`
	Role         Role          `json:"role"`
	Status       Status        `json:"status"`
	Verified     bool          `json:"verified"`
	Permissions  PermissionSet `json:"permissions"`
	FacilityIDs  []string      `json:"facility_ids,omitempty"`
	Security     SecurityState `json:"-"` // persisted, never serialised
	Deleted      bool          `json:"-"`
	DeletedAt    *time.Time    `json:"deleted_at,omitempty"`
	CreatedBy    string        `json:"created_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// FullName returns the display form of the account holder's name.
func (a *Account) FullName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		return a.Email
	}
	return name
}

// HasFacility reports whether the account's membership list contains the
// given facility ID.
func (a *Account) HasFacility(facilityID string) bool {
	for _, id := range a.FacilityIDs {
		if id == facilityID {
			return true
		}
	}
	return false
}

// Can reports whether the account's resolved permission set grants the
// capability.
func (a *Account) Can(c Capability) bool {
	return a.Permissions.Effective(c)
}

// SecurityState is the per-account security block. It is embedded in the
// account document (one JSON column) and updated together with it. Field
// tags here define the persistence format; the block as a whole carries
// `json:"-"` on Account so none of it ever reaches an API response.
type SecurityState struct {
	LastPasswordChange  *time.Time     `json:"last_password_change,omitempty"`
	FailedLoginAttempts int            `json:"failed_login_attempts"`
	LockoutExpiry       *time.Time     `json:"lockout_expiry,omitempty"`
	LastLoginAt         *time.Time     `json:"last_login_at,omitempty"`
	LastLoginIP         string         `json:"last_login_ip,omitempty"`
	TwoFactorEnabled    bool           `json:"two_factor_enabled,omitempty"`
	TwoFactorSecret     string         `json:"two_factor_secret,omitempty"`
	SessionTokens       []SessionToken `json:"session_tokens,omitempty"`
}

// SessionToken is one live session entry: the issued access token plus its
// own absolute expiry (issue time + session TTL, independent of the JWT exp).
type SessionToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Device    string    `json:"device,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

// Sentinel errors for auth operations. Middleware and handlers map these
// onto HTTP statuses; messages are caller-safe.
var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountNotActive   = errors.New("account is not active")
	ErrAccountLocked      = errors.New("account is locked")
	ErrSessionInvalid     = errors.New("session is no longer valid")
	ErrInsufficientRole   = errors.New("insufficient role")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = errors.New("email already registered")
	ErrUsernameExists     = errors.New("username already taken")
	ErrSelfModification   = errors.New("cannot modify own account in this way")
	ErrPasswordTooShort   = errors.New("password does not meet the minimum length")
	ErrInvalidInput       = errors.New("invalid input")
)

// LockedError carries the remaining lockout window so callers can tell the
// user when to retry. Matches ErrAccountLocked under errors.Is.
type LockedError struct {
	RetryMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked, try again in %d minutes", e.RetryMinutes)
}

// Is lets errors.Is(err, ErrAccountLocked) match a *LockedError.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// NotActiveError carries the actual account status so callers can surface
// it. Matches ErrAccountNotActive under errors.Is.
type NotActiveError struct {
	Status Status
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("account is %s", e.Status)
}

// Is lets errors.Is(err, ErrAccountNotActive) match a *NotActiveError.
func (e *NotActiveError) Is(target error) bool {
	return target == ErrAccountNotActive
}
