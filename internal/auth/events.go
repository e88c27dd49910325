package auth

import (
	"context"
	"time"
)

// EventType classifies security-relevant occurrences.
type EventType string

const (
	EventLogin           EventType = "login"
	EventLoginFailed     EventType = "login_failed"
	EventLockout         EventType = "lockout"
	EventLogout          EventType = "logout"
	EventLogoutAll       EventType = "logout_all"
	EventTokenRefresh    EventType = "token_refresh"
	EventPasswordChange  EventType = "password_change"
	EventRegister        EventType = "register"
	EventAccountCreate   EventType = "account_create"
	EventAccountUpdate   EventType = "account_update"
	EventRoleChange      EventType = "role_change"
	EventStatusChange    EventType = "status_change"
	EventFacilityAssign  EventType = "facility_assign"
	EventSessionsRevoked EventType = "sessions_revoked"
	EventAccountDelete   EventType = "account_delete"
	EventAccountRestore  EventType = "account_restore"
)

// Event is a single security event. AccountID is the subject of the event;
// ActorID is who performed it (they differ for administrative actions).
type Event struct {
	Type      EventType      `json:"type"`
	AccountID string         `json:"account_id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Role      Role           `json:"role,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Device    string         `json:"device,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

// Recorder receives security events. Implementations must not block and
// must never fail the calling auth flow — recording is best-effort.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}
