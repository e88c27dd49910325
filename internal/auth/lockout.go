package auth

import (
	"math"
	"time"
)

// Default lockout policy. Config may override both.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// IsLocked reports whether the account is locked out at the given instant.
// Lockout is never stored as a flag — an account is locked exactly when a
// lockout expiry exists and lies in the future. Every lockout decision in
// the codebase goes through this one check.
func (s *SecurityState) IsLocked(now time.Time) bool {
	return s.LockoutExpiry != nil && s.LockoutExpiry.After(now)
}

// LockoutRemaining returns the remaining lockout window in whole minutes,
// rounded up. Zero when not locked.
func (s *SecurityState) LockoutRemaining(now time.Time) int {
	if !s.IsLocked(now) {
		return 0
	}
	return int(math.Ceil(s.LockoutExpiry.Sub(now).Minutes()))
}

// RecordFailure counts a failed login attempt. Reaching the threshold arms
// the lockout window; a further failure while the counter already sits at or
// above the threshold re-arms it. The counter is only ever reset by a
// successful authentication — natural expiry of the window leaves it in
// place.
func (s *SecurityState) RecordFailure(threshold int, duration time.Duration, now time.Time) {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	s.FailedLoginAttempts++
	if s.FailedLoginAttempts >= threshold {
		expiry := now.Add(duration)
		s.LockoutExpiry = &expiry
	}
}

// RecordSuccess resets the failure counter, clears any lockout and stamps
// the last successful login.
func (s *SecurityState) RecordSuccess(ip string, now time.Time) {
	s.FailedLoginAttempts = 0
	s.LockoutExpiry = nil
	t := now
	s.LastLoginAt = &t
	s.LastLoginIP = ip
}
