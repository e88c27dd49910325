package auth

import "time"

// Default session policy. Config may override both.
const (
	DefaultSessionCapacity = 5
	DefaultSessionTTL      = 7 * 24 * time.Hour
)

// NewSessionToken builds a session entry for a freshly issued access token.
// The entry carries its own absolute expiry, independent of the JWT exp.
func NewSessionToken(token, device, ip string, ttl time.Duration, now time.Time) SessionToken {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return SessionToken{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Device:    device,
		IP:        ip,
	}
}

// AddSession appends a session entry to the account's live list. When the
// list exceeds capacity the oldest entries are evicted — strictly by
// insertion order; reads never reorder the list.
func (s *SecurityState) AddSession(tok SessionToken, capacity int) {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	s.SessionTokens = append(s.SessionTokens, tok)
	if len(s.SessionTokens) > capacity {
		// evict oldest; copy off the old backing array
		trimmed := make([]SessionToken, capacity)
		copy(trimmed, s.SessionTokens[len(s.SessionTokens)-capacity:])
		s.SessionTokens = trimmed
	}
}

// RemoveSession deletes the entry whose token matches exactly. Removing a
// token that is not present is a no-op.
func (s *SecurityState) RemoveSession(token string) {
	for i, t := range s.SessionTokens {
		if t.Token == token {
			s.SessionTokens = append(s.SessionTokens[:i], s.SessionTokens[i+1:]...)
			return
		}
	}
}

// ClearSessions empties the session list ("log out everywhere").
func (s *SecurityState) ClearSessions() {
	s.SessionTokens = nil
}

// HasSession reports whether the exact token is present and its entry has
// not expired. An entry past its expiry does not count even while it still
// occupies a slot.
func (s *SecurityState) HasSession(token string, now time.Time) bool {
	for _, t := range s.SessionTokens {
		if t.Token == token {
			return t.ExpiresAt.After(now)
		}
	}
	return false
}
