// Package auth provides identity and access control for Gatehouse.
//
// It implements an 8-tier role model for facility operations (guest → user →
// housekeeping → technician → supervisor → facility_manager → admin →
// super_admin) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - Dual-secret JWT pairs: short-lived access tokens, long-lived refresh tokens
//   - A bounded per-account session list embedded in the account document,
//     giving server-side revocation despite stateless tokens
//   - A computed lockout window after repeated failed logins (no stored flag)
//   - Role default permissions merged under per-account custom grants
//
// Accounts persist as single-row documents: nested permission and security
// state live in JSON columns and are read and written as a whole. Concurrent
// writers are last-write-wins; the single SQLite writer serialises the
// writes themselves.
package auth
