package auth

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Test token secrets — both ≥32 chars, deliberately different.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
)

// testDB creates a temporary SQLite database with the accounts schema
// applied. The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationSQL := `
		CREATE TABLE accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL,
			username      TEXT,
			password_hash TEXT NOT NULL,
			first_name    TEXT NOT NULL DEFAULT '',
			last_name     TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT 'user',
			status        TEXT NOT NULL DEFAULT 'active',
			verified      INTEGER NOT NULL DEFAULT 0,
			permissions   TEXT NOT NULL DEFAULT '{}',
			facility_ids  TEXT NOT NULL DEFAULT '[]',
			security      TEXT NOT NULL DEFAULT '{}',
			deleted       INTEGER NOT NULL DEFAULT 0,
			deleted_at    TEXT,
			created_by    TEXT,
			created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE UNIQUE INDEX idx_accounts_email ON accounts(email);
		CREATE UNIQUE INDEX idx_accounts_username ON accounts(username) WHERE username IS NOT NULL;
		CREATE INDEX idx_accounts_role ON accounts(role);
		CREATE INDEX idx_accounts_status ON accounts(status);
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying accounts migration: %v", err)
	}

	return db
}

// seedTestAccount inserts an active test account and returns it. The
// password is always "test-password".
func seedTestAccount(t *testing.T, db *sql.DB, email string, role Role) *Account {
	t.Helper()

	hash, err := HashPasswordCost("test-password", 1)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewAccountRepository(db)
	account := &Account{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "Account",
		Role:         role,
		Status:       StatusActive,
		Permissions:  DefaultsForRole(role),
	}
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("creating test account %s: %v", email, err)
	}
	return account
}

// testAuthConfig returns the policy used across service tests. Hash cost 1
// keeps Argon2id fast enough for the suite.
func testAuthConfig() Config {
	return Config{
		AccessSecret:     testAccessSecret,
		AccessTTL:        time.Hour,
		RefreshSecret:    testRefreshSecret,
		RefreshTTL:       24 * time.Hour,
		LockoutThreshold: 5,
		LockoutDuration:  30 * time.Minute,
		SessionCapacity:  5,
		SessionTTL:       7 * 24 * time.Hour,
		HashCost:         1,
	}
}

// testService wires a Service over the given database.
func testService(t *testing.T, db *sql.DB, opts ...Option) *Service {
	t.Helper()

	svc, err := NewService(NewAccountRepository(db), testAuthConfig(), nil, opts...)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

// captureRecorder collects events synchronously for assertions.
type captureRecorder struct {
	events []Event
}

func (c *captureRecorder) Record(_ context.Context, ev Event) {
	c.events = append(c.events, ev)
}

func (c *captureRecorder) types() []EventType {
	out := make([]EventType, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}
