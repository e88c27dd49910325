package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows account listings. Zero values mean "no filter".
type ListFilter struct {
	Role           Role
	Status         Status
	IncludeDeleted bool
}

// AccountRepository defines the interface for account document persistence.
// Read methods exclude soft-deleted accounts unless stated otherwise; Update
// writes the whole document (last-write-wins).
type AccountRepository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetDeletedByID(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	Update(ctx context.Context, account *Account) error
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
}

// accountColumns is the column list every account query selects, in scan order.
const accountColumns = `id, email, username, password_hash, first_name, last_name, role, status, verified,
	permissions, facility_ids, security, deleted, deleted_at, created_by, created_at, updated_at`

// SQLiteAccountRepository implements AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

// Create inserts a new account document. The ID is generated if empty and
// the email is stored lowercased.
func (r *SQLiteAccountRepository) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = "acc-" + uuid.NewString()[:8]
	}
	account.Email = NormalizeEmail(account.Email)

	now := time.Now().UTC().Format(time.RFC3339)
	account.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	account.UpdatedAt = account.CreatedAt

	permissions, facilities, security, err := marshalDocFields(account)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, username, password_hash, first_name, last_name, role, status, verified,
		 permissions, facility_ids, security, deleted, deleted_at, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID, account.Email, nullString(account.Username), account.PasswordHash,
		account.FirstName, account.LastName, string(account.Role), string(account.Status),
		boolToInt(account.Verified), permissions, facilities, security,
		boolToInt(account.Deleted), nullTime(account.DeletedAt),
		nullString(account.CreatedBy), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueViolationError(err)
		}
		return fmt.Errorf("creating account: %w", err)
	}

	return nil
}

// GetByID retrieves a live account by its unique ID.
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.getAccount(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ? AND deleted = 0", id)
}

// GetByEmail retrieves a live account by email (case-insensitive).
func (r *SQLiteAccountRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.getAccount(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = ? AND deleted = 0", NormalizeEmail(email))
}

// GetByUsername retrieves a live account by username.
func (r *SQLiteAccountRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return r.getAccount(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE username = ? AND deleted = 0", username)
}

// GetDeletedByID retrieves a soft-deleted account, for restore flows only.
func (r *SQLiteAccountRepository) GetDeletedByID(ctx context.Context, id string) (*Account, error) {
	return r.getAccount(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ? AND deleted = 1", id)
}

// List returns accounts ordered by creation date, applying the filter.
func (r *SQLiteAccountRepository) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts"
	var conds []string
	var args []any

	if !filter.IncludeDeleted {
		conds = append(conds, "deleted = 0")
	}
	if filter.Role != "" {
		conds = append(conds, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}

	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccountFrom(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}

	if accounts == nil {
		accounts = []Account{}
	}
	return accounts, nil
}

// Update writes the whole account document back. Concurrent updates are
// last-write-wins; SQLite's single writer serialises the writes themselves.
func (r *SQLiteAccountRepository) Update(ctx context.Context, account *Account) error {
	account.Email = NormalizeEmail(account.Email)

	now := time.Now().UTC().Format(time.RFC3339)
	account.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	permissions, facilities, security, err := marshalDocFields(account)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET email = ?, username = ?, password_hash = ?, first_name = ?, last_name = ?,
		 role = ?, status = ?, verified = ?, permissions = ?, facility_ids = ?, security = ?,
		 deleted = ?, deleted_at = ?, updated_at = ?
		 WHERE id = ?`,
		account.Email, nullString(account.Username), account.PasswordHash,
		account.FirstName, account.LastName, string(account.Role), string(account.Status),
		boolToInt(account.Verified), permissions, facilities, security,
		boolToInt(account.Deleted), nullTime(account.DeletedAt), now,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return uniqueViolationError(err)
		}
		return fmt.Errorf("updating account: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Count returns the total number of accounts, soft-deleted included.
// First-boot seeding keys off this: any row at all means the system has
// been initialised.
func (r *SQLiteAccountRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of live accounts in the given status.
func (r *SQLiteAccountRepository) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE deleted = 0 AND status = ?", string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts by status: %w", err)
	}
	return count, nil
}

// getAccount executes a query and scans a single account result.
func (r *SQLiteAccountRepository) getAccount(ctx context.Context, query string, args ...any) (*Account, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	return scanAccountFrom(row)
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

// scanAccountFrom scans an account document from any scanner (Row or Rows),
// decoding the JSON document columns.
func scanAccountFrom(s scanner) (*Account, error) {
	var a Account
	var username, deletedAt, createdBy sql.NullString
	var role, status string
	var verified, deleted int
	var permissions, facilities, security string
	var createdAt, updatedAt string

	err := s.Scan(&a.ID, &a.Email, &username, &a.PasswordHash, &a.FirstName, &a.LastName,
		&role, &status, &verified, &permissions, &facilities, &security,
		&deleted, &deletedAt, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.Role = Role(role)
	a.Status = Status(status)
	a.Verified = verified != 0
	a.Deleted = deleted != 0
	if username.Valid {
		a.Username = username.String
	}
	if createdBy.Valid {
		a.CreatedBy = createdBy.String
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339, deletedAt.String) //nolint:errcheck // format is controlled
		a.DeletedAt = &t
	}

	if err := json.Unmarshal([]byte(permissions), &a.Permissions); err != nil {
		return nil, fmt.Errorf("decoding permissions for %s: %w", a.ID, err)
	}
	if facilities != "" && facilities != "null" {
		if err := json.Unmarshal([]byte(facilities), &a.FacilityIDs); err != nil {
			return nil, fmt.Errorf("decoding facility ids for %s: %w", a.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(security), &a.Security); err != nil {
		return nil, fmt.Errorf("decoding security state for %s: %w", a.ID, err)
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &a, nil
}

// marshalDocFields encodes the JSON document columns of an account.
func marshalDocFields(a *Account) (permissions, facilities, security string, err error) {
	p, err := json.Marshal(a.Permissions)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding permissions: %w", err)
	}
	f, err := json.Marshal(a.FacilityIDs)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding facility ids: %w", err)
	}
	s, err := json.Marshal(a.Security)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding security state: %w", err)
	}
	return string(p), string(f), string(s), nil
}

// Helper functions.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") ||
		contains(err.Error(), "unique constraint"))
}

// uniqueViolationError maps a UNIQUE violation to the field-specific sentinel.
func uniqueViolationError(err error) error {
	if contains(err.Error(), "accounts.email") {
		return ErrEmailExists
	}
	return ErrUsernameExists
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchString(s, substr)
}

func searchString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
