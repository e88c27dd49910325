package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed password.
const seedPasswordBytes = 16

// seedEmail is the bootstrap super-admin address. Deployments change it on
// first login.
const seedEmail = "admin@gatehouse.local"

// SeedSuperAdmin creates the initial super-admin account on first boot if no
// accounts exist at all (soft-deleted rows count as existing). The generated
// password is logged once — it must be changed immediately.
// Returns the generated password (empty string if seeding was skipped).
func SeedSuperAdmin(ctx context.Context, accounts AccountRepository, logger *slog.Logger) (string, error) {
	count, err := accounts.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking account count: %w", err)
	}

	if count > 0 {
		logger.Info("accounts exist, skipping super-admin seed")
		return "", nil
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &Account{
		Email:        seedEmail,
		Username:     "superadmin",
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Administrator",
		Role:         RoleSuperAdmin,
		Status:       StatusActive,
		Verified:     true,
		Permissions:  DefaultsForRole(RoleSuperAdmin),
	}

	if err := accounts.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed super-admin: %w", err)
	}

	logger.Warn("seed super-admin account created",
		"email", seedEmail,
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}
