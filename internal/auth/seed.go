package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/adityarama/sekolah-core/internal/infrastructure/logging"
)

// SeedAdmin creates the initial admin account when the user table is
// empty. The generated password is logged once at startup and must be
// changed on first login; an already-populated store is left untouched.
func SeedAdmin(ctx context.Context, users UserRepository, logger *logging.Logger) error {
	count, err := users.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return nil
	}

	password, err := generatePassword()
	if err != nil {
		return fmt.Errorf("generating seed password: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Name:         "Administrator",
		Email:        "admin@sekolah.local",
		PasswordHash: hash,
		Role:         RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seeded initial admin account, change this password immediately",
		"email", admin.Email,
		"password", password,
	)
	return nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
