package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for a generated admin password.
const seedPasswordBytes = 16

// Bootstrap names the first admin account. An empty Password means one is
// generated and logged once.
type Bootstrap struct {
	Username    string
	Password    string
	DisplayName string
}

// SeedAdmin creates the first admin account when no users exist. It
// returns the generated password, or "" when seeding was skipped or the
// password came from configuration.
func SeedAdmin(ctx context.Context, users UserRepository, b Bootstrap, logger *slog.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	if b.Username == "" {
		b.Username = "admin"
	}
	if b.DisplayName == "" {
		b.DisplayName = "Administrator"
	}

	password := b.Password
	generated := ""
	if password == "" {
		buf := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(buf)
		generated = password
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Username:     b.Username,
		DisplayName:  b.DisplayName,
		PasswordHash: hash,
		Role:         RoleAdmin,
		Status:       StatusActive,
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	if generated != "" {
		logger.Warn("seed admin account created",
			"username", admin.Username,
			"password", generated,
			"action_required", "change this password immediately",
		)
	} else {
		logger.Info("seed admin account created", "username", admin.Username)
	}
	return generated, nil
}
