package auth

import (
	"context"
	"errors"
	"fmt"
)

// Gate authorises requests carrying an access token. It is read-only and
// writes no audit entries.
type Gate struct {
	codec *TokenCodec
	users UserRepository
}

// NewGate creates a Gate.
func NewGate(codec *TokenCodec, users UserRepository) *Gate {
	return &Gate{codec: codec, users: users}
}

// Authorize resolves a bearer access token to an active user.
func (g *Gate) Authorize(ctx context.Context, bearer string) (*User, error) {
	if bearer == "" {
		return nil, ErrMissingToken
	}

	claims, err := g.codec.Decode(bearer)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenAccess {
		return nil, fmt.Errorf("%w: %s token used as access token", ErrInvalidToken, claims.Type)
	}

	user, err := g.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.Status != StatusActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

// RequireRoles succeeds when user holds any of roles.
func RequireRoles(user *User, roles ...Role) error {
	if user == nil {
		return ErrPermissionDenied
	}
	for _, r := range roles {
		if user.Role == r {
			return nil
		}
	}
	return ErrPermissionDenied
}

// AuthorizeWithRoles combines Authorize and RequireRoles.
func (g *Gate) AuthorizeWithRoles(ctx context.Context, bearer string, roles ...Role) (*User, error) {
	user, err := g.Authorize(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if err := RequireRoles(user, roles...); err != nil {
		return nil, err
	}
	return user, nil
}
