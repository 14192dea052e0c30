package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// EnsureAdmin creates an active Admin account for email unless a user with
// that email already exists. It reports whether a user was created.
func EnsureAdmin(ctx context.Context, users Store, email, password string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return false, nil
	}
	if len(password) < 8 {
		return false, fmt.Errorf("%w: bootstrap admin password must be at least 8 characters", shared.ErrConfiguration)
	}
	_, err := users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, shared.ErrNotFound):
		return false, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	admin := User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  "Administrator",
		Role:         rbac.RoleAdmin,
		IsActive:     true,
	}
	if err := users.Save(ctx, admin); err != nil {
		return false, fmt.Errorf("identity: save bootstrap admin: %w", err)
	}
	return true, nil
}
