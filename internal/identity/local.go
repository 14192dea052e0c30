package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/evdms/evdms/internal/shared"
)

// Provider is the identity collaborator consumed by the auth endpoints and
// the session store.
type Provider interface {
	Authenticate(ctx context.Context, email, password string) (Grant, error)
	Refresh(ctx context.Context, refreshToken string) (Grant, error)
	Revoke(ctx context.Context, token string) error
}

// Local authenticates against a user repository and issues signed tokens.
// Refresh tokens rotate: each one can be exchanged once.
type Local struct {
	users  Repository
	signer *Signer
	logger *slog.Logger

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewLocal constructs a Local provider.
func NewLocal(users Repository, signer *Signer, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{users: users, signer: signer, logger: logger, revoked: make(map[string]time.Time)}
}

// HashPassword hashes a password for storage.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Authenticate validates email/password credentials.
func (l *Local) Authenticate(ctx context.Context, email, password string) (Grant, error) {
	user, err := l.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Grant{}, shared.ErrInvalidCredentials
		}
		return Grant{}, err
	}
	if !user.IsActive || !user.Role.Valid() {
		return Grant{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Grant{}, shared.ErrInvalidCredentials
	}
	return l.signer.Issue(user.Principal())
}

// Refresh exchanges a refresh token for a new pair. The user is reloaded so
// role changes and deactivation take effect.
func (l *Local) Refresh(ctx context.Context, refreshToken string) (Grant, error) {
	claims, err := l.signer.Verify(refreshToken, tokenTypeRefresh)
	if err != nil {
		return Grant{}, err
	}
	if !l.consume(claims) {
		return Grant{}, fmt.Errorf("%w: refresh token already used or revoked", shared.ErrUnauthenticated)
	}
	user, err := l.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Grant{}, shared.ErrUnauthenticated
		}
		return Grant{}, err
	}
	if !user.IsActive {
		return Grant{}, shared.ErrUnauthenticated
	}
	return l.signer.Issue(user.Principal())
}

// Revoke invalidates token. Unparseable tokens are ignored.
func (l *Local) Revoke(_ context.Context, token string) error {
	claims, err := l.signer.parseIgnoringExpiry(token)
	if err != nil {
		l.logger.Debug("ignoring revoke of foreign token", slog.Any("error", err))
		return nil
	}
	l.consume(claims)
	return nil
}

// consume marks the token id revoked and reports whether it was live. Expired
// ids are pruned on the way.
func (l *Local) consume(claims *Claims) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.signer.now()
	for id, exp := range l.revoked {
		if now.After(exp) {
			delete(l.revoked, id)
		}
	}
	if _, ok := l.revoked[claims.ID]; ok {
		return false
	}
	exp := now.Add(l.signer.refreshTTL)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	l.revoked[claims.ID] = exp
	return true
}

var _ Provider = (*Local)(nil)
