package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

func newTestLocal(t *testing.T) (*Local, *MemoryRepository, *Signer) {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	repo := NewMemoryRepository()
	repo.Put(User{ID: "u-1", Email: "dana@dealer.test", PasswordHash: hash, DisplayName: "Dana", Role: rbac.RoleDealerManager, DealerID: "d-1", IsActive: true})
	repo.Put(User{ID: "u-2", Email: "gone@dealer.test", PasswordHash: hash, Role: rbac.RoleDealerStaff, IsActive: false})
	signer := mustSigner(t)
	return NewLocal(repo, signer, nil), repo, signer
}

func mustSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner("test-secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)
	return signer
}

func TestAuthenticate(t *testing.T) {
	local, _, signer := newTestLocal(t)

	grant, err := local.Authenticate(context.Background(), "DANA@dealer.test", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "u-1", grant.Principal.ID)
	assert.Equal(t, rbac.RoleDealerManager, grant.Principal.Role)

	claims, err := signer.Verify(grant.AccessToken, tokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, grant.Principal, claims.Principal())
	assert.NotEmpty(t, claims.ID)

	_, err = signer.Verify(grant.AccessToken, tokenTypeRefresh)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestAuthenticateRejects(t *testing.T) {
	local, _, _ := newTestLocal(t)
	cases := map[string][2]string{
		"wrong password": {"dana@dealer.test", "nope-nope"},
		"unknown user":   {"who@dealer.test", "correct-horse"},
		"inactive user":  {"gone@dealer.test", "correct-horse"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := local.Authenticate(context.Background(), tc[0], tc[1])
			require.ErrorIs(t, err, shared.ErrInvalidCredentials)
		})
	}
}

func TestRefreshRotates(t *testing.T) {
	local, _, _ := newTestLocal(t)
	grant, err := local.Authenticate(context.Background(), "dana@dealer.test", "correct-horse")
	require.NoError(t, err)

	next, err := local.Refresh(context.Background(), grant.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, grant.RefreshToken, next.RefreshToken)

	_, err = local.Refresh(context.Background(), grant.RefreshToken)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = local.Refresh(context.Background(), grant.AccessToken)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestRefreshPicksUpDeactivation(t *testing.T) {
	local, repo, _ := newTestLocal(t)
	grant, err := local.Authenticate(context.Background(), "dana@dealer.test", "correct-horse")
	require.NoError(t, err)

	u, err := repo.FindByID(context.Background(), "u-1")
	require.NoError(t, err)
	u.IsActive = false
	repo.Put(*u)

	_, err = local.Refresh(context.Background(), grant.RefreshToken)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestRevokeBlocksRefresh(t *testing.T) {
	local, _, _ := newTestLocal(t)
	grant, err := local.Authenticate(context.Background(), "dana@dealer.test", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, local.Revoke(context.Background(), grant.RefreshToken))
	_, err = local.Refresh(context.Background(), grant.RefreshToken)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	require.NoError(t, local.Revoke(context.Background(), "not-a-token"))
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	_, _, signer := newTestLocal(t)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		TokenType:        tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = signer.Verify(forged, tokenTypeAccess)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	signer.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old, err := signer.Issue(rbac.Principal{ID: "u-9", Role: rbac.RoleCustomer})
	require.NoError(t, err)
	signer.now = time.Now
	_, err = signer.Verify(old.AccessToken, tokenTypeAccess)
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("", time.Hour, time.Hour)
	require.ErrorIs(t, err, shared.ErrConfiguration)
}
