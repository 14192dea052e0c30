package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	created, err := EnsureAdmin(ctx, repo, "root@evdms.test", "long-enough")
	require.NoError(t, err)
	assert.True(t, created)

	u, err := repo.FindByEmail(ctx, "ROOT@evdms.test")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, u.Role)
	assert.True(t, u.IsActive)

	created, err = EnsureAdmin(ctx, repo, "root@evdms.test", "another-password")
	require.NoError(t, err)
	assert.False(t, created, "existing account is left alone")

	local := NewLocal(repo, mustSigner(t), nil)
	_, err = local.Authenticate(ctx, "root@evdms.test", "long-enough")
	require.NoError(t, err)
}

func TestEnsureAdminSkipsAndRejects(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	created, err := EnsureAdmin(ctx, repo, "  ", "whatever1")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = EnsureAdmin(ctx, repo, "root@evdms.test", "short")
	require.ErrorIs(t, err, shared.ErrConfiguration)
}
