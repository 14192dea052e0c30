package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

// Repository defines credential lookups.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// Store is a Repository that can also write users.
type Store interface {
	Repository
	Save(ctx context.Context, u User) error
}

// MemoryRepository keeps users in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	byEmail map[string]*User
	byID    map[string]*User
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byEmail: make(map[string]*User), byID: make(map[string]*User)}
}

// Put stores u, replacing any user with the same ID or email.
func (r *MemoryRepository) Put(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := u
	r.byEmail[strings.ToLower(u.Email)] = &cp
	r.byID[u.ID] = &cp
}

// Save implements Store.
func (r *MemoryRepository) Save(_ context.Context, u User) error {
	r.Put(u)
	return nil
}

// FindByEmail fetches a user by email, case-insensitively.
func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// FindByID fetches a user by id.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, password_hash, display_name, role, COALESCE(dealer_id, ''), is_active`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// Save inserts u or overwrites the row with the same id.
func (r *PGRepository) Save(ctx context.Context, u User) error {
	var dealerID *string
	if u.DealerID != "" {
		dealerID = &u.DealerID
	}
	const stmt = `INSERT INTO users (id, email, password_hash, display_name, role, dealer_id, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, password_hash = EXCLUDED.password_hash,
	display_name = EXCLUDED.display_name, role = EXCLUDED.role, dealer_id = EXCLUDED.dealer_id,
	is_active = EXCLUDED.is_active`
	_, err := r.pool.Exec(ctx, stmt, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.Role.String(), dealerID, u.IsActive)
	return err
}

func (r *PGRepository) findOne(ctx context.Context, query string, arg string) (*User, error) {
	var (
		u    User
		role string
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &role, &u.DealerID, &u.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Role = parsed
	return &u, nil
}

var (
	_ Store = (*MemoryRepository)(nil)
	_ Store = (*PGRepository)(nil)
)
