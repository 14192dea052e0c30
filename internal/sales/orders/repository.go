package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/shared"
)

// Repository persists orders. CompareAndSetStatus is the only way a status
// changes: it writes next when the stored status still equals expected and
// fails with shared.ErrConflict otherwise.
type Repository interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	CompareAndSetStatus(ctx context.Context, id string, expected lifecycle.OrderStatus, next Order) (Order, error)
}

// MemoryRepository keeps orders in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]Order
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]Order)}
}

func (r *MemoryRepository) Create(_ context.Context, o Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return Order{}, fmt.Errorf("%w: order %s exists", shared.ErrConflict, o.ID)
	}
	r.orders[o.ID] = o
	return o, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", shared.ErrNotFound, id)
	}
	return o, nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range r.orders {
		if matches(o, f) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) CompareAndSetStatus(_ context.Context, id string, expected lifecycle.OrderStatus, next Order) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %s", shared.ErrNotFound, id)
	}
	if cur.Status != expected {
		return Order{}, fmt.Errorf("%w: order %s is %s, expected %s", shared.ErrConflict, id, cur.Status, expected)
	}
	cur.Status = next.Status
	cur.ChargeEntryID = next.ChargeEntryID
	cur.UpdatedAt = next.UpdatedAt
	r.orders[id] = cur
	return cur, nil
}

func matches(o Order, f ListFilter) bool {
	switch {
	case f.DealerID != "" && o.DealerID != f.DealerID:
		return false
	case f.CustomerID != "" && o.CustomerID != f.CustomerID:
		return false
	case f.Status != "" && o.Status != f.Status:
		return false
	}
	return true
}

// PGRepository stores orders in the orders table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `id, customer_id, vehicle_id, dealer_id, total_amount, payment_method, status,
	COALESCE(charge_entry_id, ''), created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.VehicleID, &o.DealerID, &o.TotalAmount,
		&o.PaymentMethod, &o.Status, &o.ChargeEntryID, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *PGRepository) Create(ctx context.Context, o Order) (Order, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (id, customer_id, vehicle_id, dealer_id, total_amount, payment_method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.CustomerID, o.VehicleID, o.DealerID, int64(o.TotalAmount), string(o.PaymentMethod),
		string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order %s", shared.ErrNotFound, id)
	}
	return o, err
}

func (r *PGRepository) List(ctx context.Context, f ListFilter) ([]Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR dealer_id = $1)
		  AND ($2 = '' OR customer_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, f.DealerID, f.CustomerID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGRepository) CompareAndSetStatus(ctx context.Context, id string, expected lifecycle.OrderStatus, next Order) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `
		UPDATE orders SET status = $3, charge_entry_id = NULLIF($4, ''), updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns, id, string(expected), string(next.Status), next.ChargeEntryID, next.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Order{}, getErr
		}
		return Order{}, fmt.Errorf("%w: order %s is no longer %s", shared.ErrConflict, id, expected)
	}
	return o, err
}
