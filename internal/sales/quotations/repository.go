package quotations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evdms/evdms/internal/lifecycle"
	"github.com/evdms/evdms/internal/shared"
)

// Repository persists quotations. Status changes go through
// CompareAndSetStatus, which fails with shared.ErrConflict when the stored
// status is no longer expected.
type Repository interface {
	Create(ctx context.Context, q Quotation) (Quotation, error)
	Get(ctx context.Context, id string) (Quotation, error)
	List(ctx context.Context, f ListFilter) ([]Quotation, error)
	CompareAndSetStatus(ctx context.Context, id string, expected lifecycle.QuotationStatus, next Quotation) (Quotation, error)
	// ListOverdue returns draft or sent quotations whose validity ended
	// before now, oldest first.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]Quotation, error)
}

// MemoryRepository keeps quotations in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	quotes map[string]Quotation
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{quotes: make(map[string]Quotation)}
}

func (r *MemoryRepository) Create(_ context.Context, q Quotation) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.quotes[q.ID]; ok {
		return Quotation{}, fmt.Errorf("%w: quotation %s exists", shared.ErrConflict, q.ID)
	}
	r.quotes[q.ID] = q
	return q, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return Quotation{}, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
	}
	return q, nil
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Quotation, 0)
	for _, q := range r.quotes {
		switch {
		case f.DealerID != "" && q.DealerID != f.DealerID:
		case f.CustomerID != "" && q.CustomerID != f.CustomerID:
		case f.Status != "" && q.Status != f.Status:
		default:
			out = append(out, q)
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

func (r *MemoryRepository) CompareAndSetStatus(_ context.Context, id string, expected lifecycle.QuotationStatus, next Quotation) (Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.quotes[id]
	if !ok {
		return Quotation{}, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
	}
	if cur.Status != expected {
		return Quotation{}, fmt.Errorf("%w: quotation %s is %s, expected %s", shared.ErrConflict, id, cur.Status, expected)
	}
	cur.Status = next.Status
	cur.UpdatedAt = next.UpdatedAt
	r.quotes[id] = cur
	return cur, nil
}

func (r *MemoryRepository) ListOverdue(_ context.Context, now time.Time, limit int) ([]Quotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Quotation, 0)
	for _, q := range r.quotes {
		if (q.Status == lifecycle.QuotationDraft || q.Status == lifecycle.QuotationSent) && q.Overdue(now) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidUntil.Before(out[j].ValidUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PGRepository stores quotations in the quotations table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const quotationColumns = `id, customer_id, vehicle_id, variant_id, color_id, dealer_id,
	base_price, variant_price, color_price, fees, dealer_discount, promotion_discount,
	valid_until, status, created_at, updated_at`

func scanQuotation(row pgx.Row) (Quotation, error) {
	var q Quotation
	err := row.Scan(&q.ID, &q.CustomerID, &q.VehicleID, &q.VariantID, &q.ColorID, &q.DealerID,
		&q.Price.Base, &q.Price.Variant, &q.Price.Color, &q.Price.Fees, &q.Price.DealerDiscount, &q.Price.PromotionDiscount,
		&q.ValidUntil, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

func collect(rows pgx.Rows) ([]Quotation, error) {
	defer rows.Close()
	out := make([]Quotation, 0)
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *PGRepository) Create(ctx context.Context, q Quotation) (Quotation, error) {
	p := q.Price
	_, err := r.pool.Exec(ctx, `
		INSERT INTO quotations (`+quotationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		q.ID, q.CustomerID, q.VehicleID, q.VariantID, q.ColorID, q.DealerID,
		int64(p.Base), int64(p.Variant), int64(p.Color), int64(p.Fees), int64(p.DealerDiscount), int64(p.PromotionDiscount),
		q.ValidUntil, string(q.Status), q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return Quotation{}, fmt.Errorf("insert quotation: %w", err)
	}
	return q, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Quotation, error) {
	q, err := scanQuotation(r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Quotation{}, fmt.Errorf("%w: quotation %s", shared.ErrNotFound, id)
	}
	return q, err
}

func (r *PGRepository) List(ctx context.Context, f ListFilter) ([]Quotation, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+quotationColumns+` FROM quotations
		WHERE ($1 = '' OR dealer_id = $1)
		  AND ($2 = '' OR customer_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`, f.DealerID, f.CustomerID, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *PGRepository) CompareAndSetStatus(ctx context.Context, id string, expected lifecycle.QuotationStatus, next Quotation) (Quotation, error) {
	q, err := scanQuotation(r.pool.QueryRow(ctx, `
		UPDATE quotations SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+quotationColumns, id, string(expected), string(next.Status), next.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Quotation{}, getErr
		}
		return Quotation{}, fmt.Errorf("%w: quotation %s is no longer %s", shared.ErrConflict, id, expected)
	}
	return q, err
}

func (r *PGRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]Quotation, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+quotationColumns+` FROM quotations
		WHERE status IN ('draft', 'sent') AND valid_until < $1
		ORDER BY valid_until
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}
