package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evdms/evdms/internal/platform/db"
	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/shared"
)

// PGStore keeps accounts in dealer_accounts and entries in ledger_entries.
// The debt condition lives in the UPDATE's WHERE clause, so the row lock
// taken by the update serialises concurrent commits.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs the store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// OpenAccount creates the account; an existing one is a conflict.
func (s *PGStore) OpenAccount(ctx context.Context, acct Account) (Account, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dealer_accounts (dealer_id, debt_limit, current_debt, updated_at)
		VALUES ($1, $2, 0, $3)`, acct.DealerID, int64(acct.DebtLimit), acct.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, fmt.Errorf("%w: dealer %s already has an account", shared.ErrConflict, acct.DealerID)
		}
		return Account{}, err
	}
	acct.CurrentDebt = 0
	return acct, nil
}

// Account returns the dealer account.
func (s *PGStore) Account(ctx context.Context, dealerID string) (Account, error) {
	acct := Account{DealerID: dealerID}
	err := s.pool.QueryRow(ctx, `
		SELECT debt_limit, current_debt, updated_at FROM dealer_accounts WHERE dealer_id = $1`, dealerID).
		Scan(&acct.DebtLimit, &acct.CurrentDebt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: dealer account %s", shared.ErrNotFound, dealerID)
	}
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Commit applies e with a conditional update and records the entry in the
// same transaction.
func (s *PGStore) Commit(ctx context.Context, e Entry) (Account, error) {
	if !e.Amount.IsPositive() || !e.Amount.InBounds() {
		return Account{}, fmt.Errorf("%w: amount must be between 1 and %d", shared.ErrInvalidAmount, pricing.MaxAmount)
	}
	var acct Account
	err := db.WithTxIso(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		var row pgx.Row
		if e.Kind.increasesDebt() {
			row = tx.QueryRow(ctx, `
				UPDATE dealer_accounts
				SET current_debt = current_debt + $2, updated_at = $4
				WHERE dealer_id = $1
					AND current_debt <= $5::bigint - $2
					AND ($3 OR $2 <= debt_limit - current_debt)
				RETURNING debt_limit, current_debt, updated_at`,
				e.DealerID, int64(e.Amount), e.Override, e.CreatedAt, int64(pricing.MaxAmount))
		} else {
			row = tx.QueryRow(ctx, `
				UPDATE dealer_accounts
				SET current_debt = current_debt - $2, updated_at = $3
				WHERE dealer_id = $1 AND current_debt >= $2
				RETURNING debt_limit, current_debt, updated_at`,
				e.DealerID, int64(e.Amount), e.CreatedAt)
		}
		acct = Account{DealerID: e.DealerID}
		if err := row.Scan(&acct.DebtLimit, &acct.CurrentDebt, &acct.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return s.explainMiss(ctx, tx, e)
			}
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (id, dealer_id, kind, amount, override, actor_id, reference, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
			e.ID, e.DealerID, string(e.Kind), int64(e.Amount), e.Override, e.ActorID, e.Reference, e.CreatedAt)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// explainMiss tells a missing account from a failed debt condition.
func (s *PGStore) explainMiss(ctx context.Context, tx pgx.Tx, e Entry) error {
	var limit, debt int64
	err := tx.QueryRow(ctx, `SELECT debt_limit, current_debt FROM dealer_accounts WHERE dealer_id = $1`, e.DealerID).Scan(&limit, &debt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: dealer account %s", shared.ErrNotFound, e.DealerID)
	}
	if err != nil {
		return err
	}
	if e.Kind.increasesDebt() {
		if !e.Override && int64(e.Amount) > limit-debt {
			return fmt.Errorf("%w: dealer %s debt %d + %d exceeds limit %d", shared.ErrDebtLimitExceeded, e.DealerID, debt, e.Amount, limit)
		}
		return fmt.Errorf("%w: dealer %s debt %d + %d exceeds %d", shared.ErrInvalidAmount, e.DealerID, debt, e.Amount, pricing.MaxAmount)
	}
	return fmt.Errorf("%w: %s of %d exceeds debt %d", shared.ErrInvalidAmount, e.Kind, e.Amount, debt)
}

// Entries returns up to limit entries, newest first.
func (s *PGStore) Entries(ctx context.Context, dealerID string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dealer_id, kind, amount, override, actor_id, COALESCE(reference, ''), created_at
		FROM ledger_entries
		WHERE dealer_id = $1
		ORDER BY id DESC
		LIMIT $2`, dealerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.DealerID, &kind, &e.Amount, &e.Override, &e.ActorID, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ Store = (*PGStore)(nil)
