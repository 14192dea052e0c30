package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/shared"
)

const redisPrefix = "evdms:ledger:"

// The debt check and the debt update run in one script so concurrent commits
// on the same dealer serialise inside Redis.
var commitScript = redis.NewScript(`
local acct = KEYS[1]
if redis.call('EXISTS', acct) == 0 then
  return {'missing', 0, 0}
end
local limit = tonumber(redis.call('HGET', acct, 'limit'))
local debt = tonumber(redis.call('HGET', acct, 'debt'))
local amount = tonumber(ARGV[2])
if ARGV[1] == 'charge' then
  if ARGV[3] ~= '1' and amount > limit - debt then
    return {'limit', limit, debt}
  end
  if debt > tonumber(ARGV[6]) - amount then
    return {'bound', limit, debt}
  end
  debt = redis.call('HINCRBY', acct, 'debt', ARGV[2])
else
  if amount > debt then
    return {'amount', limit, debt}
  end
  debt = redis.call('HINCRBY', acct, 'debt', '-' .. ARGV[2])
end
redis.call('HSET', acct, 'updated_at', ARGV[4])
redis.call('RPUSH', KEYS[2], ARGV[5])
return {'ok', limit, debt}
`)

var openScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'limit', ARGV[1], 'debt', '0', 'updated_at', ARGV[2])
return 1
`)

// RedisStore keeps accounts in hashes and entries in per-dealer lists.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs the store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func accountKey(dealerID string) string { return redisPrefix + "account:" + dealerID }
func entriesKey(dealerID string) string { return redisPrefix + "entries:" + dealerID }

// OpenAccount creates the account; an existing one is a conflict.
func (s *RedisStore) OpenAccount(ctx context.Context, acct Account) (Account, error) {
	created, err := openScript.Run(ctx, s.client, []string{accountKey(acct.DealerID)},
		strconv.FormatInt(int64(acct.DebtLimit), 10),
		strconv.FormatInt(acct.UpdatedAt.UnixNano(), 10),
	).Int()
	if err != nil {
		return Account{}, fmt.Errorf("open ledger account: %w", err)
	}
	if created == 0 {
		return Account{}, fmt.Errorf("%w: dealer %s already has an account", shared.ErrConflict, acct.DealerID)
	}
	acct.CurrentDebt = 0
	return acct, nil
}

// Account returns the dealer account.
func (s *RedisStore) Account(ctx context.Context, dealerID string) (Account, error) {
	fields, err := s.client.HGetAll(ctx, accountKey(dealerID)).Result()
	if err != nil {
		return Account{}, err
	}
	if len(fields) == 0 {
		return Account{}, fmt.Errorf("%w: dealer account %s", shared.ErrNotFound, dealerID)
	}
	acct := Account{DealerID: dealerID}
	limit, err := strconv.ParseInt(fields["limit"], 10, 64)
	if err != nil {
		return Account{}, fmt.Errorf("decode debt limit: %w", err)
	}
	debt, err := strconv.ParseInt(fields["debt"], 10, 64)
	if err != nil {
		return Account{}, fmt.Errorf("decode current debt: %w", err)
	}
	acct.DebtLimit, acct.CurrentDebt = pricing.Money(limit), pricing.Money(debt)
	if ts, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		acct.UpdatedAt = time.Unix(0, ts).UTC()
	}
	return acct, nil
}

// Commit runs the compare-and-commit script.
func (s *RedisStore) Commit(ctx context.Context, e Entry) (Account, error) {
	if !e.Amount.IsPositive() || !e.Amount.InBounds() {
		return Account{}, fmt.Errorf("%w: amount must be between 1 and %d", shared.ErrInvalidAmount, pricing.MaxAmount)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Account{}, err
	}
	override := "0"
	if e.Override {
		override = "1"
	}
	kind := "credit"
	if e.Kind.increasesDebt() {
		kind = "charge"
	}

	reply, err := commitScript.Run(ctx, s.client,
		[]string{accountKey(e.DealerID), entriesKey(e.DealerID)},
		kind,
		strconv.FormatInt(int64(e.Amount), 10),
		override,
		strconv.FormatInt(e.CreatedAt.UnixNano(), 10),
		payload,
		strconv.FormatInt(int64(pricing.MaxAmount), 10),
	).Slice()
	if err != nil {
		return Account{}, fmt.Errorf("commit ledger entry: %w", err)
	}
	if len(reply) != 3 {
		return Account{}, fmt.Errorf("commit ledger entry: unexpected reply %v", reply)
	}
	status, _ := reply[0].(string)
	limit, _ := reply[1].(int64)
	debt, _ := reply[2].(int64)

	switch status {
	case "ok":
		return Account{DealerID: e.DealerID, DebtLimit: pricing.Money(limit), CurrentDebt: pricing.Money(debt), UpdatedAt: e.CreatedAt}, nil
	case "missing":
		return Account{}, fmt.Errorf("%w: dealer account %s", shared.ErrNotFound, e.DealerID)
	case "limit":
		return Account{}, fmt.Errorf("%w: dealer %s debt %d + %d exceeds limit %d",
			shared.ErrDebtLimitExceeded, e.DealerID, debt, e.Amount, limit)
	case "amount":
		return Account{}, fmt.Errorf("%w: %s of %d exceeds debt %d", shared.ErrInvalidAmount, e.Kind, e.Amount, debt)
	case "bound":
		return Account{}, fmt.Errorf("%w: dealer %s debt %d + %d exceeds %d",
			shared.ErrInvalidAmount, e.DealerID, debt, e.Amount, pricing.MaxAmount)
	default:
		return Account{}, fmt.Errorf("commit ledger entry: unexpected status %q", status)
	}
}

// Entries returns up to limit entries, newest first.
func (s *RedisStore) Entries(ctx context.Context, dealerID string, limit int) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, entriesKey(dealerID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e Entry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
