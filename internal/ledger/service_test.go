package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/evdms/evdms/internal/pricing"
	"github.com/evdms/evdms/internal/rbac"
	"github.com/evdms/evdms/internal/shared"
)

var (
	admin   = rbac.Principal{ID: "admin-1", Role: rbac.RoleAdmin}
	evm     = rbac.Principal{ID: "evm-1", Role: rbac.RoleEVMStaff}
	manager = rbac.Principal{ID: "dm-1", Role: rbac.RoleDealerManager, DealerID: "d-1"}
)

type countingObserver struct {
	mu      sync.Mutex
	reasons map[string]int
}

func (o *countingObserver) LedgerRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reasons == nil {
		o.reasons = map[string]int{}
	}
	o.reasons[reason]++
}

// ledgerSuite runs the same behaviour against every store that can run
// without external services.
type ledgerSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	observer *countingObserver
	svc      *Service
}

func (s *ledgerSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.observer = &countingObserver{}
	s.svc = NewService(s.store, nil, s.observer)
	_, err := s.svc.OpenAccount(context.Background(), admin, "d-1", 100)
	s.Require().NoError(err)
}

func (s *ledgerSuite) seedDebt(amount pricing.Money) {
	_, err := s.svc.RecordCharge(context.Background(), evm, "d-1", amount, false, "seed")
	s.Require().NoError(err)
}

func (s *ledgerSuite) TestChargeWithinLimit() {
	res, err := s.svc.RecordCharge(context.Background(), evm, "d-1", 60, false, "order o-1")
	s.Require().NoError(err)
	s.Equal(pricing.Money(60), res.Account.CurrentDebt)
	s.Equal(KindCharge, res.Entry.Kind)
	s.NotEmpty(res.Entry.ID)
	s.False(res.OverLimit)

	res, err = s.svc.RecordCharge(context.Background(), evm, "d-1", 40, false, "order o-2")
	s.Require().NoError(err)
	s.Equal(pricing.Money(100), res.Account.CurrentDebt)
}

func (s *ledgerSuite) TestChargeBreachingLimitIsRejected() {
	s.seedDebt(90)
	_, err := s.svc.RecordCharge(context.Background(), evm, "d-1", 15, false, "")
	s.Require().ErrorIs(err, shared.ErrDebtLimitExceeded)

	acct, err := s.svc.Account(context.Background(), "d-1")
	s.Require().NoError(err)
	s.Equal(pricing.Money(90), acct.CurrentDebt)
	s.Equal(1, s.observer.reasons["debt_limit"])
}

func (s *ledgerSuite) TestOverrideRequiresAdmin() {
	s.seedDebt(90)
	_, err := s.svc.RecordCharge(context.Background(), evm, "d-1", 15, true, "")
	s.Require().ErrorIs(err, shared.ErrForbidden)

	res, err := s.svc.RecordCharge(context.Background(), admin, "d-1", 15, true, "board approval")
	s.Require().NoError(err)
	s.True(res.OverLimit)
	s.True(res.Entry.Override)
	s.Equal(pricing.Money(105), res.Account.CurrentDebt)
	s.Equal(pricing.Money(-5), res.Account.Available())
}

func (s *ledgerSuite) TestInvalidAmounts() {
	s.seedDebt(50)
	for _, amount := range []pricing.Money{0, -1} {
		_, err := s.svc.RecordCharge(context.Background(), evm, "d-1", amount, false, "")
		s.ErrorIs(err, shared.ErrInvalidAmount)
		_, err = s.svc.RecordPayment(context.Background(), manager, "d-1", amount, "")
		s.ErrorIs(err, shared.ErrInvalidAmount)
	}
	_, err := s.svc.RecordPayment(context.Background(), manager, "d-1", 51, "")
	s.ErrorIs(err, shared.ErrInvalidAmount)

	res, err := s.svc.RecordPayment(context.Background(), manager, "d-1", 50, "")
	s.Require().NoError(err)
	s.Equal(pricing.Money(0), res.Account.CurrentDebt)

	_, err = s.svc.RecordPayment(context.Background(), manager, "d-1", 1, "")
	s.ErrorIs(err, shared.ErrInvalidAmount)
}

func (s *ledgerSuite) TestHugeChargesCannotWrapDebt() {
	ctx := context.Background()
	s.seedDebt(10)

	_, err := s.svc.RecordCharge(ctx, manager, "d-1", math.MaxInt64, false, "order o-max")
	s.ErrorIs(err, shared.ErrInvalidAmount)
	_, err = s.svc.RecordCharge(ctx, manager, "d-1", pricing.MaxAmount, false, "order o-big")
	s.ErrorIs(err, shared.ErrDebtLimitExceeded)
	_, err = s.svc.RecordCharge(ctx, admin, "d-1", pricing.MaxAmount, true, "override")
	s.ErrorIs(err, shared.ErrInvalidAmount)
	_, err = s.svc.RecordCharge(ctx, evm, "d-1", 1_000_000, false, "follow-up")
	s.ErrorIs(err, shared.ErrDebtLimitExceeded)

	acct, err := s.svc.Account(ctx, "d-1")
	s.Require().NoError(err)
	s.Equal(pricing.Money(10), acct.CurrentDebt)

	res, err := s.svc.RecordCharge(ctx, admin, "d-1", pricing.MaxAmount-10, true, "override")
	s.Require().NoError(err)
	s.Equal(pricing.MaxAmount, res.Account.CurrentDebt)
	_, err = s.svc.RecordCharge(ctx, admin, "d-1", 1, true, "override")
	s.ErrorIs(err, shared.ErrInvalidAmount)

	_, err = s.svc.OpenAccount(ctx, admin, "d-2", pricing.MaxAmount+1)
	s.ErrorIs(err, shared.ErrInvalidAmount)
}

func (s *ledgerSuite) TestUnknownDealer() {
	_, err := s.svc.RecordCharge(context.Background(), evm, "d-404", 10, false, "")
	s.ErrorIs(err, shared.ErrNotFound)
	_, err = s.svc.Account(context.Background(), "d-404")
	s.ErrorIs(err, shared.ErrNotFound)
}

func (s *ledgerSuite) TestOpenAccountTwiceConflicts() {
	_, err := s.svc.OpenAccount(context.Background(), admin, "d-1", 500)
	s.ErrorIs(err, shared.ErrConflict)
	_, err = s.svc.OpenAccount(context.Background(), evm, "d-2", 500)
	s.ErrorIs(err, shared.ErrForbidden)
}

func (s *ledgerSuite) TestReverseRestoresDebt() {
	res, err := s.svc.RecordCharge(context.Background(), evm, "d-1", 70, false, "order o-9")
	s.Require().NoError(err)
	rev, err := s.svc.Reverse(context.Background(), evm, res.Entry)
	s.Require().NoError(err)
	s.Equal(pricing.Money(0), rev.Account.CurrentDebt)
	s.Equal(res.Entry.ID, rev.Entry.Reference)

	entries, err := s.svc.Entries(context.Background(), "d-1", 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(KindReversal, entries[0].Kind)
	s.Equal(KindCharge, entries[1].Kind)
}

// raceCharges fires workers concurrent charges of amount and counts outcomes.
func (s *ledgerSuite) raceCharges(workers int, amount pricing.Money) (ok, limited int) {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.svc.RecordCharge(context.Background(), evm, "d-1", amount, false, "")
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrDebtLimitExceeded):
			limited++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	return ok, limited
}

func (s *ledgerSuite) TestConcurrentChargesOnlyOnePasses() {
	s.seedDebt(80)
	ok, limited := s.raceCharges(2, 15)
	s.Equal(1, ok)
	s.Equal(1, limited)

	acct, err := s.svc.Account(context.Background(), "d-1")
	s.Require().NoError(err)
	s.Equal(pricing.Money(95), acct.CurrentDebt)
}

func (s *ledgerSuite) TestConcurrentChargesNearLimitNeverBothPass() {
	s.seedDebt(90)
	ok, limited := s.raceCharges(2, 15)
	s.LessOrEqual(ok, 1)
	s.Equal(2, ok+limited)

	acct, err := s.svc.Account(context.Background(), "d-1")
	s.Require().NoError(err)
	s.LessOrEqual(int64(acct.CurrentDebt), int64(acct.DebtLimit))
}

func (s *ledgerSuite) TestManyConcurrentChargesNeverBreach() {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.svc.RecordCharge(context.Background(), evm, "d-1", 7, false, "")
		}()
	}
	wg.Wait()

	acct, err := s.svc.Account(context.Background(), "d-1")
	s.Require().NoError(err)
	s.LessOrEqual(int64(acct.CurrentDebt), int64(acct.DebtLimit))
	s.Equal(pricing.Money(98), acct.CurrentDebt)
}

func TestMemoryLedger(t *testing.T) {
	suite.Run(t, &ledgerSuite{newStore: func(*testing.T) Store { return NewMemoryStore() }})
}

func TestRedisLedger(t *testing.T) {
	suite.Run(t, &ledgerSuite{newStore: func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisStore(client)
	}})
}

func TestCheckRule(t *testing.T) {
	acct := Account{DealerID: "d-1", DebtLimit: 100, CurrentDebt: 90}

	_, err := check(acct, Entry{Kind: KindCharge, Amount: 11})
	require.ErrorIs(t, err, shared.ErrDebtLimitExceeded)

	next, err := check(acct, Entry{Kind: KindCharge, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, pricing.Money(100), next.CurrentDebt)
	assert.Equal(t, pricing.Money(90), acct.CurrentDebt)

	_, err = check(acct, Entry{Kind: KindPayment, Amount: 91})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = check(acct, Entry{Kind: KindReversal, Amount: 0})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)

	_, err = check(acct, Entry{Kind: KindCharge, Amount: math.MaxInt64})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
	_, err = check(acct, Entry{Kind: KindCharge, Amount: pricing.MaxAmount})
	require.ErrorIs(t, err, shared.ErrDebtLimitExceeded)

	over := Account{DealerID: "d-1", DebtLimit: 100, CurrentDebt: 150}
	_, err = check(over, Entry{Kind: KindCharge, Amount: 1})
	require.ErrorIs(t, err, shared.ErrDebtLimitExceeded)

	full := Account{DealerID: "d-1", DebtLimit: 100, CurrentDebt: pricing.MaxAmount}
	_, err = check(full, Entry{Kind: KindCharge, Amount: 1, Override: true})
	require.ErrorIs(t, err, shared.ErrInvalidAmount)
}

func TestEntryIDsSortByTime(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, nil)
	_, err := svc.OpenAccount(context.Background(), admin, "d-1", 1_000)
	require.NoError(t, err)
	var ids []string
	for i := 0; i < 5; i++ {
		res, err := svc.RecordCharge(context.Background(), evm, "d-1", 1, false, "")
		require.NoError(t, err)
		ids = append(ids, res.Entry.ID)
	}
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}
