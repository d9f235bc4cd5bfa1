package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/engine"
)

type stubLocks struct {
	acquireErr error
	extendErr  error
	acquired   int
	extended   int
	released   int
}

func (l *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func (l *stubLocks) Extend(context.Context, string, time.Duration) error {
	if l.extendErr != nil {
		return l.extendErr
	}
	l.extended++
	return nil
}

type stubPurchases struct {
	byID  map[string]domain.Purchase
	count int64
}

func (s *stubPurchases) GetByID(_ context.Context, id string) (domain.Purchase, error) {
	p, ok := s.byID[id]
	if !ok {
		return domain.Purchase{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *stubPurchases) ListByBuyer(context.Context, common.Address, domain.ListOpts) ([]domain.Purchase, error) {
	return nil, nil
}

func (s *stubPurchases) ListRecent(context.Context, int) ([]domain.Purchase, error) {
	return nil, nil
}

func (s *stubPurchases) ListBefore(context.Context, time.Time) ([]domain.Purchase, error) {
	return nil, nil
}

func (s *stubPurchases) Count(context.Context) (int64, error) { return s.count, nil }

type stubPrices struct {
	price float64
	ts    time.Time
	err   error
}

func (p *stubPrices) SetPrice(context.Context, string, float64, time.Time) error { return nil }

func (p *stubPrices) GetPrice(context.Context, string) (float64, time.Time, error) {
	if p.err != nil {
		return 0, time.Time{}, p.err
	}
	return p.price, p.ts, nil
}

type stubClaims struct{}

func (s *stubClaims) ListByParticipant(context.Context, common.Address, domain.ListOpts) ([]domain.Claim, error) {
	return nil, nil
}

func (s *stubClaims) ListBefore(context.Context, time.Time) ([]domain.Claim, error) {
	return nil, nil
}

func newSaleRig(t *testing.T, ledger *stubLedger, locks domain.LockManager) (*SaleService, *engine.Engine) {
	t.Helper()
	eng, err := engine.New(testSaleConfig(), nil, nil, nil, testLogger())
	require.NoError(t, err)
	svc := NewSaleService(eng, ledger, &stubPurchases{}, &stubClaims{}, nil, locks, testLogger())
	return svc, eng
}

func TestSaleServiceStartFreshWhenNoHistory(t *testing.T) {
	ledger := newStubLedger()
	ledger.loadErr = domain.ErrNotFound
	svc, eng := newSaleRig(t, ledger, nil)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, 0, eng.PhaseIndex())
	assert.Zero(t, eng.TotalSold().Sign())
}

func TestSaleServiceStartRestoresSnapshot(t *testing.T) {
	ledger := newStubLedger()
	ledger.loadSnap = domain.SaleSnapshot{
		PhaseIndex: 1,
		TotalSold:  big.NewInt(12345),
		Balances: map[common.Address]*big.Int{
			testBuyer: big.NewInt(12345),
		},
		Blocked: []common.Address{testAsset},
	}
	svc, eng := newSaleRig(t, ledger, nil)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, 1, eng.PhaseIndex())
	assert.Equal(t, "12345", eng.TotalSold().String())
	assert.Equal(t, "12345", eng.BalanceOf(testBuyer).String())
	assert.True(t, eng.IsBlocked(testAsset))
}

func TestSaleServiceStartAcquiresLeaderLock(t *testing.T) {
	ledger := newStubLedger()
	ledger.loadErr = domain.ErrNotFound
	locks := &stubLocks{}
	svc, _ := newSaleRig(t, ledger, locks)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, 1, locks.acquired)

	svc.Stop()
	assert.Equal(t, 1, locks.released)
}

func TestSaleServiceStartFailsWhenLockHeld(t *testing.T) {
	locks := &stubLocks{acquireErr: domain.ErrLockHeld}
	svc, _ := newSaleRig(t, newStubLedger(), locks)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestSaleServiceRenewExtendsLockInPlace(t *testing.T) {
	ledger := newStubLedger()
	ledger.loadErr = domain.ErrNotFound
	locks := &stubLocks{}
	svc, _ := newSaleRig(t, ledger, locks)

	require.NoError(t, svc.Start(context.Background()))
	svc.renew(context.Background())

	// The renewal must never release the key: a release would open a window
	// in which a second replica's Acquire succeeds and both replicas mutate
	// the ledger.
	assert.Equal(t, 1, locks.extended)
	assert.Equal(t, 1, locks.acquired)
	assert.Zero(t, locks.released)
}

func TestSaleServiceRenewReacquiresAfterLoss(t *testing.T) {
	ledger := newStubLedger()
	ledger.loadErr = domain.ErrNotFound
	locks := &stubLocks{extendErr: domain.ErrLockLost}
	svc, _ := newSaleRig(t, ledger, locks)

	require.NoError(t, svc.Start(context.Background()))
	svc.renew(context.Background())

	assert.Equal(t, 2, locks.acquired)
	assert.Zero(t, locks.released)
}

func TestSaleServiceStatusIncludesCachedNativePrice(t *testing.T) {
	eng, err := engine.New(testSaleConfig(), nil, nil, nil, testLogger())
	require.NoError(t, err)

	observed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	prices := &stubPrices{price: 2145.5, ts: observed}
	svc := NewSaleService(eng, newStubLedger(), &stubPurchases{count: 7}, &stubClaims{}, prices, nil, testLogger())

	status := svc.Status(context.Background())
	assert.Equal(t, 2145.5, status.NativePriceUSD)
	assert.Equal(t, observed, status.NativePriceAt)
	assert.Equal(t, int64(7), status.PurchaseCount)
}

func TestSaleServiceStatusSkipsPriceCacheMiss(t *testing.T) {
	eng, err := engine.New(testSaleConfig(), nil, nil, nil, testLogger())
	require.NoError(t, err)

	prices := &stubPrices{err: domain.ErrNotFound}
	svc := NewSaleService(eng, newStubLedger(), &stubPurchases{}, &stubClaims{}, prices, nil, testLogger())

	status := svc.Status(context.Background())
	assert.Zero(t, status.NativePriceUSD)
	assert.True(t, status.NativePriceAt.IsZero())
}

func TestSaleServiceGetPurchaseNotFound(t *testing.T) {
	ledger := newStubLedger()
	ledger.loadErr = domain.ErrNotFound
	svc, _ := newSaleRig(t, ledger, nil)

	_, err := svc.GetPurchase(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
