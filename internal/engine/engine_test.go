package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaunch/saled/internal/domain"
)

var (
	usdtAddr  = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	daiAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	treasury  = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

var saleOpen = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// tok returns n whole tokens in 18-decimal units.
func tok(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

// usdt returns n whole USDT in 6-decimal units.
func usdt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

// testConfig builds a sale with a 1,000,000-token cap and three phases:
// limits 100k/500k/1M tokens at $0.05/$0.10/$0.20, each phase ten days long.
// At $0.05, 5,000 USDT buys exactly 100,000 tokens.
func testConfig() domain.SaleConfig {
	return domain.SaleConfig{
		Token: tokenAddr,
		StableAssets: [2]domain.StableAsset{
			{Address: usdtAddr, Symbol: "USDT", Decimals: 6},
			{Address: daiAddr, Symbol: "DAI", Decimals: 18},
		},
		Treasury: treasury,
		Cap:      tok(1_000_000),
		Phases: [domain.NumPhases]domain.Phase{
			{TokenLimit: tok(100_000), PriceDenominator: big.NewInt(50_000), EndTime: saleOpen.Add(10 * 24 * time.Hour)},
			{TokenLimit: tok(500_000), PriceDenominator: big.NewInt(100_000), EndTime: saleOpen.Add(20 * 24 * time.Hour)},
			{TokenLimit: tok(1_000_000), PriceDenominator: big.NewInt(200_000), EndTime: saleOpen.Add(30 * 24 * time.Hour)},
		},
		OpensAt:  saleOpen,
		ClosesAt: saleOpen.Add(30 * 24 * time.Hour),
	}
}

type stubOracle struct {
	answer *big.Int
	err    error
	calls  int
}

func (o *stubOracle) LatestPrice(context.Context) (domain.PriceRound, error) {
	o.calls++
	if o.err != nil {
		return domain.PriceRound{}, o.err
	}
	return domain.PriceRound{Answer: o.answer, UpdatedAt: time.Now(), RoundID: big.NewInt(1)}, nil
}

type stubTransfer struct {
	collectErr  error
	disburseErr error
	collects    int
	disburses   int
}

func (t *stubTransfer) Collect(_ context.Context, _, _ common.Address, _ *big.Int, _ common.Address) error {
	t.collects++
	return t.collectErr
}

func (t *stubTransfer) Disburse(_ context.Context, _, _ common.Address, _ *big.Int) error {
	t.disburses++
	return t.disburseErr
}

func (t *stubTransfer) DisburseNative(_ context.Context, _ common.Address, _ *big.Int) error {
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	purchases []domain.PurchaseEvent
	phases    []domain.PhaseChangeEvent
	claims    []domain.ClaimEvent
}

func (s *recordingSink) PurchaseCompleted(_ context.Context, evt domain.PurchaseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases = append(s.purchases, evt)
}

func (s *recordingSink) PhaseChanged(_ context.Context, evt domain.PhaseChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, evt)
}

func (s *recordingSink) ClaimSettled(_ context.Context, evt domain.ClaimEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, evt)
}

type testRig struct {
	engine   *Engine
	oracle   *stubOracle
	transfer *stubTransfer
	sink     *recordingSink
}

func newTestRig(t *testing.T, cfg domain.SaleConfig) *testRig {
	t.Helper()
	oracle := &stubOracle{answer: new(big.Int).Mul(big.NewInt(2000), tok(1))} // $2,000 per native unit
	transfer := &stubTransfer{}
	sink := &recordingSink{}
	eng, err := New(cfg, oracle, transfer, sink, nil)
	require.NoError(t, err)
	return &testRig{engine: eng, oracle: oracle, transfer: transfer, sink: sink}
}

func TestNewRejectsInvertedWindow(t *testing.T) {
	cfg := testConfig()
	cfg.OpensAt, cfg.ClosesAt = cfg.ClosesAt, cfg.OpensAt

	_, err := New(cfg, &stubOracle{}, &stubTransfer{}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestPurchaseFixedRate(t *testing.T) {
	rig := newTestRig(t, testConfig())

	p, err := rig.engine.Purchase(context.Background(), alice, usdtAddr, usdt(50), saleOpen)
	require.NoError(t, err)

	// $50 at $0.05 per token.
	assert.Equal(t, tok(1000), p.Tokens)
	assert.Equal(t, domain.PathFixedRate, p.Path)
	assert.Equal(t, 0, p.PhaseIndex)
	assert.Equal(t, tok(1000), rig.engine.TotalSold())
	assert.Equal(t, tok(1000), rig.engine.BalanceOf(alice))
	assert.Equal(t, 1, rig.transfer.collects)
}

func TestPurchaseEighteenDecimalStable(t *testing.T) {
	rig := newTestRig(t, testConfig())

	paid := tok(50) // 50 DAI in 18-decimal units
	p, err := rig.engine.Purchase(context.Background(), alice, daiAddr, paid, saleOpen)
	require.NoError(t, err)
	assert.Equal(t, tok(1000), p.Tokens)
}

func TestPurchaseOraclePath(t *testing.T) {
	rig := newTestRig(t, testConfig())

	// 1 native unit at $2,000 buys $2,000 / $0.05 = 40,000 tokens.
	p, err := rig.engine.Purchase(context.Background(), alice, domain.NativeAsset, tok(1), saleOpen)
	require.NoError(t, err)
	assert.Equal(t, tok(40_000), p.Tokens)
	assert.Equal(t, domain.PathOracle, p.Path)
	assert.Equal(t, 1, rig.oracle.calls)
}

func TestPurchaseUnknownAsset(t *testing.T) {
	rig := newTestRig(t, testConfig())

	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	_, err := rig.engine.Purchase(context.Background(), alice, other, usdt(50), saleOpen)
	assert.ErrorIs(t, err, domain.ErrPricing)
	assert.Equal(t, 0, rig.transfer.collects)
}

func TestPurchaseRejectsCoarseDecimals(t *testing.T) {
	cfg := testConfig()
	cfg.StableAssets[1].Decimals = 24

	rig := newTestRig(t, cfg)
	_, err := rig.engine.Purchase(context.Background(), alice, daiAddr, tok(50), saleOpen)
	assert.ErrorIs(t, err, domain.ErrAssetDecimals)
	assert.ErrorIs(t, err, domain.ErrPricing)
}

func TestPurchaseWindow(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	_, err := rig.engine.Purchase(ctx, alice, usdtAddr, usdt(50), saleOpen.Add(-time.Second))
	assert.ErrorIs(t, err, domain.ErrSaleNotOpen)

	_, err = rig.engine.Purchase(ctx, alice, usdtAddr, usdt(50), rig.engine.Config().ClosesAt.Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrSaleClosed)

	// Opening instant itself is inside the window.
	_, err = rig.engine.Purchase(ctx, alice, usdtAddr, usdt(50), saleOpen)
	assert.NoError(t, err)
}

func TestPurchaseBlockedBuyer(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.engine.Block(alice)

	_, err := rig.engine.Purchase(context.Background(), alice, usdtAddr, usdt(50), saleOpen)
	assert.ErrorIs(t, err, domain.ErrBuyerBlocked)
	assert.ErrorIs(t, err, domain.ErrAccess)

	rig.engine.Unblock(alice)
	_, err = rig.engine.Purchase(context.Background(), alice, usdtAddr, usdt(50), saleOpen)
	assert.NoError(t, err)
}

func TestBlockIdempotent(t *testing.T) {
	rig := newTestRig(t, testConfig())

	assert.True(t, rig.engine.Block(alice))
	assert.False(t, rig.engine.Block(alice))
	assert.True(t, rig.engine.IsBlocked(alice))

	assert.True(t, rig.engine.Unblock(alice))
	assert.False(t, rig.engine.Unblock(alice))
	assert.False(t, rig.engine.IsBlocked(alice))
}

// TestExactLimitBoundary pins the deliberate boundary policy: a purchase that
// lands exactly on a phase's cumulative limit is accounted at that phase's
// price and does NOT advance; the very next purchase is what crosses.
func TestExactLimitBoundary(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	// 5,000 USDT at $0.05 = exactly the 100,000-token phase-0 limit.
	p, err := rig.engine.Purchase(ctx, alice, usdtAddr, usdt(5000), saleOpen)
	require.NoError(t, err)
	assert.Equal(t, tok(100_000), p.Tokens)
	assert.Equal(t, 0, p.PhaseIndex)
	assert.Equal(t, 0, rig.engine.PhaseIndex())
	assert.Empty(t, rig.sink.phases)

	// The next purchase, however small, crosses into phase 1 and is priced
	// at the phase-1 denominator ($0.10): 1 USDT buys 10 tokens.
	p, err = rig.engine.Purchase(ctx, bob, usdtAddr, usdt(1), saleOpen)
	require.NoError(t, err)
	assert.Equal(t, 1, p.PhaseIndex)
	assert.Equal(t, tok(10), p.Tokens)
	assert.Equal(t, 1, rig.engine.PhaseIndex())

	require.Len(t, rig.sink.phases, 1)
	assert.Equal(t, 0, rig.sink.phases[0].From)
	assert.Equal(t, 1, rig.sink.phases[0].To)
}

// TestSinglePurchaseJumpsTwoPhases drives the forward walk twice in one call.
func TestSinglePurchaseJumpsTwoPhases(t *testing.T) {
	rig := newTestRig(t, testConfig())

	// 30,000 USDT at the phase-0 rate would be 600,000 tokens, past both the
	// 100k and 500k limits, so the walk settles on phase 2 and the purchase
	// is priced there: $30,000 at $0.20 = 150,000 tokens.
	p, err := rig.engine.Purchase(context.Background(), alice, usdtAddr, usdt(30_000), saleOpen)
	require.NoError(t, err)
	assert.Equal(t, 2, p.PhaseIndex)
	assert.Equal(t, tok(150_000), p.Tokens)
	assert.Equal(t, 2, rig.engine.PhaseIndex())

	require.Len(t, rig.sink.phases, 1)
	assert.Equal(t, 0, rig.sink.phases[0].From)
	assert.Equal(t, 2, rig.sink.phases[0].To)
}

func TestTimeTriggeredAdvance(t *testing.T) {
	rig := newTestRig(t, testConfig())

	// Past the phase-0 deadline: priced at phase 1 even with zero volume.
	now := saleOpen.Add(11 * 24 * time.Hour)
	p, err := rig.engine.Purchase(context.Background(), alice, usdtAddr, usdt(10), now)
	require.NoError(t, err)
	assert.Equal(t, 1, p.PhaseIndex)
	assert.Equal(t, tok(100), p.Tokens) // $10 at $0.10
}

func TestOracleNonPositivePrice(t *testing.T) {
	for _, answer := range []*big.Int{big.NewInt(0), big.NewInt(-1)} {
		rig := newTestRig(t, testConfig())
		rig.oracle.answer = answer

		_, err := rig.engine.Purchase(context.Background(), alice, domain.NativeAsset, tok(1), saleOpen)
		assert.ErrorIs(t, err, domain.ErrBadOraclePrice)
		assert.ErrorIs(t, err, domain.ErrPricing)
		assert.Zero(t, rig.engine.TotalSold().Sign())
		assert.Equal(t, 0, rig.transfer.collects)
	}
}

func TestOracleFailure(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.oracle.err = errors.New("feed unavailable")

	_, err := rig.engine.Purchase(context.Background(), alice, domain.NativeAsset, tok(1), saleOpen)
	assert.ErrorIs(t, err, domain.ErrPricing)
	assert.Zero(t, rig.engine.TotalSold().Sign())
}

func TestZeroTokenPurchaseRejected(t *testing.T) {
	// A denominator coarser than the scaled numerator floors the conversion
	// of a 1-base-unit payment to zero.
	cfg := testConfig()
	cfg.Phases[0].PriceDenominator = pow10(24)
	rig := newTestRig(t, cfg)

	_, err := rig.engine.Purchase(context.Background(), alice, usdtAddr, big.NewInt(1), saleOpen)
	assert.ErrorIs(t, err, domain.ErrZeroTokens)
	assert.Zero(t, rig.engine.TotalSold().Sign())
	assert.Equal(t, 0, rig.transfer.collects)
}

func TestGlobalCapEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.Cap = tok(1000)
	rig := newTestRig(t, cfg)
	ctx := context.Background()

	_, err := rig.engine.Purchase(ctx, alice, usdtAddr, usdt(50), saleOpen) // 1,000 tokens, exactly the cap
	require.NoError(t, err)

	_, err = rig.engine.Purchase(ctx, bob, usdtAddr, usdt(1), saleOpen)
	assert.ErrorIs(t, err, domain.ErrCapacity)
	assert.Equal(t, tok(1000), rig.engine.TotalSold())
	assert.Zero(t, rig.engine.BalanceOf(bob).Sign())
}

func TestCollectFailureRollsBack(t *testing.T) {
	rig := newTestRig(t, testConfig())
	rig.transfer.collectErr = errors.New("insufficient allowance")

	before := rig.engine.Snapshot()
	_, err := rig.engine.Purchase(context.Background(), alice, usdtAddr, usdt(5000), saleOpen)
	assert.ErrorIs(t, err, domain.ErrTransfer)

	after := rig.engine.Snapshot()
	assert.Equal(t, before.PhaseIndex, after.PhaseIndex)
	assert.Equal(t, before.TotalSold, after.TotalSold)
	assert.Zero(t, rig.engine.BalanceOf(alice).Sign())
	assert.Empty(t, rig.sink.purchases)
	assert.Empty(t, rig.sink.phases)
}

func TestClaimRoundTrip(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	p, err := rig.engine.Purchase(ctx, alice, usdtAddr, usdt(50), saleOpen)
	require.NoError(t, err)

	afterClose := rig.engine.Config().ClosesAt.Add(time.Second)
	c, err := rig.engine.Claim(ctx, alice, afterClose)
	require.NoError(t, err)
	assert.Equal(t, p.Tokens, c.Tokens)
	assert.Zero(t, rig.engine.BalanceOf(alice).Sign())
	assert.Equal(t, 1, rig.transfer.disburses)

	// A second claim finds nothing.
	_, err = rig.engine.Claim(ctx, alice, afterClose)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	assert.ErrorIs(t, err, domain.ErrAccess)
}

// TestClaimAtCloseInstant pins the strict inequality: a claim at a timestamp
// equal to the close time fails; one second later it succeeds.
func TestClaimAtCloseInstant(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	_, err := rig.engine.Purchase(ctx, alice, usdtAddr, usdt(50), saleOpen)
	require.NoError(t, err)

	closesAt := rig.engine.Config().ClosesAt
	_, err = rig.engine.Claim(ctx, alice, closesAt)
	assert.ErrorIs(t, err, domain.ErrClaimBeforeClose)

	_, err = rig.engine.Claim(ctx, alice, closesAt.Add(time.Second))
	assert.NoError(t, err)
}

func TestDisburseFailureRestoresBalance(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	p, err := rig.engine.Purchase(ctx, alice, usdtAddr, usdt(50), saleOpen)
	require.NoError(t, err)

	rig.transfer.disburseErr = errors.New("paused token")
	afterClose := rig.engine.Config().ClosesAt.Add(time.Second)
	_, err = rig.engine.Claim(ctx, alice, afterClose)
	assert.ErrorIs(t, err, domain.ErrTransfer)
	assert.Equal(t, p.Tokens, rig.engine.BalanceOf(alice))

	// Retry once the transfer collaborator recovers.
	rig.transfer.disburseErr = nil
	c, err := rig.engine.Claim(ctx, alice, afterClose)
	require.NoError(t, err)
	assert.Equal(t, p.Tokens, c.Tokens)
}

// TestLedgerInvariants runs a mixed purchase sequence and checks that the
// running total never exceeds the cap, always equals the sum of credited
// balances, and that the phase index never decreases.
func TestLedgerInvariants(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	buyers := []common.Address{alice, bob}
	amounts := []int64{3000, 2500, 7000, 40_000, 12_000, 60_000, 9000}

	lastPhase := 0
	for i, amt := range amounts {
		buyer := buyers[i%len(buyers)]
		now := saleOpen.Add(time.Duration(i) * time.Hour)

		_, err := rig.engine.Purchase(ctx, buyer, usdtAddr, usdt(amt), now)
		require.NoError(t, err)

		snap := rig.engine.Snapshot()
		assert.LessOrEqual(t, snap.TotalSold.Cmp(rig.engine.Config().Cap), 0)
		assert.GreaterOrEqual(t, snap.PhaseIndex, lastPhase)
		lastPhase = snap.PhaseIndex

		sum := new(big.Int)
		for _, bal := range snap.Balances {
			sum.Add(sum, bal)
		}
		assert.Equal(t, snap.TotalSold, sum)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	rig := newTestRig(t, testConfig())
	ctx := context.Background()

	_, err := rig.engine.Purchase(ctx, alice, usdtAddr, usdt(5000), saleOpen)
	require.NoError(t, err)
	_, err = rig.engine.Purchase(ctx, bob, usdtAddr, usdt(100), saleOpen)
	require.NoError(t, err)
	rig.engine.Block(bob)

	snap := rig.engine.Snapshot()

	fresh := newTestRig(t, testConfig())
	fresh.engine.Restore(snap)

	assert.Equal(t, rig.engine.PhaseIndex(), fresh.engine.PhaseIndex())
	assert.Equal(t, rig.engine.TotalSold(), fresh.engine.TotalSold())
	assert.Equal(t, rig.engine.BalanceOf(alice), fresh.engine.BalanceOf(alice))
	assert.True(t, fresh.engine.IsBlocked(bob))
}
