package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
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
	testBuyer = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testAsset = common.HexToAddress("0x0000000000000000000000000000000000000a01")
)

type stubLedger struct {
	mu        sync.Mutex
	purchases []domain.Purchase
	claims    []domain.Claim
	blocked   map[common.Address]bool

	loadSnap    domain.SaleSnapshot
	loadErr     error
	purchaseErr error
	claimErr    error
	blockErr    error
}

func newStubLedger() *stubLedger {
	return &stubLedger{blocked: make(map[common.Address]bool)}
}

func (s *stubLedger) Load(context.Context) (domain.SaleSnapshot, error) {
	return s.loadSnap, s.loadErr
}

func (s *stubLedger) RecordPurchase(_ context.Context, p domain.Purchase, _ int, _ *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purchaseErr != nil {
		return s.purchaseErr
	}
	s.purchases = append(s.purchases, p)
	return nil
}

func (s *stubLedger) RecordClaim(_ context.Context, c domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return s.claimErr
	}
	s.claims = append(s.claims, c)
	return nil
}

func (s *stubLedger) SetBlocked(_ context.Context, participant common.Address, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockErr != nil {
		return s.blockErr
	}
	s.blocked[participant] = blocked
	return nil
}

type stubBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newStubBus() *stubBus {
	return &stubBus{
		published: make(map[string][][]byte),
		streamed:  make(map[string][][]byte),
	}
}

func (b *stubBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *stubBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *stubBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *stubBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type stubAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	logErr  error
}

func (a *stubAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logErr != nil {
		return a.logErr
	}
	a.entries = append(a.entries, domain.AuditEntry{Event: event, Detail: detail})
	return nil
}

func (a *stubAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testPurchase() domain.Purchase {
	return domain.Purchase{
		ID:           "p-1",
		Buyer:        testBuyer,
		PaymentAsset: testAsset,
		PaidAmount:   big.NewInt(5_000_000),
		Tokens:       big.NewInt(100),
		PhaseIndex:   0,
		Path:         domain.PathFixedRate,
		CreatedAt:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestSinkPurchasePersistsAndPublishes(t *testing.T) {
	ledger := newStubLedger()
	bus := newStubBus()
	sink := NewLedgerSink(ledger, bus, nil, nil, testLogger())

	sink.PurchaseCompleted(context.Background(), domain.PurchaseEvent{
		Purchase:   testPurchase(),
		TotalSold:  big.NewInt(100),
		PhaseIndex: 0,
	})

	require.Len(t, ledger.purchases, 1)
	assert.Equal(t, "p-1", ledger.purchases[0].ID)

	require.Len(t, bus.published[domain.ChannelPurchases], 1)
	require.Len(t, bus.streamed[domain.ChannelPurchases], 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(bus.published[domain.ChannelPurchases][0], &payload))
	assert.Equal(t, "purchase", payload["event"])
	assert.Equal(t, testBuyer.Hex(), payload["buyer"])
	assert.Equal(t, "100", payload["tokens"])
}

func TestSinkPurchasePersistFailureDoesNotPanic(t *testing.T) {
	ledger := newStubLedger()
	ledger.purchaseErr = errors.New("connection reset")
	bus := newStubBus()
	sink := NewLedgerSink(ledger, bus, nil, nil, testLogger())

	sink.PurchaseCompleted(context.Background(), domain.PurchaseEvent{
		Purchase:  testPurchase(),
		TotalSold: big.NewInt(100),
	})

	// The event is still announced; the engine remains the source of truth.
	assert.Len(t, bus.published[domain.ChannelPurchases], 1)
}

func TestSinkPhaseChangeAuditsAndPublishes(t *testing.T) {
	ledger := newStubLedger()
	bus := newStubBus()
	audit := &stubAudit{}
	sink := NewLedgerSink(ledger, bus, nil, audit, testLogger())

	sink.PhaseChanged(context.Background(), domain.PhaseChangeEvent{
		From: 0,
		To:   1,
		At:   time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	})

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "sale.phase_change", audit.entries[0].Event)
	assert.Len(t, bus.published[domain.ChannelPhases], 1)
}

func TestSinkClaimPersistsAndPublishes(t *testing.T) {
	ledger := newStubLedger()
	bus := newStubBus()
	sink := NewLedgerSink(ledger, bus, nil, nil, testLogger())

	sink.ClaimSettled(context.Background(), domain.ClaimEvent{
		Claim: domain.Claim{
			ID:          "c-1",
			Participant: testBuyer,
			Tokens:      big.NewInt(100),
			ClaimedAt:   time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		},
	})

	require.Len(t, ledger.claims, 1)
	assert.Equal(t, "c-1", ledger.claims[0].ID)
	assert.Len(t, bus.published[domain.ChannelClaims], 1)
}

func TestSinkNilBusIsSkipped(t *testing.T) {
	ledger := newStubLedger()
	sink := NewLedgerSink(ledger, nil, nil, nil, testLogger())

	sink.PurchaseCompleted(context.Background(), domain.PurchaseEvent{
		Purchase:  testPurchase(),
		TotalSold: big.NewInt(100),
	})

	assert.Len(t, ledger.purchases, 1)
}
