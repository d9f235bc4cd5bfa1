// Package service orchestrates the sale engine against its persistence,
// messaging, and notification collaborators.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/engine"
)

// leaderLockKey is the distributed lock guarding ledger mutation. Exactly one
// service replica may hold it.
const leaderLockKey = "sale:leader"

// leaderLockTTL bounds how long a crashed replica can wedge the sale before
// the lock expires on its own.
const leaderLockTTL = 15 * time.Minute

// SaleService is the application-facing facade over the sale engine. It owns
// boot-time recovery, leader locking, and the read paths backed by the
// Postgres ledger.
type SaleService struct {
	engine    *engine.Engine
	ledger    domain.LedgerStore
	purchases domain.PurchaseStore
	claims    domain.ClaimStore
	prices    domain.PriceCache
	locks     domain.LockManager
	logger    *slog.Logger

	mu     sync.Mutex // guards unlock against the renewal goroutine
	unlock func()
}

// NewSaleService creates a SaleService. prices and locks may be nil for
// single-process deployments and tests.
func NewSaleService(
	eng *engine.Engine,
	ledger domain.LedgerStore,
	purchases domain.PurchaseStore,
	claims domain.ClaimStore,
	prices domain.PriceCache,
	locks domain.LockManager,
	logger *slog.Logger,
) *SaleService {
	return &SaleService{
		engine:    eng,
		ledger:    ledger,
		purchases: purchases,
		claims:    claims,
		prices:    prices,
		locks:     locks,
		logger:    logger.With(slog.String("component", "sale_service")),
	}
}

// Start acquires the leader lock and restores the engine from the last
// persisted snapshot. It must complete before any mutating request is served.
func (s *SaleService) Start(ctx context.Context) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, leaderLockKey, leaderLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return fmt.Errorf("sale_service: another replica holds the sale lock: %w", err)
			}
			return fmt.Errorf("sale_service: acquire leader lock: %w", err)
		}
		s.mu.Lock()
		s.unlock = unlock
		s.mu.Unlock()
		go s.renewLock(ctx)
	}

	snap, err := s.ledger.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.InfoContext(ctx, "no persisted sale state, starting fresh")
		return nil
	}
	if err != nil {
		return fmt.Errorf("sale_service: load snapshot: %w", err)
	}

	s.engine.Restore(snap)
	s.logger.InfoContext(ctx, "sale state restored",
		slog.Int("phase", snap.PhaseIndex),
		slog.String("total_sold", snap.TotalSold.String()),
		slog.Int("participants", len(snap.Balances)),
	)
	return nil
}

// Stop releases the leader lock.
func (s *SaleService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlock != nil {
		s.unlock()
	}
}

// renewLock refreshes the leader lock before its TTL lapses. The refresh is
// an in-place TTL extension: the key is never released during a renewal, so
// no competing replica can acquire it between renewals.
func (s *SaleService) renewLock(ctx context.Context) {
	ticker := time.NewTicker(leaderLockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.renew(ctx)
		}
	}
}

// renew performs one renewal step. When the lock has already lapsed (the
// process stalled past the TTL) it falls back to a fresh Acquire; if another
// replica grabbed the lock in the meantime that fails with ErrLockHeld and is
// retried on the next tick.
func (s *SaleService) renew(ctx context.Context) {
	err := s.locks.Extend(ctx, leaderLockKey, leaderLockTTL)
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrLockLost) {
		s.logger.Error("leader lock renewal failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Error("leader lock lost, re-acquiring", slog.String("error", err.Error()))
	unlock, err := s.locks.Acquire(ctx, leaderLockKey, leaderLockTTL)
	if err != nil {
		s.logger.Error("leader lock re-acquire failed", slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	s.unlock = unlock
	s.mu.Unlock()
}

// Purchase settles a purchase at the current wall clock.
func (s *SaleService) Purchase(ctx context.Context, buyer, asset common.Address, paid *big.Int) (domain.Purchase, error) {
	return s.engine.Purchase(ctx, buyer, asset, paid, time.Now().UTC())
}

// Claim settles a post-close claim at the current wall clock.
func (s *SaleService) Claim(ctx context.Context, participant common.Address) (domain.Claim, error) {
	return s.engine.Claim(ctx, participant, time.Now().UTC())
}

// Status returns the read-only sale view, enriched with the latest cached
// oracle observation and the ledger's purchase count. Both enrichments are
// best-effort: a cache miss or ledger error leaves the field zero, never
// fails the request.
func (s *SaleService) Status(ctx context.Context) domain.SaleStatus {
	status := s.engine.Status()

	if s.prices != nil {
		price, observedAt, err := s.prices.GetPrice(ctx, nativeAssetID)
		switch {
		case err == nil:
			status.NativePriceUSD = price
			status.NativePriceAt = observedAt
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "price cache read failed", slog.String("error", err.Error()))
		}
	}

	count, err := s.purchases.Count(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "purchase count failed", slog.String("error", err.Error()))
	} else {
		status.PurchaseCount = count
	}

	return status
}

// Balance returns a participant's credited, unclaimed balance.
func (s *SaleService) Balance(participant common.Address) *big.Int {
	return s.engine.BalanceOf(participant)
}

// GetPurchase returns one purchase from the ledger.
func (s *SaleService) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	p, err := s.purchases.GetByID(ctx, id)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("sale_service: get purchase %s: %w", id, err)
	}
	return p, nil
}

// ListPurchases returns a buyer's purchase history from the ledger.
func (s *SaleService) ListPurchases(ctx context.Context, buyer common.Address, opts domain.ListOpts) ([]domain.Purchase, error) {
	out, err := s.purchases.ListByBuyer(ctx, buyer, opts)
	if err != nil {
		return nil, fmt.Errorf("sale_service: list purchases for %s: %w", buyer.Hex(), err)
	}
	return out, nil
}

// RecentPurchases returns the most recent purchases across all buyers.
func (s *SaleService) RecentPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	out, err := s.purchases.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("sale_service: list recent purchases: %w", err)
	}
	return out, nil
}

// ListClaims returns a participant's claim history from the ledger.
func (s *SaleService) ListClaims(ctx context.Context, participant common.Address, opts domain.ListOpts) ([]domain.Claim, error) {
	out, err := s.claims.ListByParticipant(ctx, participant, opts)
	if err != nil {
		return nil, fmt.Errorf("sale_service: list claims for %s: %w", participant.Hex(), err)
	}
	return out, nil
}
