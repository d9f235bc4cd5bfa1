package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/openlaunch/saled/internal/domain"
)

// Purchase validates, prices, and credits a single purchase, advancing the
// phase as a side effect. It returns the tokens credited.
//
// Step order is load-bearing:
//
//  1. block-list check
//  2. sale-window check
//  3. provisional pricing at the phase active on entry, yielding the
//     prospective amount
//  4. phase advancement driven by the prospective amount and the clock
//  5. re-pricing at the post-advancement phase when the index moved, so the
//     credited amount always reflects the phase this purchase lands in
//  6. cap check against the final amount
//  7. commit (phase, running total, balance), then payment collection
//
// Any failure, including a failed collection, leaves no observable state
// change: steps 1-6 stage everything before the commit, and a collection
// error rolls the commit back while the mutex is still held. Events are
// emitted only after the whole operation has succeeded.
func (e *Engine) Purchase(ctx context.Context, buyer, asset common.Address, paid *big.Int, now time.Time) (domain.Purchase, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, blocked := e.state.blocked[buyer]; blocked {
		return domain.Purchase{}, domain.ErrBuyerBlocked
	}
	if now.Before(e.cfg.OpensAt) {
		return domain.Purchase{}, domain.ErrSaleNotOpen
	}
	if now.After(e.cfg.ClosesAt) {
		return domain.Purchase{}, domain.ErrSaleClosed
	}
	if paid == nil || paid.Sign() <= 0 {
		return domain.Purchase{}, domain.ErrZeroTokens
	}

	q, err := e.newQuote(ctx, asset)
	if err != nil {
		return domain.Purchase{}, err
	}

	entryPhase := e.state.phaseIndex
	tokens, err := q.tokens(paid, e.cfg.Phases[entryPhase])
	if err != nil {
		return domain.Purchase{}, err
	}

	newPhase := nextPhase(e.cfg.Phases, entryPhase, e.state.totalSold, tokens, now)
	if newPhase != entryPhase {
		// The prospective amount crossed a boundary (or a deadline passed);
		// the purchase is accounted at the phase it lands in.
		tokens, err = q.tokens(paid, e.cfg.Phases[newPhase])
		if err != nil {
			return domain.Purchase{}, err
		}
	}

	newTotal := new(big.Int).Add(e.state.totalSold, tokens)
	if newTotal.Cmp(e.cfg.Cap) > 0 {
		return domain.Purchase{}, fmt.Errorf("%w: %s + %s exceeds cap %s",
			domain.ErrCapacity, e.state.totalSold, tokens, e.cfg.Cap)
	}

	// Commit. All ledger mutations land before the external collection so a
	// collection failure can be undone in one place.
	memo := e.state.memo(buyer)
	e.state.phaseIndex = newPhase
	e.state.totalSold = newTotal
	e.state.credit(buyer, tokens)

	if err := e.transfer.Collect(ctx, buyer, asset, paid, e.cfg.Treasury); err != nil {
		e.state.restore(memo)
		return domain.Purchase{}, fmt.Errorf("%w: collect: %v", domain.ErrTransfer, err)
	}

	p := domain.Purchase{
		ID:           uuid.New().String(),
		Buyer:        buyer,
		PaymentAsset: asset,
		PaidAmount:   new(big.Int).Set(paid),
		Tokens:       new(big.Int).Set(tokens),
		PhaseIndex:   newPhase,
		Path:         q.path,
		CreatedAt:    now.UTC(),
	}

	if newPhase != entryPhase {
		e.sink.PhaseChanged(ctx, domain.PhaseChangeEvent{From: entryPhase, To: newPhase, At: now.UTC()})
	}
	e.sink.PurchaseCompleted(ctx, domain.PurchaseEvent{
		Purchase:   p,
		TotalSold:  new(big.Int).Set(newTotal),
		PhaseIndex: newPhase,
	})

	e.logger.InfoContext(ctx, "purchase settled",
		slog.String("buyer", buyer.Hex()),
		slog.String("tokens", tokens.String()),
		slog.String("total_sold", newTotal.String()),
		slog.Int("phase", newPhase),
		slog.String("path", string(p.Path)),
	)

	return p, nil
}
