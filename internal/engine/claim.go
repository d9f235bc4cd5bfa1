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

// Claim releases a participant's credited balance after the sale window has
// closed. The balance is zeroed before the disbursement is attempted, so a
// retried transfer can never pay the same credit twice; a failed disbursement
// restores the balance while the mutex is still held, leaving no observable
// intermediate state.
//
// Claims are rejected at any timestamp up to and including the close time;
// they remain possible indefinitely afterwards.
func (e *Engine) Claim(ctx context.Context, participant common.Address, now time.Time) (domain.Claim, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !now.After(e.cfg.ClosesAt) {
		return domain.Claim{}, domain.ErrClaimBeforeClose
	}

	bal, ok := e.state.balances[participant]
	if !ok || bal.Sign() == 0 {
		return domain.Claim{}, domain.ErrNothingToClaim
	}

	amount := new(big.Int).Set(bal)
	delete(e.state.balances, participant)

	if err := e.transfer.Disburse(ctx, participant, e.cfg.Token, amount); err != nil {
		e.state.balances[participant] = bal
		return domain.Claim{}, fmt.Errorf("%w: disburse: %v", domain.ErrTransfer, err)
	}

	c := domain.Claim{
		ID:          uuid.New().String(),
		Participant: participant,
		Tokens:      amount,
		ClaimedAt:   now.UTC(),
	}
	e.sink.ClaimSettled(ctx, domain.ClaimEvent{Claim: c})

	e.logger.InfoContext(ctx, "claim settled",
		slog.String("participant", participant.Hex()),
		slog.String("tokens", amount.String()),
	)

	return c, nil
}
