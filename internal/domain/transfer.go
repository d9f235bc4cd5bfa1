package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetTransfer moves value-bearing assets on behalf of the engine. The
// engine invokes it only after its own bookkeeping is finalized; any error is
// fatal to the whole operation and rolls the bookkeeping back.
type AssetTransfer interface {
	// Collect pulls amount of asset from payer to destination. For the
	// native asset the deposit is made out-of-band by the payer and Collect
	// only acknowledges it.
	Collect(ctx context.Context, payer, asset common.Address, amount *big.Int, destination common.Address) error

	// Disburse sends amount of asset from the treasury to recipient.
	Disburse(ctx context.Context, recipient, asset common.Address, amount *big.Int) error

	// DisburseNative sends amount of the native currency from the treasury
	// to recipient.
	DisburseNative(ctx context.Context, recipient common.Address, amount *big.Int) error
}
