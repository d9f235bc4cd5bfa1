package domain

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by the engine wraps exactly one of
// these, so callers can classify failures with errors.Is without parsing
// messages.
var (
	ErrConfiguration = errors.New("invalid sale configuration")
	ErrAccess        = errors.New("access denied")
	ErrPricing       = errors.New("pricing rejected")
	ErrCapacity      = errors.New("supply cap exceeded")
	ErrTransfer      = errors.New("asset transfer failed")

	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
	ErrLockLost = errors.New("lock no longer held")
)

// Specific causes, each wrapping its kind.
var (
	ErrBuyerBlocked     = fmt.Errorf("%w: buyer is blocked", ErrAccess)
	ErrSaleNotOpen      = fmt.Errorf("%w: sale has not opened", ErrAccess)
	ErrSaleClosed       = fmt.Errorf("%w: sale has closed", ErrAccess)
	ErrClaimBeforeClose = fmt.Errorf("%w: claims open after the sale closes", ErrAccess)
	ErrNothingToClaim   = fmt.Errorf("%w: no claimable balance", ErrAccess)

	ErrUnknownAsset   = fmt.Errorf("%w: payment asset not accepted", ErrPricing)
	ErrAssetDecimals  = fmt.Errorf("%w: payment asset precision exceeds 18 decimals", ErrPricing)
	ErrZeroTokens     = fmt.Errorf("%w: amount converts to zero tokens", ErrPricing)
	ErrBadOraclePrice = fmt.Errorf("%w: oracle price is not positive", ErrPricing)
)
