package domain

import (
	"context"
	"math/big"
	"time"
)

// PriceRound is one oracle observation. Answer is the native-currency USD
// price normalized to 18 decimals. The engine treats Answer <= 0 as a
// reportable PricingError; it never clamps or substitutes a cached value.
type PriceRound struct {
	Answer    *big.Int
	UpdatedAt time.Time
	RoundID   *big.Int
}

// PriceOracle supplies the live native-currency price for the oracle pricing
// path. Implementations must return an error rather than a stale or
// non-positive answer they cannot vouch for.
type PriceOracle interface {
	LatestPrice(ctx context.Context) (PriceRound, error)
}
