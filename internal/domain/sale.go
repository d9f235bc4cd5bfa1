// Package domain defines the core types, interfaces, and sentinel errors for
// the staged token-sale accounting service.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NumPhases is the fixed number of pricing phases in every sale. The phase
// table is an arena-style fixed array; the sale never has more or fewer tiers.
const NumPhases = 3

// NativeAsset is the sentinel payment-asset address for the chain's native
// currency (priced through the oracle rather than at a fixed rate).
var NativeAsset = common.Address{}

// Phase is one pricing/capacity tier of the sale.
//
// TokenLimit is a cumulative ceiling on the running total sold, not a
// per-phase delta. PriceDenominator is the USD price of one whole token in
// 6-decimal fixed point (e.g. 35_000 = $0.035). EndTime is the wall-clock
// deadline after which the phase is over regardless of volume.
type Phase struct {
	TokenLimit       *big.Int
	PriceDenominator *big.Int
	EndTime          time.Time
}

// StableAsset describes one of the fixed-rate payment instruments accepted by
// the sale.
type StableAsset struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// SaleConfig holds every sale parameter fixed at construction time. It is
// immutable for the lifetime of the sale.
type SaleConfig struct {
	// Token is the sold asset (18 decimals).
	Token common.Address

	// StableAssets are the two fixed-rate payment instruments. The native
	// currency is always accepted in addition, priced via the oracle.
	StableAssets [2]StableAsset

	// Treasury receives collected payments and is the source of sweeps.
	Treasury common.Address

	// Cap is the hard ceiling on cumulative tokens allocated across all
	// phases combined.
	Cap *big.Int

	// Phases is the ordered phase table, indexed 0..NumPhases-1. Limits and
	// end times are expected to be non-decreasing; the engine does not
	// enforce this (see engine.New).
	Phases [NumPhases]Phase

	OpensAt  time.Time
	ClosesAt time.Time
}

// StableAsset returns the stable-asset descriptor for addr, or false when
// addr is not one of the accepted fixed-rate instruments.
func (c SaleConfig) StableAsset(addr common.Address) (StableAsset, bool) {
	for _, a := range c.StableAssets {
		if a.Address == addr {
			return a, true
		}
	}
	return StableAsset{}, false
}

// Accepts reports whether addr is a valid payment asset for this sale.
func (c SaleConfig) Accepts(addr common.Address) bool {
	if addr == NativeAsset {
		return true
	}
	_, ok := c.StableAsset(addr)
	return ok
}

// SaleSnapshot is a point-in-time copy of the mutable sale state, used for
// persistence and recovery. Balances maps participants to tokens credited but
// not yet claimed.
type SaleSnapshot struct {
	PhaseIndex int
	TotalSold  *big.Int
	Balances   map[common.Address]*big.Int
	Blocked    []common.Address
	TakenAt    time.Time
}

// SaleStatus is the read-only view served to API clients. NativePriceUSD and
// NativePriceAt carry the latest cached oracle observation for display only;
// the purchase path never prices from them.
type SaleStatus struct {
	PhaseIndex    int       `json:"phase_index"`
	TotalSold     string    `json:"total_sold"`
	Cap           string    `json:"cap"`
	OpensAt       time.Time `json:"opens_at"`
	ClosesAt      time.Time `json:"closes_at"`
	PhaseEnds     time.Time `json:"phase_ends"`
	PriceUSD      string    `json:"price_usd"`
	PurchaseCount int64     `json:"purchase_count"`

	NativePriceUSD float64   `json:"native_price_usd,omitzero"`
	NativePriceAt  time.Time `json:"native_price_at,omitzero"`
}
