package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PricingPath identifies which conversion path produced a purchase's token
// amount.
type PricingPath string

const (
	// PathFixedRate converts at the active phase's stored price denominator.
	PathFixedRate PricingPath = "fixed_rate"
	// PathOracle converts through the live oracle-reported native price.
	PathOracle PricingPath = "oracle"
)

// Purchase is one settled purchase: the ledger row of record behind a balance
// credit.
type Purchase struct {
	ID           string
	Buyer        common.Address
	PaymentAsset common.Address
	PaidAmount   *big.Int
	Tokens       *big.Int
	PhaseIndex   int
	Path         PricingPath
	CreatedAt    time.Time
}

// Claim is one settled post-close withdrawal of a credited balance.
type Claim struct {
	ID          string
	Participant common.Address
	Tokens      *big.Int
	ClaimedAt   time.Time
}
