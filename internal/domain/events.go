package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Pub/sub channels for sale events.
const (
	ChannelPurchases = "sale:purchases"
	ChannelPhases    = "sale:phases"
	ChannelClaims    = "sale:claims"
	ChannelPrices    = "sale:prices"
)

// PurchaseEvent is emitted after a purchase settles. TotalSold and PhaseIndex
// reflect the state after the credit.
type PurchaseEvent struct {
	Purchase   Purchase
	TotalSold  *big.Int
	PhaseIndex int
}

// PhaseChangeEvent is emitted exactly when the active phase index changes; a
// no-op phase check emits nothing.
type PhaseChangeEvent struct {
	From int
	To   int
	At   time.Time
}

// ClaimEvent is emitted after a claim settles.
type ClaimEvent struct {
	Claim Claim
}

// BlockEvent records an administrative block-list change.
type BlockEvent struct {
	Participant common.Address
	Blocked     bool
	At          time.Time
}
