package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerStore persists the sale's state of record. Each Record* call must be
// atomic: the ledger row, the balance delta, and the state-row update land in
// one transaction or not at all.
type LedgerStore interface {
	// Load returns the latest persisted snapshot, or ErrNotFound when the
	// sale has no history yet.
	Load(ctx context.Context) (SaleSnapshot, error)

	// RecordPurchase persists a settled purchase together with the
	// post-purchase phase index and running total.
	RecordPurchase(ctx context.Context, p Purchase, phaseIndex int, totalSold *big.Int) error

	// RecordClaim persists a settled claim and zeroes the participant's
	// stored balance.
	RecordClaim(ctx context.Context, c Claim) error

	// SetBlocked persists a block-list change.
	SetBlocked(ctx context.Context, participant common.Address, blocked bool) error
}

// PurchaseStore provides read access to the purchase ledger.
type PurchaseStore interface {
	GetByID(ctx context.Context, id string) (Purchase, error)
	ListByBuyer(ctx context.Context, buyer common.Address, opts ListOpts) ([]Purchase, error)
	ListRecent(ctx context.Context, limit int) ([]Purchase, error)
	ListBefore(ctx context.Context, before time.Time) ([]Purchase, error)
	Count(ctx context.Context) (int64, error)
}

// ClaimStore provides read access to the claim ledger.
type ClaimStore interface {
	ListByParticipant(ctx context.Context, participant common.Address, opts ListOpts) ([]Claim, error)
	ListBefore(ctx context.Context, before time.Time) ([]Claim, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
