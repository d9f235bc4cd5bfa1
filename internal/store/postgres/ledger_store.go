package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlaunch/saled/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Each Record*
// method runs its writes in a single transaction so the ledger row, the
// balance delta, and the sale_state row always move together.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// Load returns the latest persisted snapshot. When the sale_state singleton
// row does not exist yet the sale has no history and domain.ErrNotFound is
// returned.
func (s *LedgerStore) Load(ctx context.Context) (domain.SaleSnapshot, error) {
	var snap domain.SaleSnapshot

	var totalSold string
	err := s.pool.QueryRow(ctx,
		`SELECT phase_index, total_sold::text, updated_at FROM sale_state WHERE id = 1`,
	).Scan(&snap.PhaseIndex, &totalSold, &snap.TakenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SaleSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SaleSnapshot{}, fmt.Errorf("postgres: load sale state: %w", err)
	}
	if snap.TotalSold, err = parseBig(totalSold); err != nil {
		return domain.SaleSnapshot{}, fmt.Errorf("postgres: load sale state: %w", err)
	}

	snap.Balances = make(map[common.Address]*big.Int)
	rows, err := s.pool.Query(ctx, `SELECT participant, tokens::text FROM sale_balances`)
	if err != nil {
		return domain.SaleSnapshot{}, fmt.Errorf("postgres: load balances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var addr, tokens string
		if err := rows.Scan(&addr, &tokens); err != nil {
			return domain.SaleSnapshot{}, fmt.Errorf("postgres: scan balance: %w", err)
		}
		bal, err := parseBig(tokens)
		if err != nil {
			return domain.SaleSnapshot{}, fmt.Errorf("postgres: scan balance: %w", err)
		}
		snap.Balances[common.HexToAddress(addr)] = bal
	}
	if err := rows.Err(); err != nil {
		return domain.SaleSnapshot{}, fmt.Errorf("postgres: load balances rows: %w", err)
	}

	blockedRows, err := s.pool.Query(ctx, `SELECT participant FROM sale_blocked`)
	if err != nil {
		return domain.SaleSnapshot{}, fmt.Errorf("postgres: load block list: %w", err)
	}
	defer blockedRows.Close()
	for blockedRows.Next() {
		var addr string
		if err := blockedRows.Scan(&addr); err != nil {
			return domain.SaleSnapshot{}, fmt.Errorf("postgres: scan blocked participant: %w", err)
		}
		snap.Blocked = append(snap.Blocked, common.HexToAddress(addr))
	}
	if err := blockedRows.Err(); err != nil {
		return domain.SaleSnapshot{}, fmt.Errorf("postgres: load block list rows: %w", err)
	}

	return snap, nil
}

// RecordPurchase persists a settled purchase together with the post-purchase
// phase index and running total.
func (s *LedgerStore) RecordPurchase(ctx context.Context, p domain.Purchase, phaseIndex int, totalSold *big.Int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin record purchase: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO purchases (id, buyer, payment_asset, paid_amount, tokens, phase_index, pricing_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Buyer.Hex(), p.PaymentAsset.Hex(),
		p.PaidAmount.String(), p.Tokens.String(),
		p.PhaseIndex, string(p.Path), p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert purchase %s: %w", p.ID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sale_balances (participant, tokens, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (participant) DO UPDATE
		SET tokens = sale_balances.tokens + EXCLUDED.tokens, updated_at = NOW()`,
		p.Buyer.Hex(), p.Tokens.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: credit balance for %s: %w", p.Buyer.Hex(), err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sale_state (id, phase_index, total_sold, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET phase_index = EXCLUDED.phase_index, total_sold = EXCLUDED.total_sold, updated_at = NOW()`,
		phaseIndex, totalSold.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: update sale state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit record purchase: %w", err)
	}
	return nil
}

// RecordClaim persists a settled claim and zeroes the participant's stored
// balance.
func (s *LedgerStore) RecordClaim(ctx context.Context, c domain.Claim) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin record claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO claims (id, participant, tokens, claimed_at)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.Participant.Hex(), c.Tokens.String(), c.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert claim %s: %w", c.ID, err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM sale_balances WHERE participant = $1`,
		c.Participant.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: clear balance for %s: %w", c.Participant.Hex(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit record claim: %w", err)
	}
	return nil
}

// SetBlocked persists a block-list change. Both directions are idempotent.
func (s *LedgerStore) SetBlocked(ctx context.Context, participant common.Address, blocked bool) error {
	var err error
	if blocked {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO sale_blocked (participant) VALUES ($1)
			ON CONFLICT (participant) DO NOTHING`,
			participant.Hex(),
		)
	} else {
		_, err = s.pool.Exec(ctx,
			`DELETE FROM sale_blocked WHERE participant = $1`,
			participant.Hex(),
		)
	}
	if err != nil {
		return fmt.Errorf("postgres: set blocked %s=%t: %w", participant.Hex(), blocked, err)
	}
	return nil
}

// parseBig converts a NUMERIC column rendered as text into a big.Int.
func parseBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed numeric %q", s)
	}
	return n, nil
}
