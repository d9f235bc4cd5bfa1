package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlaunch/saled/internal/domain"
)

// PurchaseStore implements domain.PurchaseStore using PostgreSQL.
type PurchaseStore struct {
	pool *pgxpool.Pool
}

// NewPurchaseStore creates a PurchaseStore backed by the given connection pool.
func NewPurchaseStore(pool *pgxpool.Pool) *PurchaseStore {
	return &PurchaseStore{pool: pool}
}

var _ domain.PurchaseStore = (*PurchaseStore)(nil)

const purchaseSelectCols = `id, buyer, payment_asset, paid_amount::text, tokens::text,
	phase_index, pricing_path, created_at`

func scanPurchase(row pgx.Row) (domain.Purchase, error) {
	var (
		p                        domain.Purchase
		buyer, asset, paid, toks string
		path                     string
	)
	if err := row.Scan(&p.ID, &buyer, &asset, &paid, &toks, &p.PhaseIndex, &path, &p.CreatedAt); err != nil {
		return domain.Purchase{}, err
	}
	p.Buyer = common.HexToAddress(buyer)
	p.PaymentAsset = common.HexToAddress(asset)
	p.Path = domain.PricingPath(path)

	var err error
	if p.PaidAmount, err = parseBig(paid); err != nil {
		return domain.Purchase{}, err
	}
	if p.Tokens, err = parseBig(toks); err != nil {
		return domain.Purchase{}, err
	}
	return p, nil
}

func scanPurchaseRows(rows pgx.Rows) ([]domain.Purchase, error) {
	var purchases []domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// GetByID returns one purchase by its ledger ID, or domain.ErrNotFound.
func (s *PurchaseStore) GetByID(ctx context.Context, id string) (domain.Purchase, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+purchaseSelectCols+` FROM purchases WHERE id = $1`, id)

	p, err := scanPurchase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Purchase{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("postgres: get purchase %s: %w", id, err)
	}
	return p, nil
}

// ListByBuyer returns purchases made by a buyer with pagination and optional
// time filtering.
func (s *PurchaseStore) ListByBuyer(ctx context.Context, buyer common.Address, opts domain.ListOpts) ([]domain.Purchase, error) {
	query := `SELECT ` + purchaseSelectCols + ` FROM purchases WHERE buyer = $1`
	args := []any{buyer.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list purchases by buyer: %w", err)
	}
	defer rows.Close()

	purchases, err := scanPurchaseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan purchases by buyer: %w", err)
	}
	return purchases, nil
}

// ListRecent returns the most recent purchases, newest first.
func (s *PurchaseStore) ListRecent(ctx context.Context, limit int) ([]domain.Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+purchaseSelectCols+` FROM purchases ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent purchases: %w", err)
	}
	defer rows.Close()

	purchases, err := scanPurchaseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent purchases: %w", err)
	}
	return purchases, nil
}

// ListBefore returns all purchases created strictly before the given time, in
// chronological order. Used by the archiver.
func (s *PurchaseStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Purchase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+purchaseSelectCols+` FROM purchases WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list purchases before: %w", err)
	}
	defer rows.Close()

	purchases, err := scanPurchaseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan purchases before: %w", err)
	}
	return purchases, nil
}

// Count returns the total number of recorded purchases.
func (s *PurchaseStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count purchases: %w", err)
	}
	return n, nil
}
