package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlaunch/saled/internal/domain"
)

// ClaimStore implements domain.ClaimStore using PostgreSQL.
type ClaimStore struct {
	pool *pgxpool.Pool
}

// NewClaimStore creates a ClaimStore backed by the given connection pool.
func NewClaimStore(pool *pgxpool.Pool) *ClaimStore {
	return &ClaimStore{pool: pool}
}

var _ domain.ClaimStore = (*ClaimStore)(nil)

const claimSelectCols = `id, participant, tokens::text, claimed_at`

func scanClaimRows(rows pgx.Rows) ([]domain.Claim, error) {
	var claims []domain.Claim
	for rows.Next() {
		var (
			c                 domain.Claim
			participant, toks string
		)
		if err := rows.Scan(&c.ID, &participant, &toks, &c.ClaimedAt); err != nil {
			return nil, err
		}
		c.Participant = common.HexToAddress(participant)

		var err error
		if c.Tokens, err = parseBig(toks); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// ListByParticipant returns claims settled by a participant with pagination
// and optional time filtering.
func (s *ClaimStore) ListByParticipant(ctx context.Context, participant common.Address, opts domain.ListOpts) ([]domain.Claim, error) {
	query := `SELECT ` + claimSelectCols + ` FROM claims WHERE participant = $1`
	args := []any{participant.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND claimed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND claimed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY claimed_at DESC"

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
		return nil, fmt.Errorf("postgres: list claims by participant: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaimRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan claims by participant: %w", err)
	}
	return claims, nil
}

// ListBefore returns all claims settled strictly before the given time, in
// chronological order. Used by the archiver.
func (s *ClaimStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+claimSelectCols+` FROM claims WHERE claimed_at < $1 ORDER BY claimed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims before: %w", err)
	}
	defer rows.Close()

	claims, err := scanClaimRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan claims before: %w", err)
	}
	return claims, nil
}
