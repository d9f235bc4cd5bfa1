package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openlaunch/saled/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly through their ListBefore methods.
// ---------------------------------------------------------------------------

// PurchaseArchiveStore provides read access to purchases for archival.
type PurchaseArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Purchase, error)
}

// ClaimArchiveStore provides read access to claims for archival.
type ClaimArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Claim, error)
}

// ArchiveImpl implements domain.Archiver by querying the ledger stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Purging archived records from the primary store is intentionally NOT done
// here. The ledger is the sale's state of record; pruning is a separate,
// explicit operator step after the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	purchases PurchaseArchiveStore
	claims    ClaimArchiveStore
	audit     domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	purchases PurchaseArchiveStore,
	claims ClaimArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		purchases: purchases,
		claims:    claims,
		audit:     audit,
	}
}

// ArchivePurchases uploads all purchases recorded before the cutoff to
// archive/purchases/YYYY-MM.jsonl and records the export in the audit log.
// It returns the number of records archived.
func (a *ArchiveImpl) ArchivePurchases(ctx context.Context, before time.Time) (int64, error) {
	purchases, err := a.purchases.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive purchases query: %w", err)
	}
	if len(purchases) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(purchases)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive purchases marshal: %w", err)
	}

	path := archivePath("purchases", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive purchases upload: %w", err)
	}

	count := int64(len(purchases))

	if err := a.audit.Log(ctx, "archive.purchases", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive purchases audit log: %w", err)
	}

	return count, nil
}

// ArchiveClaims uploads all claims settled before the cutoff to
// archive/claims/YYYY-MM.jsonl and records the export in the audit log. It
// returns the number of records archived.
func (a *ArchiveImpl) ArchiveClaims(ctx context.Context, before time.Time) (int64, error) {
	claims, err := a.claims.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive claims query: %w", err)
	}
	if len(claims) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(claims)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive claims marshal: %w", err)
	}

	path := archivePath("claims", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive claims upload: %w", err)
	}

	count := int64(len(claims))

	if err := a.audit.Log(ctx, "archive.claims", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive claims audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit uploads all audit entries recorded before the cutoff to
// archive/audit/YYYY-MM.jsonl. The export itself is not re-logged to the
// audit log, so repeated runs stay idempotent with respect to content. It
// returns the number of records archived.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return int64(len(entries)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/purchases/2026-04.jsonl
//	archive/claims/2026-04.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element becomes one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
