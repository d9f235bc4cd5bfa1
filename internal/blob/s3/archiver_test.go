package s3blob

import (
	"context"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaunch/saled/internal/domain"
)

type memWriter struct {
	objects map[string]string
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = make(map[string]string)
	}
	w.objects[path] = string(b)
	return nil
}

type stubPurchases struct{ purchases []domain.Purchase }

func (s *stubPurchases) ListBefore(context.Context, time.Time) ([]domain.Purchase, error) {
	return s.purchases, nil
}

type stubClaims struct{ claims []domain.Claim }

func (s *stubClaims) ListBefore(context.Context, time.Time) ([]domain.Claim, error) {
	return s.claims, nil
}

type stubAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (s *stubAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.logged = append(s.logged, event)
	return nil
}

func (s *stubAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return s.entries, nil
}

func TestArchivePurchasesWritesJSONL(t *testing.T) {
	writer := &memWriter{}
	audit := &stubAudit{}
	purchases := &stubPurchases{purchases: []domain.Purchase{
		{
			ID:         "a1",
			Buyer:      common.HexToAddress("0x1"),
			PaidAmount: big.NewInt(500),
			Tokens:     big.NewInt(10_000),
			Path:       domain.PathFixedRate,
			CreatedAt:  time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:         "a2",
			Buyer:      common.HexToAddress("0x2"),
			PaidAmount: big.NewInt(900),
			Tokens:     big.NewInt(18_000),
			Path:       domain.PathOracle,
			CreatedAt:  time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC),
		},
	}}

	arch := NewArchiver(writer, purchases, &stubClaims{}, audit)

	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	n, err := arch.ArchivePurchases(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := writer.objects["archive/purchases/2026-04.jsonl"]
	require.True(t, ok, "expected object at month-partitioned path, have %v", writer.objects)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"a1"`)

	assert.Equal(t, []string{"archive.purchases"}, audit.logged)
}

func TestArchivePurchasesEmptyIsNoOp(t *testing.T) {
	writer := &memWriter{}
	arch := NewArchiver(writer, &stubPurchases{}, &stubClaims{}, &stubAudit{})

	n, err := arch.ArchivePurchases(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.objects)
}

func TestArchiveAuditDoesNotRelog(t *testing.T) {
	writer := &memWriter{}
	audit := &stubAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "admin.block", CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
	}}
	arch := NewArchiver(writer, &stubPurchases{}, &stubClaims{}, audit)

	n, err := arch.ArchiveAudit(context.Background(), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, audit.logged)
}
