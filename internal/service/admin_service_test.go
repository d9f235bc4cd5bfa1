package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/engine"
)

type stubTransfer struct {
	mu          sync.Mutex
	disburses   int
	nativeSends int
	disburseErr error
}

func (t *stubTransfer) Collect(context.Context, common.Address, common.Address, *big.Int, common.Address) error {
	return nil
}

func (t *stubTransfer) Disburse(context.Context, common.Address, common.Address, *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disburseErr != nil {
		return t.disburseErr
	}
	t.disburses++
	return nil
}

func (t *stubTransfer) DisburseNative(context.Context, common.Address, *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disburseErr != nil {
		return t.disburseErr
	}
	t.nativeSends++
	return nil
}

// testSaleConfig is a minimal three-phase sale used only to construct an
// engine for admin-path tests.
func testSaleConfig() domain.SaleConfig {
	open := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tok := func(n int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
	}
	return domain.SaleConfig{
		Token: common.HexToAddress("0x0000000000000000000000000000000000000b01"),
		StableAssets: [2]domain.StableAsset{
			{Address: testAsset, Symbol: "USDT", Decimals: 6},
			{Address: common.HexToAddress("0x0000000000000000000000000000000000000a02"), Symbol: "DAI", Decimals: 18},
		},
		Treasury: common.HexToAddress("0x0000000000000000000000000000000000000c01"),
		Cap:      tok(1_000_000),
		Phases: [domain.NumPhases]domain.Phase{
			{TokenLimit: tok(100_000), PriceDenominator: big.NewInt(50_000), EndTime: open.Add(10 * 24 * time.Hour)},
			{TokenLimit: tok(500_000), PriceDenominator: big.NewInt(100_000), EndTime: open.Add(20 * 24 * time.Hour)},
			{TokenLimit: tok(1_000_000), PriceDenominator: big.NewInt(200_000), EndTime: open.Add(30 * 24 * time.Hour)},
		},
		OpensAt:  open,
		ClosesAt: open.Add(30 * 24 * time.Hour),
	}
}

func newAdminRig(t *testing.T, ledger *stubLedger, transfer *stubTransfer) (*AdminService, *engine.Engine, *stubAudit) {
	t.Helper()
	eng, err := engine.New(testSaleConfig(), nil, transfer, nil, testLogger())
	require.NoError(t, err)
	audit := &stubAudit{}
	svc := NewAdminService(eng, ledger, transfer, audit, nil, nil, nil, nil, testLogger())
	return svc, eng, audit
}

type stubBlobs struct {
	objects map[string][]byte
	deleted []string
	listErr error
}

func newStubBlobs(paths ...string) *stubBlobs {
	b := &stubBlobs{objects: make(map[string][]byte)}
	for _, p := range paths {
		b.objects[p] = []byte("{}\n")
	}
	return b
}

func (b *stubBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *stubBlobs) List(context.Context, string) ([]domain.BlobInfo, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	infos := make([]domain.BlobInfo, 0, len(b.objects))
	for path, data := range b.objects {
		infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(data))})
	}
	return infos, nil
}

func (b *stubBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func (b *stubBlobs) Delete(_ context.Context, path string) error {
	delete(b.objects, path)
	b.deleted = append(b.deleted, path)
	return nil
}

func newExportRig(t *testing.T, blobs *stubBlobs) (*AdminService, *stubAudit) {
	t.Helper()
	eng, err := engine.New(testSaleConfig(), nil, nil, nil, testLogger())
	require.NoError(t, err)
	audit := &stubAudit{}
	svc := NewAdminService(eng, newStubLedger(), nil, audit, nil, nil, blobs, blobs, testLogger())
	return svc, audit
}

func TestAdminBlockPersistsAndAudits(t *testing.T) {
	ledger := newStubLedger()
	svc, eng, audit := newAdminRig(t, ledger, &stubTransfer{})

	changed, err := svc.Block(context.Background(), testBuyer)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, eng.IsBlocked(testBuyer))
	assert.True(t, ledger.blocked[testBuyer])

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "admin.block", audit.entries[0].Event)
}

func TestAdminBlockTwiceIsNoOp(t *testing.T) {
	ledger := newStubLedger()
	svc, _, audit := newAdminRig(t, ledger, &stubTransfer{})

	_, err := svc.Block(context.Background(), testBuyer)
	require.NoError(t, err)

	changed, err := svc.Block(context.Background(), testBuyer)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, audit.entries, 1)
}

func TestAdminBlockPersistFailureUndoesEngine(t *testing.T) {
	ledger := newStubLedger()
	ledger.blockErr = errors.New("connection reset")
	svc, eng, _ := newAdminRig(t, ledger, &stubTransfer{})

	_, err := svc.Block(context.Background(), testBuyer)
	require.Error(t, err)
	assert.False(t, eng.IsBlocked(testBuyer))
}

func TestAdminUnblock(t *testing.T) {
	ledger := newStubLedger()
	svc, eng, audit := newAdminRig(t, ledger, &stubTransfer{})

	_, err := svc.Block(context.Background(), testBuyer)
	require.NoError(t, err)

	changed, err := svc.Unblock(context.Background(), testBuyer)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, eng.IsBlocked(testBuyer))
	assert.False(t, ledger.blocked[testBuyer])
	assert.Equal(t, "admin.unblock", audit.entries[1].Event)
}

func TestAdminSweepRejectsNonPositiveAmount(t *testing.T) {
	transfer := &stubTransfer{}
	svc, _, _ := newAdminRig(t, newStubLedger(), transfer)

	err := svc.Sweep(context.Background(), testBuyer, testAsset, big.NewInt(0))
	require.Error(t, err)
	assert.Zero(t, transfer.disburses)

	err = svc.SweepNative(context.Background(), testBuyer, nil)
	require.Error(t, err)
	assert.Zero(t, transfer.nativeSends)
}

func TestAdminSweepDisbursesAndAudits(t *testing.T) {
	transfer := &stubTransfer{}
	svc, _, audit := newAdminRig(t, newStubLedger(), transfer)

	require.NoError(t, svc.Sweep(context.Background(), testBuyer, testAsset, big.NewInt(500)))
	assert.Equal(t, 1, transfer.disburses)

	require.NoError(t, svc.SweepNative(context.Background(), testBuyer, big.NewInt(500)))
	assert.Equal(t, 1, transfer.nativeSends)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, "admin.sweep", audit.entries[0].Event)
	assert.Equal(t, "admin.sweep_native", audit.entries[1].Event)
}

func TestAdminListExportsRequiresBlobStorage(t *testing.T) {
	svc, _, _ := newAdminRig(t, newStubLedger(), &stubTransfer{})

	_, err := svc.ListExports(context.Background())
	require.Error(t, err)
}

func TestAdminListExports(t *testing.T) {
	blobs := newStubBlobs("archive/purchases/2026-04.jsonl")
	svc, _ := newExportRig(t, blobs)

	infos, err := svc.ListExports(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "archive/purchases/2026-04.jsonl", infos[0].Path)
}

func TestAdminOpenExportRejectsForeignPath(t *testing.T) {
	svc, _ := newExportRig(t, newStubBlobs())

	_, err := svc.OpenExport(context.Background(), "secrets/treasury.key")
	require.Error(t, err)

	_, err = svc.OpenExport(context.Background(), "archive/../secrets/treasury.key")
	require.Error(t, err)
}

func TestAdminOpenExportStreamsObject(t *testing.T) {
	blobs := newStubBlobs("archive/claims/2026-04.jsonl")
	svc, _ := newExportRig(t, blobs)

	body, err := svc.OpenExport(context.Background(), "archive/claims/2026-04.jsonl")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func TestAdminDeleteExportRemovesAndAudits(t *testing.T) {
	blobs := newStubBlobs("archive/audit/2026-04.jsonl")
	svc, audit := newExportRig(t, blobs)

	require.NoError(t, svc.DeleteExport(context.Background(), "archive/audit/2026-04.jsonl"))
	assert.Equal(t, []string{"archive/audit/2026-04.jsonl"}, blobs.deleted)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, "admin.export_delete", audit.entries[0].Event)
}

func TestAdminDeleteExportMissingObject(t *testing.T) {
	svc, audit := newExportRig(t, newStubBlobs())

	err := svc.DeleteExport(context.Background(), "archive/audit/2026-04.jsonl")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, audit.entries)
}
