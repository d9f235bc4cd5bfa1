package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/engine"
	"github.com/openlaunch/saled/internal/notify"
)

// archivePrefix is the object-storage namespace the exporter writes under.
// Export browsing is confined to it so admin routes cannot touch arbitrary
// bucket objects.
const archivePrefix = "archive/"

// AdminService executes operator actions: block-list changes, treasury
// sweeps, export browsing, and audit queries. Every mutating action is
// written to the audit log.
type AdminService struct {
	engine   *engine.Engine
	ledger   domain.LedgerStore
	transfer domain.AssetTransfer
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	blobs    domain.BlobReader
	blobDel  domain.BlobDeleter
	logger   *slog.Logger
}

// NewAdminService creates an AdminService. bus, notifier, blobs, and blobDel
// may be nil; export browsing then reports blob storage as unconfigured.
func NewAdminService(
	eng *engine.Engine,
	ledger domain.LedgerStore,
	transfer domain.AssetTransfer,
	audit domain.AuditStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	blobs domain.BlobReader,
	blobDel domain.BlobDeleter,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		engine:   eng,
		ledger:   ledger,
		transfer: transfer,
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		blobs:    blobs,
		blobDel:  blobDel,
		logger:   logger.With(slog.String("component", "admin_service")),
	}
}

// Block adds a participant to the block list. It reports whether the call
// changed anything; blocking an already-blocked participant is a no-op.
func (s *AdminService) Block(ctx context.Context, participant common.Address) (bool, error) {
	return s.setBlocked(ctx, participant, true)
}

// Unblock removes a participant from the block list.
func (s *AdminService) Unblock(ctx context.Context, participant common.Address) (bool, error) {
	return s.setBlocked(ctx, participant, false)
}

func (s *AdminService) setBlocked(ctx context.Context, participant common.Address, blocked bool) (bool, error) {
	var changed bool
	if blocked {
		changed = s.engine.Block(participant)
	} else {
		changed = s.engine.Unblock(participant)
	}
	if !changed {
		return false, nil
	}

	if err := s.ledger.SetBlocked(ctx, participant, blocked); err != nil {
		// Undo the in-memory change so memory and ledger stay in step.
		if blocked {
			s.engine.Unblock(participant)
		} else {
			s.engine.Block(participant)
		}
		return false, fmt.Errorf("admin_service: persist block change: %w", err)
	}

	action := "admin.unblock"
	if blocked {
		action = "admin.block"
	}
	if err := s.audit.Log(ctx, action, map[string]any{
		"participant": participant.Hex(),
	}); err != nil {
		s.logger.WarnContext(ctx, "block change audit log failed", slog.String("error", err.Error()))
	}

	s.announceBlock(ctx, domain.BlockEvent{
		Participant: participant,
		Blocked:     blocked,
		At:          time.Now().UTC(),
	})

	s.logger.InfoContext(ctx, "block list updated",
		slog.String("participant", participant.Hex()),
		slog.Bool("blocked", blocked),
	)
	return true, nil
}

func (s *AdminService) announceBlock(ctx context.Context, evt domain.BlockEvent) {
	if s.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"event":       "block",
			"participant": evt.Participant.Hex(),
			"blocked":     evt.Blocked,
			"timestamp":   evt.At.Format(time.RFC3339Nano),
		})
		if err := s.bus.Publish(ctx, domain.ChannelPurchases, payload); err != nil {
			s.logger.WarnContext(ctx, "block event publish failed", slog.String("error", err.Error()))
		}
	}
	if s.notifier != nil {
		verb := "unblocked"
		if evt.Blocked {
			verb = "blocked"
		}
		msg := fmt.Sprintf("participant %s %s", evt.Participant.Hex(), verb)
		if err := s.notifier.Notify(ctx, notify.EventBlock, "Block list change", msg); err != nil {
			s.logger.WarnContext(ctx, "block notification failed", slog.String("error", err.Error()))
		}
	}
}

// Sweep sends amount of an ERC-20 asset from the treasury to recipient.
// Intended for recovering mistakenly deposited assets after the sale.
func (s *AdminService) Sweep(ctx context.Context, recipient, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("admin_service: sweep amount must be positive")
	}

	if err := s.transfer.Disburse(ctx, recipient, asset, amount); err != nil {
		return fmt.Errorf("admin_service: sweep: %w", err)
	}

	if err := s.audit.Log(ctx, "admin.sweep", map[string]any{
		"recipient": recipient.Hex(),
		"asset":     asset.Hex(),
		"amount":    amount.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "sweep audit log failed", slog.String("error", err.Error()))
	}
	return nil
}

// SweepNative sends amount of the native currency from the treasury to
// recipient.
func (s *AdminService) SweepNative(ctx context.Context, recipient common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("admin_service: sweep amount must be positive")
	}

	if err := s.transfer.DisburseNative(ctx, recipient, amount); err != nil {
		return fmt.Errorf("admin_service: sweep native: %w", err)
	}

	if err := s.audit.Log(ctx, "admin.sweep_native", map[string]any{
		"recipient": recipient.Hex(),
		"amount":    amount.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "sweep audit log failed", slog.String("error", err.Error()))
	}
	return nil
}

// ListExports returns the archive objects the exporter has written.
func (s *AdminService) ListExports(ctx context.Context) ([]domain.BlobInfo, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("admin_service: blob storage is not configured")
	}
	infos, err := s.blobs.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list exports: %w", err)
	}
	return infos, nil
}

// OpenExport streams one archive object. The caller must close the returned
// reader. Paths outside the archive namespace are rejected.
func (s *AdminService) OpenExport(ctx context.Context, path string) (io.ReadCloser, error) {
	if s.blobs == nil {
		return nil, fmt.Errorf("admin_service: blob storage is not configured")
	}
	if err := checkExportPath(path); err != nil {
		return nil, err
	}
	body, err := s.blobs.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("admin_service: open export %s: %w", path, err)
	}
	return body, nil
}

// DeleteExport removes a verified archive object, the explicit pruning step
// that follows an export. It returns domain.ErrNotFound when the object does
// not exist, and records the deletion in the audit log.
func (s *AdminService) DeleteExport(ctx context.Context, path string) error {
	if s.blobs == nil || s.blobDel == nil {
		return fmt.Errorf("admin_service: blob storage is not configured")
	}
	if err := checkExportPath(path); err != nil {
		return err
	}

	exists, err := s.blobs.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("admin_service: check export %s: %w", path, err)
	}
	if !exists {
		return fmt.Errorf("admin_service: export %s: %w", path, domain.ErrNotFound)
	}

	if err := s.blobDel.Delete(ctx, path); err != nil {
		return fmt.Errorf("admin_service: delete export %s: %w", path, err)
	}

	if err := s.audit.Log(ctx, "admin.export_delete", map[string]any{
		"path": path,
	}); err != nil {
		s.logger.WarnContext(ctx, "export delete audit log failed", slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "export deleted", slog.String("path", path))
	return nil
}

// checkExportPath confines export operations to the archive namespace.
func checkExportPath(path string) error {
	if !strings.HasPrefix(path, archivePrefix) || strings.Contains(path, "..") {
		return fmt.Errorf("admin_service: path %q is outside the archive namespace", path)
	}
	return nil
}

// AuditLog returns audit entries, newest first.
func (s *AdminService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("admin_service: list audit log: %w", err)
	}
	return entries, nil
}
