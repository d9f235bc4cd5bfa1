package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/engine"
	"github.com/openlaunch/saled/internal/notify"
)

// LedgerSink receives engine events and fans them out: the ledger store gets
// the durable record, the signal bus gets a JSON event for live consumers,
// and the notifier alerts operators. The engine calls it with its mutex held,
// so the sink never calls back into the engine.
//
// A persistence failure here is logged loudly but cannot unwind the settled
// operation; the in-memory engine remains the source of truth until the next
// successful write, and recovery replays from the last good snapshot.
type LedgerSink struct {
	ledger   domain.LedgerStore
	bus      domain.SignalBus
	notifier *notify.Notifier
	audit    domain.AuditStore
	logger   *slog.Logger
}

var _ engine.EventSink = (*LedgerSink)(nil)

// NewLedgerSink creates a LedgerSink. bus and notifier may be nil, in which
// case the corresponding fan-out is skipped.
func NewLedgerSink(
	ledger domain.LedgerStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LedgerSink {
	return &LedgerSink{
		ledger:   ledger,
		bus:      bus,
		notifier: notifier,
		audit:    audit,
		logger:   logger.With(slog.String("component", "ledger_sink")),
	}
}

// PurchaseCompleted persists the purchase and announces it.
func (s *LedgerSink) PurchaseCompleted(ctx context.Context, evt domain.PurchaseEvent) {
	if err := s.ledger.RecordPurchase(ctx, evt.Purchase, evt.PhaseIndex, evt.TotalSold); err != nil {
		s.logger.ErrorContext(ctx, "purchase not persisted",
			slog.String("purchase_id", evt.Purchase.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, domain.ChannelPurchases, map[string]any{
		"event":       "purchase",
		"purchase_id": evt.Purchase.ID,
		"buyer":       evt.Purchase.Buyer.Hex(),
		"asset":       evt.Purchase.PaymentAsset.Hex(),
		"paid":        evt.Purchase.PaidAmount.String(),
		"tokens":      evt.Purchase.Tokens.String(),
		"phase":       evt.PhaseIndex,
		"total_sold":  evt.TotalSold.String(),
		"path":        string(evt.Purchase.Path),
		"timestamp":   evt.Purchase.CreatedAt.Format(time.RFC3339Nano),
	})

	if s.notifier != nil {
		msg := fmt.Sprintf("buyer %s bought %s token-wei (phase %d, total %s)",
			evt.Purchase.Buyer.Hex(), evt.Purchase.Tokens, evt.PhaseIndex, evt.TotalSold)
		if err := s.notifier.Notify(ctx, notify.EventPurchase, "Purchase settled", msg); err != nil {
			s.logger.WarnContext(ctx, "purchase notification failed", slog.String("error", err.Error()))
		}
	}
}

// PhaseChanged announces a phase transition and records it in the audit log.
func (s *LedgerSink) PhaseChanged(ctx context.Context, evt domain.PhaseChangeEvent) {
	if s.audit != nil {
		if err := s.audit.Log(ctx, "sale.phase_change", map[string]any{
			"from": evt.From,
			"to":   evt.To,
			"at":   evt.At.Format(time.RFC3339),
		}); err != nil {
			s.logger.WarnContext(ctx, "phase change audit log failed", slog.String("error", err.Error()))
		}
	}

	s.publish(ctx, domain.ChannelPhases, map[string]any{
		"event":     "phase_change",
		"from":      evt.From,
		"to":        evt.To,
		"timestamp": evt.At.Format(time.RFC3339Nano),
	})

	if s.notifier != nil {
		msg := fmt.Sprintf("sale advanced from phase %d to phase %d", evt.From, evt.To)
		if err := s.notifier.Notify(ctx, notify.EventPhaseChange, "Phase change", msg); err != nil {
			s.logger.WarnContext(ctx, "phase change notification failed", slog.String("error", err.Error()))
		}
	}
}

// ClaimSettled persists the claim and announces it.
func (s *LedgerSink) ClaimSettled(ctx context.Context, evt domain.ClaimEvent) {
	if err := s.ledger.RecordClaim(ctx, evt.Claim); err != nil {
		s.logger.ErrorContext(ctx, "claim not persisted",
			slog.String("claim_id", evt.Claim.ID),
			slog.String("error", err.Error()),
		)
	}

	s.publish(ctx, domain.ChannelClaims, map[string]any{
		"event":       "claim",
		"claim_id":    evt.Claim.ID,
		"participant": evt.Claim.Participant.Hex(),
		"tokens":      evt.Claim.Tokens.String(),
		"timestamp":   evt.Claim.ClaimedAt.Format(time.RFC3339Nano),
	})

	if s.notifier != nil {
		msg := fmt.Sprintf("participant %s claimed %s token-wei",
			evt.Claim.Participant.Hex(), evt.Claim.Tokens)
		if err := s.notifier.Notify(ctx, notify.EventClaim, "Claim settled", msg); err != nil {
			s.logger.WarnContext(ctx, "claim notification failed", slog.String("error", err.Error()))
		}
	}
}

func (s *LedgerSink) publish(ctx context.Context, channel string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, channel, evt); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, channel, evt); err != nil {
		s.logger.WarnContext(ctx, "event stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
