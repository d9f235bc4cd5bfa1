package engine

import (
	"context"

	"github.com/openlaunch/saled/internal/domain"
)

// EventSink receives engine events after an operation has fully succeeded.
// Sinks are observers: their failures must not affect the settled operation,
// so implementations log and swallow their own errors. Calls arrive while
// the engine mutex is held; sinks must not call back into the engine.
type EventSink interface {
	PurchaseCompleted(ctx context.Context, evt domain.PurchaseEvent)
	PhaseChanged(ctx context.Context, evt domain.PhaseChangeEvent)
	ClaimSettled(ctx context.Context, evt domain.ClaimEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) PurchaseCompleted(context.Context, domain.PurchaseEvent) {}
func (NopSink) PhaseChanged(context.Context, domain.PhaseChangeEvent)   {}
func (NopSink) ClaimSettled(context.Context, domain.ClaimEvent)         {}
