package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/openlaunch/saled/internal/domain"
)

// Exporter periodically archives aged ledger history to object storage.
type Exporter struct {
	archiver  domain.Archiver
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewExporter creates an Exporter that archives records older than
// retentionDays every interval.
func NewExporter(archiver domain.Archiver, interval time.Duration, retentionDays int, logger *slog.Logger) *Exporter {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Exporter{
		archiver:  archiver,
		interval:  interval,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "exporter")),
	}
}

// Run archives on a fixed interval until the context is cancelled.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil {
				e.logger.ErrorContext(ctx, "export run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce archives everything older than the retention window.
func (e *Exporter) RunOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-e.retention)

	purchases, err := e.archiver.ArchivePurchases(ctx, cutoff)
	if err != nil {
		return err
	}
	claims, err := e.archiver.ArchiveClaims(ctx, cutoff)
	if err != nil {
		return err
	}
	audit, err := e.archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "ledger history archived",
		slog.Time("cutoff", cutoff),
		slog.Int64("purchases", purchases),
		slog.Int64("claims", claims),
		slog.Int64("audit_entries", audit),
	)
	return nil
}
