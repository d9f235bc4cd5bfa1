package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"time"

	"github.com/openlaunch/saled/internal/domain"
)

// nativeAssetID is the price-cache key for the native currency.
const nativeAssetID = "native"

// PriceMonitor periodically samples the oracle and mirrors the observation
// into the price cache and onto the signal bus. The purchase path never reads
// the cache; the monitor only feeds dashboards and the status API.
type PriceMonitor struct {
	oracle   domain.PriceOracle
	cache    domain.PriceCache
	bus      domain.SignalBus
	interval time.Duration
	logger   *slog.Logger
}

// NewPriceMonitor creates a PriceMonitor sampling at the given interval.
// bus may be nil.
func NewPriceMonitor(
	oracle domain.PriceOracle,
	cache domain.PriceCache,
	bus domain.SignalBus,
	interval time.Duration,
	logger *slog.Logger,
) *PriceMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PriceMonitor{
		oracle:   oracle,
		cache:    cache,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_monitor")),
	}
}

// Run samples the oracle until the context is cancelled. Individual sample
// failures are logged and skipped; the loop keeps going.
func (m *PriceMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *PriceMonitor) sample(ctx context.Context) {
	round, err := m.oracle.LatestPrice(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "oracle sample failed", slog.String("error", err.Error()))
		return
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		m.logger.WarnContext(ctx, "oracle sample non-positive, skipping",
			slog.String("answer", round.Answer.String()),
		)
		return
	}

	price := answerToFloat(round.Answer)
	now := time.Now().UTC()

	if err := m.cache.SetPrice(ctx, nativeAssetID, price, now); err != nil {
		m.logger.WarnContext(ctx, "price cache update failed", slog.String("error", err.Error()))
	}

	if m.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":     "price",
			"asset":     nativeAssetID,
			"price_usd": price,
			"round_id":  round.RoundID.String(),
			"timestamp": now.Format(time.RFC3339Nano),
		})
		if err := m.bus.Publish(ctx, domain.ChannelPrices, evt); err != nil {
			m.logger.WarnContext(ctx, "price publish failed", slog.String("error", err.Error()))
		}
	}
}

// answerToFloat converts an 18-decimal fixed-point answer to a float64 for
// display purposes only.
func answerToFloat(answer *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(answer),
		big.NewFloat(1e18),
	).Float64()
	return f
}
