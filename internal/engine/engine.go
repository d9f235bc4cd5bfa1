// Package engine implements the phase-transition state machine and
// purchase-accounting core of the sale. All mutating operations are
// serialized through a single mutex and evaluated as one indivisible step
// against the shared sale state; an operation either completes fully or fails
// with no observable state change.
package engine

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlaunch/saled/internal/domain"
)

// Engine owns the mutable sale state and is its only writer. External
// collaborators (oracle, transfer) are injected as interfaces and treated as
// fallible calls with no retry.
type Engine struct {
	mu       sync.Mutex
	cfg      domain.SaleConfig
	state    *saleState
	oracle   domain.PriceOracle
	transfer domain.AssetTransfer
	sink     EventSink
	logger   *slog.Logger
}

// New validates the sale configuration and returns an Engine positioned at
// phase 0 with nothing sold.
//
// Phase-table ordering (non-decreasing limits and end times) is deliberately
// NOT enforced, matching the behavior this engine replaces: a misordered
// table yields an unreachable or immediately-skipped phase. New logs a
// warning so operators catch it at boot rather than mid-sale.
func New(cfg domain.SaleConfig, oracle domain.PriceOracle, transfer domain.AssetTransfer, sink EventSink, logger *slog.Logger) (*Engine, error) {
	if !cfg.OpensAt.Before(cfg.ClosesAt) {
		return nil, fmt.Errorf("%w: open time %s is not before close time %s",
			domain.ErrConfiguration, cfg.OpensAt.Format(time.RFC3339), cfg.ClosesAt.Format(time.RFC3339))
	}
	if cfg.Cap == nil || cfg.Cap.Sign() <= 0 {
		return nil, fmt.Errorf("%w: global cap must be positive", domain.ErrConfiguration)
	}
	for i, p := range cfg.Phases {
		if p.TokenLimit == nil || p.TokenLimit.Sign() < 0 {
			return nil, fmt.Errorf("%w: phase %d token limit missing", domain.ErrConfiguration, i)
		}
		if p.PriceDenominator == nil || p.PriceDenominator.Sign() <= 0 {
			return nil, fmt.Errorf("%w: phase %d price denominator must be positive", domain.ErrConfiguration, i)
		}
	}
	for _, a := range cfg.StableAssets {
		if a.Address == domain.NativeAsset {
			return nil, fmt.Errorf("%w: stable asset address must not be the native sentinel", domain.ErrConfiguration)
		}
	}

	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "engine"))

	for i := 1; i < domain.NumPhases; i++ {
		if cfg.Phases[i].TokenLimit.Cmp(cfg.Phases[i-1].TokenLimit) < 0 {
			logger.Warn("phase token limits are not non-decreasing; a phase will be skipped",
				slog.Int("phase", i),
			)
		}
		if cfg.Phases[i].EndTime.Before(cfg.Phases[i-1].EndTime) {
			logger.Warn("phase end times are not non-decreasing",
				slog.Int("phase", i),
			)
		}
	}

	return &Engine{
		cfg:      cfg,
		state:    newSaleState(),
		oracle:   oracle,
		transfer: transfer,
		sink:     sink,
		logger:   logger,
	}, nil
}

// Restore replaces the engine's state with a persisted snapshot. Call once
// at boot, before any mutating operation.
func (e *Engine) Restore(snap domain.SaleSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := newSaleState()
	if snap.PhaseIndex > 0 {
		st.phaseIndex = snap.PhaseIndex
	}
	if snap.TotalSold != nil {
		st.totalSold.Set(snap.TotalSold)
	}
	for addr, bal := range snap.Balances {
		if bal != nil && bal.Sign() > 0 {
			st.balances[addr] = new(big.Int).Set(bal)
		}
	}
	for _, addr := range snap.Blocked {
		st.blocked[addr] = struct{}{}
	}
	e.state = st
}

// Snapshot returns a deep copy of the current sale state.
func (e *Engine) Snapshot() domain.SaleSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot()
}

// Config returns the immutable sale configuration.
func (e *Engine) Config() domain.SaleConfig {
	return e.cfg
}

// PhaseIndex returns the current phase index.
func (e *Engine) PhaseIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.phaseIndex
}

// TotalSold returns the cumulative tokens allocated so far.
func (e *Engine) TotalSold() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.state.totalSold)
}

// BalanceOf returns the credited, unclaimed balance of a participant.
func (e *Engine) BalanceOf(participant common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bal, ok := e.state.balances[participant]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// IsBlocked reports whether a participant is on the block list.
func (e *Engine) IsBlocked(participant common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.state.blocked[participant]
	return ok
}

// Status returns the read-only sale view for API clients.
func (e *Engine) Status() domain.SaleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	phase := e.cfg.Phases[e.state.phaseIndex]
	return domain.SaleStatus{
		PhaseIndex: e.state.phaseIndex,
		TotalSold:  e.state.totalSold.String(),
		Cap:        e.cfg.Cap.String(),
		OpensAt:    e.cfg.OpensAt,
		ClosesAt:   e.cfg.ClosesAt,
		PhaseEnds:  phase.EndTime,
		PriceUSD:   formatUSD(phase.PriceDenominator),
	}
}

// formatUSD renders a 6-decimal fixed-point denominator as a dollar string.
func formatUSD(denom *big.Int) string {
	q, r := new(big.Int).QuoRem(denom, big.NewInt(1_000_000), new(big.Int))
	return fmt.Sprintf("%s.%06d", q.String(), r.Int64())
}
