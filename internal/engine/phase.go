package engine

import (
	"math/big"
	"time"

	"github.com/openlaunch/saled/internal/domain"
)

// nextPhase walks the phase table forward from phaseIndex and returns the
// index that should be active for a purchase of prospective tokens at now.
// The walk is monotonic: it never decrements and runs at most
// NumPhases-1 steps.
//
// A phase is left behind when its end time has passed, or when the running
// total plus the prospective amount would STRICTLY exceed its cumulative
// limit. Landing exactly on the limit does not advance; the next purchase,
// however small, is the one that crosses. That boundary is intentional and
// pinned by tests; do not tighten it to >=.
func nextPhase(phases [domain.NumPhases]domain.Phase, phaseIndex int, totalSold, prospective *big.Int, now time.Time) int {
	idx := phaseIndex
	sum := new(big.Int).Add(totalSold, prospective)
	for idx < domain.NumPhases-1 {
		p := phases[idx]
		if now.After(p.EndTime) || sum.Cmp(p.TokenLimit) > 0 {
			idx++
			continue
		}
		break
	}
	return idx
}
