package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlaunch/saled/internal/domain"
)

// Fixed-point scales used by the two conversion paths. Token amounts carry
// 18 decimals; price denominators carry 6; oracle answers carry 18.
var (
	oneE18   = big.NewInt(1_000_000_000_000_000_000)
	usdScale = big.NewInt(1_000_000)
)

const maxPaymentDecimals = 18

// pow10 returns 10^n as a big.Int. n must be non-negative.
func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// quote fixes everything about a payment that does not depend on the active
// phase: the conversion path, the instrument's precision, and (for the
// native path) a single oracle observation. Resolving it once per purchase
// means a boundary-crossing re-price reuses the same oracle round instead of
// fetching twice.
type quote struct {
	path     domain.PricingPath
	decimals uint8    // fixed-rate path
	answer   *big.Int // oracle path
}

// newQuote resolves the payment asset and, for the native path, consults the
// oracle. A non-positive oracle answer is rejected here, before any state is
// touched; it is never clamped or replaced with a cached value.
func (e *Engine) newQuote(ctx context.Context, asset common.Address) (quote, error) {
	if asset == domain.NativeAsset {
		round, err := e.oracle.LatestPrice(ctx)
		if err != nil {
			return quote{}, fmt.Errorf("%w: oracle: %v", domain.ErrPricing, err)
		}
		if round.Answer == nil || round.Answer.Sign() <= 0 {
			return quote{}, domain.ErrBadOraclePrice
		}
		return quote{path: domain.PathOracle, answer: round.Answer}, nil
	}

	stable, ok := e.cfg.StableAsset(asset)
	if !ok {
		return quote{}, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, asset.Hex())
	}
	if stable.Decimals > maxPaymentDecimals {
		return quote{}, fmt.Errorf("%w: got %d", domain.ErrAssetDecimals, stable.Decimals)
	}
	return quote{path: domain.PathFixedRate, decimals: stable.Decimals}, nil
}

// tokens converts paid payment units into sold-asset units at the given
// phase's price denominator. Floor division throughout; a zero result is a
// PricingError, not a silent no-op.
//
// Fixed-rate path:  tokens = paid * 10^(24-decimals) / denom
// Oracle path:      usd = paid * answer / 1e18; tokens = usd * 1e6 / denom
func (q quote) tokens(paid *big.Int, phase domain.Phase) (*big.Int, error) {
	var tokens *big.Int
	switch q.path {
	case domain.PathOracle:
		usd := new(big.Int).Mul(paid, q.answer)
		usd.Quo(usd, oneE18)
		tokens = usd.Mul(usd, usdScale)
		tokens.Quo(tokens, phase.PriceDenominator)
	default:
		tokens = new(big.Int).Mul(paid, pow10(24-int(q.decimals)))
		tokens.Quo(tokens, phase.PriceDenominator)
	}
	if tokens.Sign() <= 0 {
		return nil, domain.ErrZeroTokens
	}
	return tokens, nil
}
