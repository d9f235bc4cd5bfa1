package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaunch/saled/internal/domain"
)

func TestQuoteFixedRateConversion(t *testing.T) {
	phase := domain.Phase{PriceDenominator: big.NewInt(50_000)} // $0.05

	// 6-decimal instrument: $100 buys 2,000 tokens.
	q := quote{path: domain.PathFixedRate, decimals: 6}
	got, err := q.tokens(usdt(100), phase)
	require.NoError(t, err)
	assert.Equal(t, tok(2000), got)

	// 18-decimal instrument, same value.
	q = quote{path: domain.PathFixedRate, decimals: 18}
	got, err = q.tokens(tok(100), phase)
	require.NoError(t, err)
	assert.Equal(t, tok(2000), got)
}

func TestQuoteFixedRateFloors(t *testing.T) {
	phase := domain.Phase{PriceDenominator: big.NewInt(30_000)}

	q := quote{path: domain.PathFixedRate, decimals: 6}
	got, err := q.tokens(big.NewInt(1), phase) // 0.000001 USDT
	require.NoError(t, err)

	// 10^18 / 30,000 floors to 33333333333333.
	assert.Equal(t, big.NewInt(33_333_333_333_333), got)
}

func TestQuoteOracleConversion(t *testing.T) {
	phase := domain.Phase{PriceDenominator: big.NewInt(100_000)} // $0.10
	price := new(big.Int).Mul(big.NewInt(1850), tok(1))          // $1,850

	q := quote{path: domain.PathOracle, answer: price}
	got, err := q.tokens(tok(2), phase) // 2 native units
	require.NoError(t, err)
	assert.Equal(t, tok(37_000), got)
}

func TestQuoteZeroResult(t *testing.T) {
	phase := domain.Phase{PriceDenominator: pow10(24)}

	q := quote{path: domain.PathFixedRate, decimals: 6}
	_, err := q.tokens(big.NewInt(1), phase)
	assert.ErrorIs(t, err, domain.ErrZeroTokens)

	q = quote{path: domain.PathOracle, answer: big.NewInt(1)}
	_, err = q.tokens(big.NewInt(1), phase)
	assert.ErrorIs(t, err, domain.ErrZeroTokens)
}
