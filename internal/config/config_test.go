package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Mode = "monitor"
	cfg.Sale = SaleConfig{
		TokenAddress: "0x1111111111111111111111111111111111111111",
		Treasury:     "0x2222222222222222222222222222222222222222",
		CapTokens:    1_000_000,
		OpensAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ClosesAt:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		StableAssets: []StableAssetConfig{
			{Address: "0x3333333333333333333333333333333333333333", Symbol: "USDT", Decimals: 6},
			{Address: "0x4444444444444444444444444444444444444444", Symbol: "USDC", Decimals: 6},
		},
		Phases: []PhaseConfig{
			{LimitTokens: 100_000, PriceDenominator: 50_000, EndTime: time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)},
			{LimitTokens: 500_000, PriceDenominator: 100_000, EndTime: time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)},
			{LimitTokens: 1_000_000, PriceDenominator: 200_000, EndTime: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
	cfg.Oracle.RPCURL = "https://rpc.example.org"
	cfg.Oracle.FeedAddress = "0x5555555555555555555555555555555555555555"
	return cfg
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsInvertedWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Sale.OpensAt, cfg.Sale.ClosesAt = cfg.Sale.ClosesAt, cfg.Sale.OpensAt

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opens_at must be strictly before closes_at")
}

func TestValidateRequiresThreePhases(t *testing.T) {
	cfg := validConfig()
	cfg.Sale.Phases = cfg.Sale.Phases[:2]

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly 3 phases required")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Sale.CapTokens = 0
	cfg.Redis.Addr = ""
	cfg.Mode = "bogus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cap_tokens")
	assert.Contains(t, err.Error(), "redis")
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestDomainSaleScalesToTokenWei(t *testing.T) {
	cfg := validConfig()
	sale := cfg.DomainSale()

	wantCap := new(big.Int).Mul(big.NewInt(1_000_000), tokenWei)
	assert.Equal(t, wantCap, sale.Cap)
	assert.Equal(t, big.NewInt(50_000), sale.Phases[0].PriceDenominator)
	assert.Equal(t, uint8(6), sale.StableAssets[0].Decimals)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Chain.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	// The original is untouched.
	assert.Equal(t, "0xdeadbeef", cfg.Chain.PrivateKey)
}
