// Package config defines the top-level configuration for the sale service
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openlaunch/saled/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SALED_* environment variables.
type Config struct {
	Sale     SaleConfig     `toml:"sale"`
	Oracle   OracleConfig   `toml:"oracle"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Export   ExportConfig   `toml:"export"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PhaseConfig is one entry of the three-phase table. LimitTokens is the
// cumulative ceiling in whole tokens; PriceDenominator is the USD token price
// in 6-decimal fixed point (50_000 = $0.05).
type PhaseConfig struct {
	LimitTokens      int64     `toml:"limit_tokens"`
	PriceDenominator int64     `toml:"price_denominator"`
	EndTime          time.Time `toml:"end_time"`
}

// StableAssetConfig describes one fixed-rate payment instrument.
type StableAssetConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals int    `toml:"decimals"`
}

// SaleConfig holds the sale parameters fixed at launch.
type SaleConfig struct {
	TokenAddress string              `toml:"token_address"`
	Treasury     string              `toml:"treasury"`
	CapTokens    int64               `toml:"cap_tokens"`
	OpensAt      time.Time           `toml:"opens_at"`
	ClosesAt     time.Time           `toml:"closes_at"`
	StableAssets []StableAssetConfig `toml:"stable_assets"`
	Phases       []PhaseConfig       `toml:"phases"`
}

// OracleConfig points at the price feed used by the native pricing path.
type OracleConfig struct {
	RPCURL      string   `toml:"rpc_url"`
	FeedAddress string   `toml:"feed_address"`
	Timeout     duration `toml:"timeout"`
}

// ChainConfig holds the RPC endpoint and treasury credentials used by the
// asset-transfer collaborator.
type ChainConfig struct {
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for ledger exports.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AdminAPIKey string   `toml:"admin_api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ExportConfig holds ledger-archival parameters.
type ExportConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			Timeout: duration{5 * time.Second},
		},
		Chain: ChainConfig{
			ChainID: 1,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "saled",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "saled-exports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"purchase", "phase_change", "claim", "block"},
		},
		Export: ExportConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"export":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// tokenWei is the number of base units per whole token.
var tokenWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. The one construction-time
// invariant of the sale itself, open strictly before close, is fatal here;
// phase-table ordering is deliberately not enforced (see engine.New).
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, export, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Sale
	if !common.IsHexAddress(c.Sale.TokenAddress) {
		errs = append(errs, "sale: token_address must be a hex address")
	}
	if !common.IsHexAddress(c.Sale.Treasury) {
		errs = append(errs, "sale: treasury must be a hex address")
	}
	if c.Sale.CapTokens <= 0 {
		errs = append(errs, "sale: cap_tokens must be positive")
	}
	if !c.Sale.OpensAt.Before(c.Sale.ClosesAt) {
		errs = append(errs, "sale: opens_at must be strictly before closes_at")
	}
	if len(c.Sale.StableAssets) != 2 {
		errs = append(errs, fmt.Sprintf("sale: exactly 2 stable_assets required, got %d", len(c.Sale.StableAssets)))
	}
	for i, a := range c.Sale.StableAssets {
		if !common.IsHexAddress(a.Address) {
			errs = append(errs, fmt.Sprintf("sale: stable_assets[%d].address must be a hex address", i))
		}
		if a.Decimals < 0 || a.Decimals > 255 {
			errs = append(errs, fmt.Sprintf("sale: stable_assets[%d].decimals out of range", i))
		}
	}
	if len(c.Sale.Phases) != domain.NumPhases {
		errs = append(errs, fmt.Sprintf("sale: exactly %d phases required, got %d", domain.NumPhases, len(c.Sale.Phases)))
	}
	for i, p := range c.Sale.Phases {
		if p.LimitTokens < 0 {
			errs = append(errs, fmt.Sprintf("sale: phases[%d].limit_tokens must not be negative", i))
		}
		if p.PriceDenominator <= 0 {
			errs = append(errs, fmt.Sprintf("sale: phases[%d].price_denominator must be positive", i))
		}
	}

	// Oracle
	if c.Oracle.RPCURL == "" {
		errs = append(errs, "oracle: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Oracle.FeedAddress) {
		errs = append(errs, "oracle: feed_address must be a hex address")
	}

	// Chain: one credential source is required for modes that settle.
	needsKey := c.Mode == "serve" || c.Mode == "full"
	if needsKey {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3: only required when exports run.
	if c.Export.Enabled || c.Mode == "export" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DomainSale converts the TOML sale section into the engine's immutable
// domain.SaleConfig. Call only after Validate has passed.
func (c *Config) DomainSale() domain.SaleConfig {
	sale := domain.SaleConfig{
		Token:    common.HexToAddress(c.Sale.TokenAddress),
		Treasury: common.HexToAddress(c.Sale.Treasury),
		Cap:      new(big.Int).Mul(big.NewInt(c.Sale.CapTokens), tokenWei),
		OpensAt:  c.Sale.OpensAt,
		ClosesAt: c.Sale.ClosesAt,
	}
	for i, a := range c.Sale.StableAssets {
		if i >= len(sale.StableAssets) {
			break
		}
		sale.StableAssets[i] = domain.StableAsset{
			Address:  common.HexToAddress(a.Address),
			Symbol:   a.Symbol,
			Decimals: uint8(a.Decimals),
		}
	}
	for i, p := range c.Sale.Phases {
		if i >= domain.NumPhases {
			break
		}
		sale.Phases[i] = domain.Phase{
			TokenLimit:       new(big.Int).Mul(big.NewInt(p.LimitTokens), tokenWei),
			PriceDenominator: big.NewInt(p.PriceDenominator),
			EndTime:          p.EndTime,
		}
	}
	return sale
}
