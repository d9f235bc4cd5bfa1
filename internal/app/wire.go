package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/openlaunch/saled/internal/blob/s3"
	"github.com/openlaunch/saled/internal/cache/redis"
	"github.com/openlaunch/saled/internal/config"
	"github.com/openlaunch/saled/internal/crypto"
	"github.com/openlaunch/saled/internal/domain"
	"github.com/openlaunch/saled/internal/notify"
	"github.com/openlaunch/saled/internal/oracle/chainlink"
	"github.com/openlaunch/saled/internal/store/postgres"
	"github.com/openlaunch/saled/internal/transfer/evm"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	LedgerStore   domain.LedgerStore
	PurchaseStore domain.PurchaseStore
	ClaimStore    domain.ClaimStore
	AuditStore    domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter
	Archiver    domain.Archiver

	// Chain collaborators. Oracle is nil in export mode; Transfer is nil in
	// modes that never settle (monitor, export).
	Oracle   domain.PriceOracle
	Transfer domain.AssetTransfer

	// Notifications
	Notifier *notify.Notifier
}

// needsChain returns true for modes that settle purchases or sweeps and
// therefore need the treasury key and an RPC connection.
func needsChain(mode string) bool {
	switch mode {
	case "serve", "full":
		return true
	default:
		return false
	}
}

// needsOracle returns true for modes that price native-currency purchases or
// sample the feed for dashboards.
func needsOracle(mode string) bool {
	switch mode {
	case "serve", "monitor", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true when ledger exports will run.
func needsS3(mode string, exportEnabled bool) bool {
	return mode == "export" || exportEnabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (the ledger is the state of record in every mode) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.LedgerStore = postgres.NewLedgerStore(pool)
	deps.PurchaseStore = postgres.NewPurchaseStore(pool)
	deps.ClaimStore = postgres.NewClaimStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Chainlink price feed ---
	if needsOracle(cfg.Mode) {
		feed, err := chainlink.New(ctx, chainlink.Config{
			RPCURL:      cfg.Oracle.RPCURL,
			FeedAddress: cfg.Oracle.FeedAddress,
			Timeout:     cfg.Oracle.Timeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: oracle: %w", err)
		}
		closers = append(closers, feed.Close)
		deps.Oracle = feed
	}

	// --- Treasury key and asset transfer ---
	if needsChain(cfg.Mode) {
		key, err := crypto.LoadTreasuryKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: treasury key: %w", err)
		}

		transfer, err := evm.New(ctx, evm.Config{
			RPCURL:  cfg.Chain.RPCURL,
			ChainID: cfg.Chain.ChainID,
		}, key, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: transfer: %w", err)
		}
		closers = append(closers, transfer.Close)
		deps.Transfer = transfer

		logger.InfoContext(ctx, "treasury key loaded",
			slog.String("address", key.Address.Hex()),
		)
	}

	// --- S3 blob storage (only when exports run) ---
	if needsS3(cfg.Mode, cfg.Export.Enabled) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.BlobDeleter = reader // same type implements BlobDeleter
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.PurchaseStore,
			deps.ClaimStore,
			deps.AuditStore,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
