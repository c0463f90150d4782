package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/nftpayments/internal/blob/s3"
	"github.com/alanyoungcy/nftpayments/internal/bus"
	"github.com/alanyoungcy/nftpayments/internal/cache/redis"
	"github.com/alanyoungcy/nftpayments/internal/chain"
	"github.com/alanyoungcy/nftpayments/internal/config"
	"github.com/alanyoungcy/nftpayments/internal/crypto"
	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/metrics"
	"github.com/alanyoungcy/nftpayments/internal/notify"
	"github.com/alanyoungcy/nftpayments/internal/platform/kafka"
	"github.com/alanyoungcy/nftpayments/internal/registry"
	"github.com/alanyoungcy/nftpayments/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function. Optional collaborators are nil when not configured.
type Dependencies struct {
	// Health probes
	Postgres *postgres.Client
	Redis    *redis.Client

	// Stores
	Listings domain.ListingStore
	Sales    domain.SaleStore
	Audit    domain.AuditStore

	// Caches
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Cursors     domain.CursorStore

	// Message bus
	Bus    *bus.Client
	Owners *registry.Client

	// Chain
	RPC        *chain.Client
	Events     *chain.Client // subscription endpoint; nil unless the reconciler runs
	Asset      *chain.AssetContract
	Settlement *chain.SettlementContract
	Signer     *crypto.VoucherSigner // nil in modes that never fill listings

	// Optional sinks
	Publisher  domain.SalePublisher
	Blob       *s3blob.Client // nil unless the ledger export runs
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Observability
	Notifier        *notify.Notifier
	Metrics         *metrics.Metrics
	MetricsRegistry *prometheus.Registry
}

// needsEvents returns true for modes that run the Sold reconciler.
func needsEvents(cfg *config.Config) bool {
	m := strings.ToLower(cfg.Mode)
	return cfg.Reconciler.Enabled && (m == "full" || m == "reconcile")
}

// needsS3 returns true when the sale ledger export runs in this mode.
func needsS3(cfg *config.Config) bool {
	m := strings.ToLower(cfg.Mode)
	return cfg.Export.Enabled && (m == "full" || m == "reconcile")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Metrics ---
	deps.MetricsRegistry = prometheus.NewRegistry()
	deps.MetricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.MetricsRegistry)

	// --- PostgreSQL ---
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
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.Listings = postgres.NewListingStore(pool)
	deps.Sales = postgres.NewSaleStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

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
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Cursors = redis.NewCursorStore(redisClient)

	// --- Message bus and ownership registry ---
	deps.Bus = bus.NewClient(redisClient.Underlying(), cfg.Bus.RequestTimeout.Duration)
	deps.Owners = registry.New(deps.Bus, cfg.Bus.RegistryQueue)

	// --- Chain ---
	var signerKey string
	var signerAddr common.Address
	if cfg.NeedsSigner() {
		signerKey, err = crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wallet key", err)
		}
	}

	rpc, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.CallTimeout.Duration)
	if err != nil {
		return fail("chain rpc", err)
	}
	closers = append(closers, rpc.Close)
	deps.RPC = rpc

	settlementAddr := common.HexToAddress(cfg.Chain.SettlementContract)
	deps.Settlement, err = chain.NewSettlementContract(settlementAddr)
	if err != nil {
		return fail("settlement contract", err)
	}

	if signerKey != "" {
		deps.Signer, err = crypto.NewVoucherSigner(signerKey, settlementAddr, rpc)
		if err != nil {
			return fail("voucher signer", err)
		}
		signerAddr = deps.Signer.Address()
		logger.InfoContext(ctx, "voucher signer loaded", slog.String("address", signerAddr.Hex()))
	}

	deps.Asset, err = chain.NewAssetContract(common.HexToAddress(cfg.Chain.AssetContract), rpc, signerAddr)
	if err != nil {
		return fail("asset contract", err)
	}

	if needsEvents(cfg) {
		events, err := chain.Dial(ctx, cfg.Chain.WSURL, cfg.Chain.CallTimeout.Duration)
		if err != nil {
			return fail("chain events", err)
		}
		closers = append(closers, events.Close)
		deps.Events = events
	}

	// --- Kafka (optional) ---
	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := kafka.NewSalePublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			return fail("kafka", err)
		}
		closers = append(closers, func() { _ = pub.Close() })
		deps.Publisher = pub
	}

	// --- S3 blob storage (only when the ledger export runs) ---
	if needsS3(cfg) {
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
			return fail("s3", err)
		}
		deps.Blob = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
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
