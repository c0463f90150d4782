package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies NFTPAY_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known NFTPAY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "NFTPAY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "NFTPAY_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "NFTPAY_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "NFTPAY_CHAIN_RPC_URL")
	setStr(&cfg.Chain.RPCURL, "API_URL") // compatibility alias
	setStr(&cfg.Chain.WSURL, "NFTPAY_CHAIN_WS_URL")
	setStr(&cfg.Chain.AssetContract, "NFTPAY_CHAIN_ASSET_CONTRACT")
	setStr(&cfg.Chain.AssetContract, "MINT_CONTRACT_ADDRESS") // compatibility alias
	setStr(&cfg.Chain.SettlementContract, "NFTPAY_CHAIN_SETTLEMENT_CONTRACT")
	setStr(&cfg.Chain.SettlementContract, "SELL_CONTRACT_ADDRESS") // compatibility alias
	setDuration(&cfg.Chain.CallTimeout, "NFTPAY_CHAIN_CALL_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "NFTPAY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "NFTPAY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "NFTPAY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "NFTPAY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "NFTPAY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "NFTPAY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "NFTPAY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "NFTPAY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "NFTPAY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "NFTPAY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "NFTPAY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "NFTPAY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "NFTPAY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "NFTPAY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "NFTPAY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "NFTPAY_REDIS_TLS_ENABLED")

	// ── Bus ──
	setStr(&cfg.Bus.CommandQueue, "NFTPAY_BUS_COMMAND_QUEUE")
	setStr(&cfg.Bus.RegistryQueue, "NFTPAY_BUS_REGISTRY_QUEUE")
	setDuration(&cfg.Bus.RequestTimeout, "NFTPAY_BUS_REQUEST_TIMEOUT")

	// ── Listing ──
	setDuration(&cfg.Listing.MaxExpiry, "NFTPAY_LISTING_MAX_EXPIRY")
	setDuration(&cfg.Listing.VoucherTTL, "NFTPAY_LISTING_VOUCHER_TTL")
	setBool(&cfg.Listing.LockAssets, "NFTPAY_LISTING_LOCK_ASSETS")
	setDuration(&cfg.Listing.LockTTL, "NFTPAY_LISTING_LOCK_TTL")
	setDuration(&cfg.Listing.SweepInterval, "NFTPAY_LISTING_SWEEP_INTERVAL")

	// ── Reconciler ──
	setBool(&cfg.Reconciler.Enabled, "NFTPAY_RECONCILER_ENABLED")
	setInt(&cfg.Reconciler.RetryAttempts, "NFTPAY_RECONCILER_RETRY_ATTEMPTS")
	setDuration(&cfg.Reconciler.RetryInitial, "NFTPAY_RECONCILER_RETRY_INITIAL")
	setDuration(&cfg.Reconciler.RetryMax, "NFTPAY_RECONCILER_RETRY_MAX")
	setDuration(&cfg.Reconciler.ResubscribeDelay, "NFTPAY_RECONCILER_RESUBSCRIBE_DELAY")

	// ── Kafka ──
	setStringSlice(&cfg.Kafka.Brokers, "NFTPAY_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "NFTPAY_KAFKA_TOPIC")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "NFTPAY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "NFTPAY_S3_REGION")
	setStr(&cfg.S3.Bucket, "NFTPAY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "NFTPAY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "NFTPAY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "NFTPAY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "NFTPAY_S3_FORCE_PATH_STYLE")

	// ── Export ──
	setBool(&cfg.Export.Enabled, "NFTPAY_EXPORT_ENABLED")
	setDuration(&cfg.Export.Interval, "NFTPAY_EXPORT_INTERVAL")
	setStr(&cfg.Export.Prefix, "NFTPAY_EXPORT_PREFIX")
	setInt(&cfg.Export.BatchSize, "NFTPAY_EXPORT_BATCH_SIZE")
	setDuration(&cfg.Export.SettleLag, "NFTPAY_EXPORT_SETTLE_LAG")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "NFTPAY_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "NFTPAY_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "NFTPAY_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "NFTPAY_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "NFTPAY_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "NFTPAY_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NFTPAY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NFTPAY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NFTPAY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NFTPAY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "NFTPAY_MODE")
	setStr(&cfg.LogLevel, "NFTPAY_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
