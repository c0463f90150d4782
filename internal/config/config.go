// Package config defines the top-level configuration for the payments
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by NFTPAY_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Chain      ChainConfig      `toml:"chain"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Bus        BusConfig        `toml:"bus"`
	Listing    ListingConfig    `toml:"listing"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
	Kafka      KafkaConfig      `toml:"kafka"`
	S3         S3Config         `toml:"s3"`
	Export     ExportConfig     `toml:"export"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the voucher-signing key. The key belongs to the wallet
// that deployed the settlement contract.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the node endpoints and contract addresses.
type ChainConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	WSURL              string   `toml:"ws_url"`
	AssetContract      string   `toml:"asset_contract"`
	SettlementContract string   `toml:"settlement_contract"`
	CallTimeout        duration `toml:"call_timeout"`
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

// BusConfig names the request/response queues on the message bus.
type BusConfig struct {
	CommandQueue   string   `toml:"command_queue"`
	RegistryQueue  string   `toml:"registry_queue"`
	RequestTimeout duration `toml:"request_timeout"`
}

// ListingConfig holds listing lifecycle parameters.
type ListingConfig struct {
	MaxExpiry     duration `toml:"max_expiry"`
	VoucherTTL    duration `toml:"voucher_ttl"`
	LockAssets    bool     `toml:"lock_assets"`
	LockTTL       duration `toml:"lock_ttl"`
	SweepInterval duration `toml:"sweep_interval"`
}

// ReconcilerConfig controls the Sold event subscription and the retry policy
// for its post-sale side effects.
type ReconcilerConfig struct {
	Enabled          bool     `toml:"enabled"`
	RetryAttempts    int      `toml:"retry_attempts"`
	RetryInitial     duration `toml:"retry_initial"`
	RetryMax         duration `toml:"retry_max"`
	ResubscribeDelay duration `toml:"resubscribe_delay"`
}

// KafkaConfig enables the optional settled-sale topic.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ExportConfig controls the periodic sale ledger export to object storage.
type ExportConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Prefix    string   `toml:"prefix"`
	BatchSize int      `toml:"batch_size"`
	SettleLag duration `toml:"settle_lag"` // sales younger than this wait for the next run
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP gateway parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per client per window; 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:      "http://localhost:8545",
			WSURL:       "ws://localhost:8546",
			CallTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "payments",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Bus: BusConfig{
			CommandQueue:   "payments_microservice_queue",
			RegistryQueue:  "products_microservice_queue",
			RequestTimeout: duration{10 * time.Second},
		},
		Listing: ListingConfig{
			MaxExpiry:     duration{30 * 24 * time.Hour},
			VoucherTTL:    duration{5 * time.Minute},
			LockAssets:    true,
			LockTTL:       duration{15 * time.Second},
			SweepInterval: duration{time.Minute},
		},
		Reconciler: ReconcilerConfig{
			Enabled:          true,
			RetryAttempts:    5,
			RetryInitial:     duration{500 * time.Millisecond},
			RetryMax:         duration{10 * time.Second},
			ResubscribeDelay: duration{2 * time.Second},
		},
		Kafka: KafkaConfig{
			Topic: "nft.sales",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nft-payments",
			ForcePathStyle: true,
		},
		Export: ExportConfig{
			Enabled:   false,
			Interval:  duration{15 * time.Minute},
			Prefix:    "sales",
			BatchSize: 1000,
			SettleLag: duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"reconcile_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":      true,
	"api":       true,
	"reconcile": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsSigner reports whether the mode serves fill-listing and therefore
// needs the voucher key.
func (c *Config) NeedsSigner() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "api"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, api, reconcile)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.NeedsSigner() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Reconciler.Enabled && c.Chain.WSURL == "" {
		errs = append(errs, "chain: ws_url is required when the reconciler is enabled")
	}
	if !common.IsHexAddress(c.Chain.AssetContract) {
		errs = append(errs, fmt.Sprintf("chain: asset_contract %q is not a hex address", c.Chain.AssetContract))
	}
	if !common.IsHexAddress(c.Chain.SettlementContract) {
		errs = append(errs, fmt.Sprintf("chain: settlement_contract %q is not a hex address", c.Chain.SettlementContract))
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

	// Bus
	if c.Bus.CommandQueue == "" || c.Bus.RegistryQueue == "" {
		errs = append(errs, "bus: command_queue and registry_queue must be set")
	}
	if c.Bus.RequestTimeout.Duration <= 0 {
		errs = append(errs, "bus: request_timeout must be > 0")
	}

	// Listing
	if c.Listing.MaxExpiry.Duration <= 0 {
		errs = append(errs, "listing: max_expiry must be > 0")
	}
	if c.Listing.VoucherTTL.Duration <= 0 {
		errs = append(errs, "listing: voucher_ttl must be > 0")
	}
	if c.Listing.SweepInterval.Duration <= 0 {
		errs = append(errs, "listing: sweep_interval must be > 0")
	}

	// Reconciler
	if c.Reconciler.RetryAttempts < 0 {
		errs = append(errs, "reconciler: retry_attempts must be >= 0")
	}

	// Kafka
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, "kafka: topic is required when brokers are set")
	}

	// Export
	if c.Export.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when export is enabled")
		}
		if c.Export.Interval.Duration <= 0 {
			errs = append(errs, "export: interval must be > 0")
		}
		if c.Export.BatchSize < 1 {
			errs = append(errs, "export: batch_size must be >= 1")
		}
		if c.Export.SettleLag.Duration < 0 {
			errs = append(errs, "export: settle_lag must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
