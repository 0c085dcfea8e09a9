package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of Defaults, fills in the default
// chains when the file defines none, and applies FLOORBOT_* environment
// overrides. An empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = DefaultChains()
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose FLOORBOT_* variable is set so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.EVMPrivateKey, "FLOORBOT_WALLET_EVM_PRIVATE_KEY")
	setStr(&cfg.Wallet.EVMKeyPath, "FLOORBOT_WALLET_EVM_KEY_PATH")
	setStr(&cfg.Wallet.SolanaPrivateKey, "FLOORBOT_WALLET_SOLANA_PRIVATE_KEY")
	setStr(&cfg.Wallet.SolanaKeyPath, "FLOORBOT_WALLET_SOLANA_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLOORBOT_WALLET_KEY_PASSWORD")

	// ── Database ──
	setStr(&cfg.Database.Backend, "FLOORBOT_DATABASE_BACKEND")
	setStr(&cfg.Database.DSN, "FLOORBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform-provided alias
	setStr(&cfg.Database.Host, "FLOORBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "FLOORBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "FLOORBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "FLOORBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "FLOORBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "FLOORBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "FLOORBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "FLOORBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "FLOORBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FLOORBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLOORBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLOORBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOORBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLOORBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLOORBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLOORBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "FLOORBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLOORBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLOORBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLOORBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLOORBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLOORBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLOORBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLOORBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLOORBOT_S3_FORCE_PATH_STYLE")

	// ── Chains: per-chain RPC endpoints usually carry API keys ──
	for i := range cfg.Chains {
		ch := &cfg.Chains[i]
		setStr(&ch.RPCURL, fmt.Sprintf("FLOORBOT_CHAIN_%d_RPC_URL", ch.ID))
		setStr(&ch.AggregatorURL, fmt.Sprintf("FLOORBOT_CHAIN_%d_AGGREGATOR_URL", ch.ID))
	}

	// ── Market data ──
	setStr(&cfg.MarketData.DexScreenerURL, "FLOORBOT_MARKET_DATA_DEXSCREENER_URL")
	setStr(&cfg.MarketData.CoinGeckoURL, "FLOORBOT_MARKET_DATA_COINGECKO_URL")
	setDuration(&cfg.MarketData.Timeout, "FLOORBOT_MARKET_DATA_TIMEOUT")
	setInt(&cfg.MarketData.RateLimit, "FLOORBOT_MARKET_DATA_RATE_LIMIT")

	// ── Trade ──
	setFloat64(&cfg.Trade.DefaultAmountUSD, "FLOORBOT_TRADE_DEFAULT_AMOUNT_USD")
	setInt(&cfg.Trade.SlippageBps, "FLOORBOT_TRADE_SLIPPAGE_BPS")
	setStr(&cfg.Trade.FloorPolicy, "FLOORBOT_TRADE_FLOOR_POLICY")
	setDuration(&cfg.Trade.SwapDeadline, "FLOORBOT_TRADE_SWAP_DEADLINE")
	setInt(&cfg.Trade.StoreRetries, "FLOORBOT_TRADE_STORE_RETRIES")
	setInt64(&cfg.Trade.TopUpHeadroomPct, "FLOORBOT_TRADE_TOP_UP_HEADROOM_PCT")

	// ── Refresh ──
	setDuration(&cfg.Refresh.Interval, "FLOORBOT_REFRESH_INTERVAL")
	setInt(&cfg.Refresh.BatchSize, "FLOORBOT_REFRESH_BATCH_SIZE")
	setDuration(&cfg.Refresh.BatchDelay, "FLOORBOT_REFRESH_BATCH_DELAY")
	setDuration(&cfg.Refresh.SellDelay, "FLOORBOT_REFRESH_SELL_DELAY")
	setBool(&cfg.Refresh.AutoSell, "FLOORBOT_REFRESH_AUTO_SELL")

	// ── Journal ──
	setStr(&cfg.Journal.Dir, "FLOORBOT_JOURNAL_DIR")
	setDuration(&cfg.Journal.ReconcileInterval, "FLOORBOT_JOURNAL_RECONCILE_INTERVAL")
	setDuration(&cfg.Journal.ArchiveAfter, "FLOORBOT_JOURNAL_ARCHIVE_AFTER")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLOORBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLOORBOT_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-provided alias
	setStringSlice(&cfg.Server.CORSOrigins, "FLOORBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FLOORBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FLOORBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLOORBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLOORBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLOORBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLOORBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLOORBOT_MODE")
	setStr(&cfg.LogLevel, "FLOORBOT_LOG_LEVEL")
}

// Typed env helpers. Each only mutates the target when the variable is set
// and parses.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
		var cleaned []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
