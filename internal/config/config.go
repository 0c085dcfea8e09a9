// Package config defines the floorbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then optionally overridden by FLOORBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Chains     []ChainConfig    `toml:"chains"`
	MarketData MarketDataConfig `toml:"market_data"`
	Trade      TradeConfig      `toml:"trade"`
	Refresh    RefreshConfig    `toml:"refresh"`
	Journal    JournalConfig    `toml:"journal"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the hot-wallet keys, one per chain family. Each key is
// given raw or as a password-encrypted file.
type WalletConfig struct {
	EVMPrivateKey    string `toml:"evm_private_key"`
	EVMKeyPath       string `toml:"evm_key_path"`
	SolanaPrivateKey string `toml:"solana_private_key"`
	SolanaKeyPath    string `toml:"solana_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DatabaseConfig selects the position store. Backend "memory" keeps
// positions in process and is meant for dry runs.
type DatabaseConfig struct {
	Backend       string `toml:"backend"`
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

// RedisConfig holds Redis connection parameters. Without Redis the bot runs
// single-instance: locks are local and no events are published.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ChainConfig is one entry of the static chain registry.
type ChainConfig struct {
	ID                  int64    `toml:"id"`
	Name                string   `toml:"name"`
	Family              string   `toml:"family"`
	RPCURL              string   `toml:"rpc_url"`
	Router              string   `toml:"router"`
	AggregatorURL       string   `toml:"aggregator_url"`
	WrappedNative       string   `toml:"wrapped_native"`
	NativeSymbol        string   `toml:"native_symbol"`
	NativeDecimals      int      `toml:"native_decimals"`
	QuoteAsset          string   `toml:"quote_asset"`
	QuoteAssetUSDPegged bool     `toml:"quote_asset_usd_pegged"`
	ReserveAsset        string   `toml:"reserve_asset"`
	ReserveDecimals     int      `toml:"reserve_decimals"`
	GasBuffer           float64  `toml:"gas_buffer"`
	NativeCoinGeckoID   string   `toml:"native_coingecko_id"`
	NativeFallbackUSD   float64  `toml:"native_fallback_usd"`
	DexScreenerID       string   `toml:"dexscreener_id"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
}

// MarketDataConfig configures the price sources.
type MarketDataConfig struct {
	DexScreenerURL string   `toml:"dexscreener_url"`
	CoinGeckoURL   string   `toml:"coingecko_url"`
	Timeout        duration `toml:"timeout"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	NativeRateTTL  duration `toml:"native_rate_ttl"`
	PriceCacheTTL  duration `toml:"price_cache_ttl"`
}

// TradeConfig configures buys and sells.
type TradeConfig struct {
	DefaultAmountUSD float64  `toml:"default_amount_usd"`
	SlippageBps      int      `toml:"slippage_bps"`
	FloorPolicy      string   `toml:"floor_policy"`
	SwapDeadline     duration `toml:"swap_deadline"`
	StoreRetries     int      `toml:"store_retries"`
	WalletLockTTL    duration `toml:"wallet_lock_ttl"`
	IntentTTL        duration `toml:"intent_ttl"`
	TopUpHeadroomPct int64    `toml:"top_up_headroom_pct"`
}

// RefreshConfig configures the price-refresh scheduler.
type RefreshConfig struct {
	Interval   duration `toml:"interval"`
	BatchSize  int      `toml:"batch_size"`
	BatchDelay duration `toml:"batch_delay"`
	SellDelay  duration `toml:"sell_delay"`
	AutoSell   bool     `toml:"auto_sell"`
	LockTTL    duration `toml:"lock_ttl"`
}

// JournalConfig configures the receipt journal and its reconciler.
type JournalConfig struct {
	Dir               string   `toml:"dir"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	ArchiveAfter      duration `toml:"archive_after"`
}

// duration wraps time.Duration so TOML strings like "45s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API parameters. An empty APIKey disables auth.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPIURL    string   `toml:"telegram_api_url"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the values from
// config.example.toml. Chains are filled in by Load when the file defines
// none.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Backend:       "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "floorbot",
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
			KeyPrefix:  "floorbot:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "floorbot-archive",
			ForcePathStyle: true,
		},
		MarketData: MarketDataConfig{
			DexScreenerURL: "https://api.dexscreener.com",
			CoinGeckoURL:   "https://api.coingecko.com/api/v3",
			Timeout:        duration{10 * time.Second},
			RateLimit:      250,
			RateWindow:     duration{time.Minute},
			NativeRateTTL:  duration{time.Minute},
			PriceCacheTTL:  duration{24 * time.Hour},
		},
		Trade: TradeConfig{
			DefaultAmountUSD: 10,
			SlippageBps:      500,
			FloorPolicy:      "relative",
			SwapDeadline:     duration{20 * time.Minute},
			StoreRetries:     3,
			WalletLockTTL:    duration{5 * time.Minute},
			IntentTTL:        duration{5 * time.Minute},
			TopUpHeadroomPct: 5,
		},
		Refresh: RefreshConfig{
			Interval:   duration{45 * time.Second},
			BatchSize:  5,
			BatchDelay: duration{time.Second},
			SellDelay:  duration{2 * time.Second},
			AutoSell:   true,
			LockTTL:    duration{10 * time.Minute},
		},
		Journal: JournalConfig{
			Dir:               "data/journal",
			ReconcileInterval: duration{5 * time.Minute},
			ArchiveAfter:      duration{7 * 24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8080,
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			TelegramAPIURL: "https://api.telegram.org",
			Events:         []string{"auto_sell", "floor_reached"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// DefaultChains returns BSC (PancakeSwap V2) and Solana (Jupiter).
func DefaultChains() []ChainConfig {
	return []ChainConfig{
		{
			ID:                  56,
			Name:                "BSC",
			Family:              "evm",
			RPCURL:              "https://bsc-dataseed.binance.org",
			Router:              "0x10ED43C718714eb63d5aA57B78B54704E256024E",
			WrappedNative:       "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
			NativeSymbol:        "BNB",
			NativeDecimals:      18,
			QuoteAsset:          "0x55d398326f99059fF775485246999027B3197955",
			QuoteAssetUSDPegged: true,
			ReserveAsset:        "0x55d398326f99059fF775485246999027B3197955",
			ReserveDecimals:     18,
			GasBuffer:           0.005,
			NativeCoinGeckoID:   "binancecoin",
			NativeFallbackUSD:   600,
			DexScreenerID:       "bsc",
			ConfirmTimeout:      duration{2 * time.Minute},
		},
		{
			ID:                  999,
			Name:                "Solana",
			Family:              "solana",
			RPCURL:              "https://api.mainnet-beta.solana.com",
			AggregatorURL:       "https://quote-api.jup.ag/v6",
			WrappedNative:       "So11111111111111111111111111111111111111112",
			NativeSymbol:        "SOL",
			NativeDecimals:      9,
			QuoteAsset:          "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			QuoteAssetUSDPegged: true,
			GasBuffer:           0.01,
			NativeCoinGeckoID:   "solana",
			NativeFallbackUSD:   150,
			DexScreenerID:       "solana",
			ConfirmTimeout:      duration{time.Minute},
		},
	}
}

var validModes = map[string]bool{
	"trade":     true,
	"monitor":   true,
	"server":    true,
	"reconcile": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsWallet reports whether the mode submits swaps.
func (c *Config) NeedsWallet() bool {
	return c.Mode == "trade" || c.Mode == "server"
}

// Validate checks the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server, reconcile)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	families := map[string]bool{}
	seen := map[int64]bool{}
	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one [[chains]] entry is required")
	}
	for i, ch := range c.Chains {
		errs = append(errs, ch.validate(i)...)
		if seen[ch.ID] {
			errs = append(errs, fmt.Sprintf("chains[%d]: duplicate id %d", i, ch.ID))
		}
		seen[ch.ID] = true
		families[ch.Family] = true
	}

	if c.NeedsWallet() {
		w := c.Wallet
		if families["evm"] && w.EVMPrivateKey == "" && w.EVMKeyPath == "" {
			errs = append(errs, "wallet: evm_private_key or evm_key_path must be set for mode "+c.Mode)
		}
		if families["solana"] && w.SolanaPrivateKey == "" && w.SolanaKeyPath == "" {
			errs = append(errs, "wallet: solana_private_key or solana_key_path must be set for mode "+c.Mode)
		}
		if (w.EVMKeyPath != "" || w.SolanaKeyPath != "") && w.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when a key file is set")
		}
	}

	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown backend %q (valid: postgres, memory)", c.Database.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Trade.DefaultAmountUSD <= 0 {
		errs = append(errs, "trade: default_amount_usd must be > 0")
	}
	if c.Trade.SlippageBps <= 0 || c.Trade.SlippageBps >= 10000 {
		errs = append(errs, fmt.Sprintf("trade: slippage_bps must be 1-9999, got %d", c.Trade.SlippageBps))
	}
	if p := c.Trade.FloorPolicy; p != "relative" && p != "fixed" {
		errs = append(errs, fmt.Sprintf("trade: unknown floor_policy %q (valid: relative, fixed)", p))
	}
	if c.Trade.StoreRetries < 1 {
		errs = append(errs, "trade: store_retries must be >= 1")
	}
	// Held locks are renewed every ttl/3; the ttl must still cover one
	// confirmation wait so a missed renewal cannot free the wallet mid-swap.
	var longestConfirm time.Duration
	for _, ch := range c.Chains {
		longestConfirm = max(longestConfirm, ch.ConfirmTimeout.Duration)
	}
	if c.Trade.WalletLockTTL.Duration <= longestConfirm {
		errs = append(errs, fmt.Sprintf("trade: wallet_lock_ttl (%s) must exceed the longest chain confirm_timeout (%s)",
			c.Trade.WalletLockTTL.Duration, longestConfirm))
	}
	if c.Refresh.LockTTL.Duration <= 0 {
		errs = append(errs, "refresh: lock_ttl must be > 0")
	}

	if c.Refresh.Interval.Duration <= 0 {
		errs = append(errs, "refresh: interval must be > 0")
	}
	if c.Refresh.BatchSize < 1 {
		errs = append(errs, "refresh: batch_size must be >= 1")
	}

	if c.Journal.Dir == "" {
		errs = append(errs, "journal: dir must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (ch ChainConfig) validate(i int) []string {
	var errs []string
	at := fmt.Sprintf("chains[%d]", i)
	if ch.ID <= 0 {
		errs = append(errs, at+": id must be positive")
	}
	if ch.Name != "" {
		at = fmt.Sprintf("chains[%d] (%s)", i, ch.Name)
	}
	if ch.RPCURL == "" {
		errs = append(errs, at+": rpc_url must not be empty")
	}
	if ch.NativeDecimals <= 0 || ch.NativeDecimals > 36 {
		errs = append(errs, fmt.Sprintf("%s: native_decimals must be 1-36, got %d", at, ch.NativeDecimals))
	}
	if ch.ReserveAsset != "" && (ch.ReserveDecimals <= 0 || ch.ReserveDecimals > 36) {
		errs = append(errs, at+": reserve_decimals must be 1-36 when reserve_asset is set")
	}
	if ch.GasBuffer < 0 {
		errs = append(errs, at+": gas_buffer must be >= 0")
	}
	if ch.DexScreenerID == "" {
		errs = append(errs, at+": dexscreener_id must not be empty")
	}

	switch ch.Family {
	case "evm":
		for field, addr := range map[string]string{
			"router":         ch.Router,
			"wrapped_native": ch.WrappedNative,
		} {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("%s: %s %q is not an address", at, field, addr))
			}
		}
		for field, addr := range map[string]string{
			"quote_asset":   ch.QuoteAsset,
			"reserve_asset": ch.ReserveAsset,
		} {
			if addr != "" && !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("%s: %s %q is not an address", at, field, addr))
			}
		}
	case "solana":
		if ch.AggregatorURL == "" {
			errs = append(errs, at+": aggregator_url must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("%s: unknown family %q (valid: evm, solana)", at, ch.Family))
	}
	return errs
}
