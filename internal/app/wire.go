package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/profitfloor/internal/blob/s3"
	"github.com/alanyoungcy/profitfloor/internal/cache/redis"
	"github.com/alanyoungcy/profitfloor/internal/config"
	"github.com/alanyoungcy/profitfloor/internal/crypto"
	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/journal"
	"github.com/alanyoungcy/profitfloor/internal/marketdata"
	"github.com/alanyoungcy/profitfloor/internal/notify"
	"github.com/alanyoungcy/profitfloor/internal/profitfloor"
	"github.com/alanyoungcy/profitfloor/internal/server/handler"
	"github.com/alanyoungcy/profitfloor/internal/store/memory"
	"github.com/alanyoungcy/profitfloor/internal/store/postgres"
	"github.com/alanyoungcy/profitfloor/internal/swap"
	"github.com/alanyoungcy/profitfloor/internal/swap/evm"
	"github.com/alanyoungcy/profitfloor/internal/swap/solana"
)

// Dependencies bundles everything the run modes build services from. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Registry  *swap.Registry
	Policy    profitfloor.Policy
	Positions domain.PositionStore
	Audit     domain.AuditStore
	Journal   *journal.FileJournal
	Prices    *marketdata.CachedGateway
	Rates     *marketdata.CoinGecko
	Notifier  *notify.Notifier
	Checks    []handler.HealthCheck

	// Set only when Redis is enabled.
	Locks       *redis.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Set only when S3 is enabled.
	Archiver domain.Archiver
}

// Wire constructs every dependency from cfg. The cleanup function releases
// connections in reverse order and must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	policy, err := profitfloor.ByName(cfg.Trade.FloorPolicy)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Policy = policy

	// --- Position store ---
	switch cfg.Database.Backend {
	case "memory":
		logger.WarnContext(ctx, "wire: in-memory position store, positions are lost on exit")
		deps.Positions = memory.NewPositionStore()
		deps.Audit = memory.NewAuditStore()
	default:
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Database.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Positions = postgres.NewPositionStore(pg.Pool())
		deps.Checks = append(deps.Checks, handler.HealthCheck{Name: "postgres", Check: pg.Ping})
		deps.Audit = postgres.NewAuditStore(pg.Pool())
	}

	// --- Redis (optional) ---
	var priceCache domain.PriceCache = memory.NewPriceCache()
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Checks = append(deps.Checks, handler.HealthCheck{Name: "redis", Check: rc.Ping})
		priceCache = redis.NewPriceCache(rc, cfg.MarketData.PriceCacheTTL.Duration)
		deps.Locks = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
	}

	// --- Chains and market data ---
	chains := make([]domain.Chain, 0, len(cfg.Chains))
	slugs := make(map[int64]string, len(cfg.Chains))
	natives := make(map[int64]marketdata.NativeAsset, len(cfg.Chains))
	for _, cc := range cfg.Chains {
		ch := chainFromConfig(cc)
		chains = append(chains, ch)
		slugs[ch.ID] = ch.DexScreenerID
		natives[ch.ID] = marketdata.NativeAsset{CoinGeckoID: ch.NativeCoinGeckoID, FallbackUSD: ch.NativeFallbackUSD}
	}

	dex := marketdata.NewDexScreener(marketdata.DexScreenerConfig{
		BaseURL:    cfg.MarketData.DexScreenerURL,
		Timeout:    cfg.MarketData.Timeout.Duration,
		ChainIDs:   slugs,
		Limiter:    deps.RateLimiter,
		RateLimit:  cfg.MarketData.RateLimit,
		RateWindow: cfg.MarketData.RateWindow.Duration,
	}, logger)
	deps.Prices = marketdata.NewCachedGateway(dex, priceCache, logger)
	deps.Rates = marketdata.NewCoinGecko(cfg.MarketData.CoinGeckoURL, natives, cfg.MarketData.NativeRateTTL.Duration, logger)

	// --- Swap providers ---
	deps.Registry = swap.NewRegistry()
	keys := walletKeys{cfg: cfg.Wallet}
	for i, ch := range chains {
		if !cfg.NeedsWallet() {
			if err := deps.Registry.AddChain(ch); err != nil {
				return fail(fmt.Errorf("wire: %w", err))
			}
			continue
		}
		p, closeProvider, err := newProvider(ctx, cfg, cfg.Chains[i], ch, &keys, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: chain %s: %w", ch.Name, err))
		}
		closers = append(closers, closeProvider)
		if err := deps.Registry.Register(ch, p); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		logger.InfoContext(ctx, "wire: swap provider ready",
			slog.Int64("chain_id", ch.ID),
			slog.String("chain", ch.Name),
			slog.String("wallet", p.WalletAddress()),
		)
	}

	// --- Receipt journal ---
	j, err := journal.NewFileJournal(cfg.Journal.Dir)
	if err != nil {
		return fail(fmt.Errorf("wire: journal: %w", err))
	}
	deps.Journal = j

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Checks = append(deps.Checks, handler.HealthCheck{Name: "s3", Check: sc.Health})
		if err := sc.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable, archival will retry",
				slog.String("bucket", sc.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		objects := s3blob.NewObjects(sc)
		deps.Archiver = s3blob.NewArchiver(objects, objects, deps.Positions, deps.Journal, deps.Audit)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIURL,
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

// chainFromConfig converts a [[chains]] entry. Validate has already bounded
// the decimals.
func chainFromConfig(cc config.ChainConfig) domain.Chain {
	return domain.Chain{
		ID:                  cc.ID,
		Name:                cc.Name,
		Family:              domain.ChainFamily(cc.Family),
		NativeSymbol:        cc.NativeSymbol,
		NativeDecimals:      uint8(cc.NativeDecimals),
		WrappedNative:       cc.WrappedNative,
		QuoteAsset:          cc.QuoteAsset,
		QuoteAssetUSDPegged: cc.QuoteAssetUSDPegged,
		ReserveAsset:        cc.ReserveAsset,
		ReserveDecimals:     uint8(cc.ReserveDecimals),
		GasBuffer:           decimal.NewFromFloat(cc.GasBuffer),
		NativeCoinGeckoID:   cc.NativeCoinGeckoID,
		NativeFallbackUSD:   decimal.NewFromFloat(cc.NativeFallbackUSD),
		DexScreenerID:       cc.DexScreenerID,
	}
}

// walletKeys loads each family's hot key at most once.
type walletKeys struct {
	cfg    config.WalletConfig
	evm    *ecdsa.PrivateKey
	solana ed25519.PrivateKey
}

func (k *walletKeys) evmKey() (*ecdsa.PrivateKey, error) {
	if k.evm == nil {
		key, err := crypto.LoadEVMKey(crypto.KeyConfig{
			Raw:           k.cfg.EVMPrivateKey,
			EncryptedPath: k.cfg.EVMKeyPath,
			Password:      k.cfg.KeyPassword,
		})
		if err != nil {
			return nil, err
		}
		k.evm = key
	}
	return k.evm, nil
}

func (k *walletKeys) solanaKey() (ed25519.PrivateKey, error) {
	if k.solana == nil {
		key, err := crypto.LoadSolanaKey(crypto.KeyConfig{
			Raw:           k.cfg.SolanaPrivateKey,
			EncryptedPath: k.cfg.SolanaKeyPath,
			Password:      k.cfg.KeyPassword,
		})
		if err != nil {
			return nil, err
		}
		k.solana = key
	}
	return k.solana, nil
}

func newProvider(ctx context.Context, cfg *config.Config, cc config.ChainConfig, ch domain.Chain, keys *walletKeys, logger *slog.Logger) (swap.Provider, func(), error) {
	switch ch.Family {
	case domain.FamilyEVM:
		key, err := keys.evmKey()
		if err != nil {
			return nil, nil, err
		}
		p, closeFn, err := evm.Dial(ctx, cc.RPCURL, evm.Config{
			ChainID:        ch.ID,
			Router:         cc.Router,
			WrappedNative:  ch.WrappedNative,
			NativeDecimals: ch.NativeDecimals,
			ConfirmTimeout: cc.ConfirmTimeout.Duration,
			PollInterval:   2 * time.Second,
		}, key, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, closeFn, nil

	case domain.FamilySolana:
		key, err := keys.solanaKey()
		if err != nil {
			return nil, nil, err
		}
		rpc := solana.NewRPCClient(cc.RPCURL,
			solana.WithRPCTimeout(cfg.MarketData.Timeout.Duration),
			solana.WithMaxRetries(3),
			solana.WithRetryDelay(500*time.Millisecond),
		)
		jup := solana.NewJupiterClient(cc.AggregatorURL, cfg.MarketData.Timeout.Duration)
		p, err := solana.New(rpc, jup, solana.Config{
			ChainID:          ch.ID,
			ConfirmTimeout:   cc.ConfirmTimeout.Duration,
			PollInterval:     2 * time.Second,
			QuoteSlippageBps: cfg.Trade.SlippageBps,
		}, key, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown chain family %q: %w", ch.Family, domain.ErrUnsupportedChain)
}
