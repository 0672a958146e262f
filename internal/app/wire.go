package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/pivox/tradingV3-sub003/internal/blob/s3"
	"github.com/pivox/tradingV3-sub003/internal/cache/redis"
	"github.com/pivox/tradingV3-sub003/internal/config"
	"github.com/pivox/tradingV3-sub003/internal/crypto"
	"github.com/pivox/tradingV3-sub003/internal/decision"
	"github.com/pivox/tradingV3-sub003/internal/domain"
	"github.com/pivox/tradingV3-sub003/internal/exchange/binance"
	"github.com/pivox/tradingV3-sub003/internal/execution"
	"github.com/pivox/tradingV3-sub003/internal/feed"
	"github.com/pivox/tradingV3-sub003/internal/guard"
	"github.com/pivox/tradingV3-sub003/internal/notify"
	"github.com/pivox/tradingV3-sub003/internal/plan"
	"github.com/pivox/tradingV3-sub003/internal/store/postgres"
	"github.com/pivox/tradingV3-sub003/internal/timeframe"
	"github.com/pivox/tradingV3-sub003/internal/zone"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence and coordination
	DecisionStore domain.DecisionStore
	LockManager   domain.LockManager
	DecisionCache domain.DecisionCache
	RateLimiter   domain.RateLimiter
	Bus           *redis.EventBus

	// Market data
	Tracker   *feed.Tracker
	Feed      *feed.MarketFeed
	Snapshots domain.SnapshotSource
	Equity    domain.EquitySource

	// Execution
	Gateway domain.ExchangeGateway

	// Pipeline
	Orchestrator *decision.Orchestrator

	// Evidence archival, nil when S3 is disabled
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs every concrete dependency from the configuration and
// returns them with a cleanup function that releases resources in reverse
// order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	live := strings.ToLower(cfg.Mode) == "live"

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

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.DecisionCache = redis.NewDecisionCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)
	indicators := redis.NewIndicatorSource(redisClient)

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
	deps.DecisionStore = postgres.NewDecisionStore(pgClient.Pool())

	// --- Exchange ---
	restClient, err := buildRESTClient(cfg, live, deps.RateLimiter, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if live {
		deps.Gateway = restClient
		deps.Equity = restClient
	} else {
		deps.Gateway = execution.NewSimulator()
		deps.Equity = staticEquity(cfg.Risk.BudgetUSDT)
	}

	// --- Market data feed ---
	deps.Tracker = feed.NewTracker()
	deps.Feed = feed.NewMarketFeed(cfg.Exchange.WsURL, cfg.Symbols, deps.Tracker, logger)

	var contracts feed.ContractSource = restClient
	if cfg.Exchange.ApiKey == "" {
		// Without credentials the bracket endpoint is unavailable; fall
		// back to a single tier at the configured exchange cap.
		contracts = bracketFallback{ContractSource: restClient, cap: cfg.Risk.ExchangeCap}
	}
	deps.Snapshots = feed.NewSnapshotSource(deps.Tracker, contracts, indicators, logger)

	// --- S3 evidence archival ---
	if cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
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

	// --- Decision pipeline ---
	planner, err := plan.NewBuilder(cfg.Risk, cfg.Maker, cfg.FallbackTaker, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: plan builder: %w", err)
	}
	deps.Orchestrator = decision.New(
		timeframe.NewSelector(cfg.Timeframe, cfg.Zone, logger),
		zone.NewBuilder(cfg.Zone, logger),
		planner,
		guard.NewEvaluator(cfg.Guards, cfg.Zone, logger),
		deps.Gateway,
		deps.DecisionCache,
		execution.Config{
			FillTimeout:     cfg.Maker.FillTimeout.Duration,
			PollInterval:    cfg.Maker.FillTimeout.Duration / 10,
			UsePositionTPSL: cfg.TPSL.UsePositionTPSL,
		},
		logger,
	)

	return deps, cleanup, nil
}

// buildRESTClient creates the futures REST client. Live mode requires
// credentials; otherwise the client runs unauthenticated and only public
// endpoints work.
func buildRESTClient(cfg *config.Config, live bool, limiter domain.RateLimiter, logger *slog.Logger) (*binance.Client, error) {
	var auth *crypto.HMACAuth
	if cfg.Exchange.ApiKey != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Exchange.ApiSecret,
			EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
			SecretPassword:      cfg.Exchange.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: exchange secret: %w", err)
		}
		auth = &crypto.HMACAuth{Key: cfg.Exchange.ApiKey, Secret: secret}
	} else if live {
		return nil, fmt.Errorf("wire: live mode requires exchange credentials")
	}
	return binance.NewClient(cfg.Exchange, auth, limiter, logger), nil
}

// staticEquity is the fixed wallet used when no account is connected.
type staticEquity float64

func (e staticEquity) Equity(ctx context.Context) (float64, error) {
	return float64(e), nil
}

// bracketFallback serves a one-tier bracket table when the authenticated
// bracket endpoint cannot be reached.
type bracketFallback struct {
	feed.ContractSource
	cap float64
}

func (b bracketFallback) QueryLeverageBrackets(ctx context.Context, symbol string) ([]domain.LeverageBracket, error) {
	return []domain.LeverageBracket{{NotionalCap: 0, MaxLeverage: b.cap}}, nil
}
