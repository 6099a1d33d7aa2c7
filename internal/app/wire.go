package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/coverbound/triggerd/internal/blob/s3"
	"github.com/coverbound/triggerd/internal/cache/redis"
	"github.com/coverbound/triggerd/internal/config"
	"github.com/coverbound/triggerd/internal/crypto"
	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/market"
	"github.com/coverbound/triggerd/internal/notify"
	"github.com/coverbound/triggerd/internal/oracle"
	"github.com/coverbound/triggerd/internal/store/postgres"
	"github.com/coverbound/triggerd/internal/token"
	"github.com/coverbound/triggerd/internal/trigger"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Requester is the resolved identity that funds and owns the oracle
	// queries.
	Requester common.Address

	// Stores
	TriggerStore    domain.TriggerStore
	TransitionStore domain.TransitionStore

	// Caches
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.SettlementArchiver

	// Notifications
	Notifier *notify.Notifier

	// Embedded oracle stack
	Token    *token.MemoryToken
	Oracle   *oracle.MemoryOracle
	Registry *trigger.Registry

	// Clock is the simulated time source driving sim mode. Nil in serve
	// mode, where real time applies.
	Clock *SimClock
}

// needsBackingServices reports whether the mode uses Postgres, Redis, and
// S3. Sim mode runs entirely in memory.
func needsBackingServices(mode string) bool {
	return mode == "serve"
}

// Wire constructs all concrete dependency implementations from the given
// configuration, deploys the configured triggers, and returns everything
// together with a cleanup function that should be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	requester, err := crypto.ResolveAddress(cfg.Requester.Address, crypto.KeyConfig{
		EncryptedKeyPath: cfg.Requester.EncryptedKeyPath,
		KeyPassword:      cfg.Requester.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: resolve requester: %w", err)
	}
	deps.Requester = requester

	if needsBackingServices(cfg.Mode) {
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

		pool := pgClient.Pool()
		deps.TriggerStore = postgres.NewTriggerStore(pool)
		deps.TransitionStore = postgres.NewTransitionStore(pool)

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

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)

		// --- S3 blob storage ---
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
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewSettlementArchiver(deps.BlobWriter, deps.BlobReader)
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

	// --- Embedded oracle stack ---
	deps.Token = token.NewMemoryToken(common.HexToAddress(cfg.Oracle.TokenAddress))
	deps.Oracle = oracle.NewMemoryOracle(common.HexToAddress(cfg.Oracle.Address), deps.Token, logger)
	deps.Registry = trigger.NewRegistry()

	if cfg.Mode == "sim" {
		deps.Clock = NewSimClock(time.Now().UTC())
		deps.Oracle.SetClock(deps.Clock.Now)
	}

	if err := deployTriggers(ctx, cfg, deps, logger); err != nil {
		cleanup()
		return nil, nil, err
	}

	return deps, cleanup, nil
}

// deployTriggers funds and deploys every configured trigger, registering it
// with the shared registry and persisting its initial record.
func deployTriggers(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	reward, ok := new(big.Int).SetString(cfg.Requester.RewardBalance, 10)
	if !ok {
		return fmt.Errorf("wire: reward_balance %q is not a decimal integer", cfg.Requester.RewardBalance)
	}

	recorder := NewRecorder(
		deps.TriggerStore,
		deps.TransitionStore,
		deps.SignalBus,
		deps.Notifier,
		archiverOrNil(deps.Archiver),
		logger,
	)

	for _, tc := range cfg.Triggers {
		bond, ok := new(big.Int).SetString(tc.Bond, 10)
		if !ok {
			return fmt.Errorf("wire: trigger %s: bond %q is not a decimal integer", tc.ID, tc.Bond)
		}

		refund := deps.Requester
		if tc.RefundRecipient != "" {
			refund = common.HexToAddress(tc.RefundRecipient)
		}

		markets := make([]domain.Market, 0, len(tc.Markets))
		for _, mid := range tc.Markets {
			markets = append(markets, market.NewBusMarket(mid, deps.SignalBus, logger))
		}

		// Each trigger gets its own token account so sweeping one
		// trigger's residual reward cannot touch another's budget.
		account := triggerAccount(deps.Requester, tc.ID)
		deps.Token.Mint(account, reward)

		var clockFn func() time.Time
		if deps.Clock != nil {
			clockFn = deps.Clock.Now
		}

		t, err := trigger.NewOracleTrigger(ctx, trigger.Config{
			ID:              tc.ID,
			Address:         account,
			Oracle:          deps.Oracle,
			Token:           deps.Token,
			Question:        tc.Question,
			Bond:            bond,
			Liveness:        tc.Liveness.Duration,
			RefundRecipient: refund,
			Markets:         markets,
			Sink:            recorder,
			Logger:          logger,
			Clock:           clockFn,
		})
		if err != nil {
			return fmt.Errorf("wire: deploy trigger %s: %w", tc.ID, err)
		}
		deps.Registry.Register(t)

		if deps.TriggerStore != nil {
			if err := deps.TriggerStore.Upsert(ctx, t.Record()); err != nil {
				return fmt.Errorf("wire: persist trigger %s: %w", tc.ID, err)
			}
		}

		logger.InfoContext(ctx, "trigger deployed",
			slog.String("trigger_id", t.ID()),
			slog.String("account", account.Hex()),
			slog.Int64("request_timestamp", t.RequestTimestamp()),
			slog.Duration("liveness", tc.Liveness.Duration),
		)
	}
	return nil
}

// triggerAccount derives a deterministic per-trigger token account from the
// requester identity and the trigger ID.
func triggerAccount(requester common.Address, triggerID string) common.Address {
	h := ethcrypto.Keccak256(append(requester.Bytes(), []byte(triggerID)...))
	return common.BytesToAddress(h[12:])
}

// archiverOrNil converts a possibly-nil concrete archiver into the
// recorder's interface without producing a typed nil.
func archiverOrNil(a *s3blob.SettlementArchiver) settlementArchiver {
	if a == nil {
		return nil
	}
	return a
}
