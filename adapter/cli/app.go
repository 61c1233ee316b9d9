package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/scholaris/adapter/api"
	"github.com/felixgeelhaar/scholaris/internal/billing/application"
	"github.com/felixgeelhaar/scholaris/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/scholaris/internal/billing/infrastructure/stripegw"
	"github.com/felixgeelhaar/scholaris/internal/integrity"
	"github.com/felixgeelhaar/scholaris/internal/ratelimit"
	"github.com/felixgeelhaar/scholaris/internal/reauth"
	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/scholaris/internal/shared/infrastructure/kv"
	"github.com/felixgeelhaar/scholaris/pkg/config"
	"github.com/felixgeelhaar/scholaris/pkg/observability"
)

// app holds the wired service graph shared by serve and sweep.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	pool      *pgxpool.Pool
	publisher eventbus.Publisher
	store     kv.Store
	health    *observability.HealthRegistry

	subscriptions *persistence.PostgresSubscriptionRepository
	lifecycle     *application.Lifecycle
	reconciler    *application.Reconciler
	ingestor      *application.Ingestor
	service       *application.Service
	gate          *reauth.Gate
	verifier      *integrity.Verifier
	signer        *integrity.Signer
	limiters      api.Limiters

	closers []func()
}

// newApp builds the service graph. Redis and RabbitMQ degrade to in-memory
// and noop fallbacks in development; production refuses to start without
// them.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, health: observability.NewHealthRegistry()}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	a.health.Register("database", observability.DatabaseHealthChecker(pool.Ping))
	logger.Info("connected to database")

	if store, client, err := newRedisStore(ctx, cfg); err != nil {
		if cfg.IsProduction() {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Warn("redis not available, using in-memory store", "error", err)
		mem := kv.NewMemoryStore()
		mem.StartJanitor(ctx, time.Minute)
		a.store = mem
	} else {
		a.store = store
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
	}

	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsProduction() {
			a.Close()
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		a.publisher = eventbus.NewNoopPublisher(logger)
	} else {
		a.publisher = publisher
		a.closers = append(a.closers, func() { _ = publisher.Close() })
	}

	subscriptions := persistence.NewPostgresSubscriptionRepository(pool)
	paymentMethods := persistence.NewPostgresPaymentMethodRepository(pool)
	users := persistence.NewPostgresUserRepository(pool)
	ledger := persistence.NewPostgresEventLedger(pool)
	a.subscriptions = subscriptions

	gateway := stripegw.NewGateway(stripegw.Config{
		SecretKey:      cfg.StripeAPIKey,
		MonthlyPriceID: cfg.StripeMonthlyPriceID,
		YearlyPriceID:  cfg.StripeYearlyPriceID,
		SuccessURL:     cfg.CheckoutSuccessURL,
		CancelURL:      cfg.CheckoutCancelURL,
	}, logger)
	webhookVerifier := stripegw.NewWebhookVerifier(cfg.StripeWebhookSecret)

	a.lifecycle = application.NewLifecycle(subscriptions, users, a.publisher, logger)
	a.reconciler = application.NewReconciler(subscriptions, a.lifecycle, application.ReconcilerConfig{
		Interval:     cfg.SweepInterval,
		Grace:        cfg.PastDueGrace,
		SweepOnStart: cfg.SweepOnStartup,
	}, logger)
	a.ingestor = application.NewIngestor(webhookVerifier, ledger, subscriptions, gateway, a.lifecycle, a.publisher, logger)
	a.service = application.NewService(subscriptions, paymentMethods, users, gateway, a.lifecycle, logger)

	a.gate = reauth.NewGate(reauth.NewBcryptVerifier(users), a.store, cfg.ReauthTokenTTL)
	a.verifier = integrity.NewVerifier(cfg.IntegritySecret, cfg.ReplayWindow, integrity.NewNonceGuard(a.store, cfg.ReplayWindow))
	a.signer = integrity.NewSigner(cfg.IntegritySecret)

	a.limiters = api.Limiters{
		Billing: ratelimit.New("billing", a.store, cfg.BillingRateLimit, cfg.BillingRateWindow),
		Cards:   ratelimit.New("card-ops", a.store, cfg.CardOpsRateLimit, cfg.CardOpsRateWindow),
		Webhook: ratelimit.New("webhook", a.store, cfg.WebhookRateLimit, cfg.WebhookRateWindow),
	}
	return a, nil
}

func newRedisStore(ctx context.Context, cfg *config.Config) (*kv.RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return kv.NewRedisStore(client, "scholaris"), client, nil
}

// Close releases held resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
