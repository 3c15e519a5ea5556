package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/furnishop/commerce/internal/handlers"
	"github.com/furnishop/commerce/internal/orderclient"
	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/config"
	"github.com/furnishop/commerce/internal/platform/events"
	"github.com/furnishop/commerce/internal/platform/idempotency"
	pgplatform "github.com/furnishop/commerce/internal/platform/postgres"
	postgresRepo "github.com/furnishop/commerce/internal/repositories/postgres"
	"github.com/furnishop/commerce/internal/services"
)

const disputeIdempotencyPrefix = "disputes:idempotency:"

// NewDisputeAPI wires the dispute service: PostgreSQL storage, Kafka events, the order
// facade client used by the eligibility validator and Redis backed idempotency.
func NewDisputeAPI(ctx context.Context, rt *Runtime) (http.Handler, error) {
	cfg := rt.Config

	db, err := openPostgres(ctx, rt)
	if err != nil {
		return nil, err
	}
	disputes, err := postgresRepo.NewDisputeRepository(db)
	if err != nil {
		return nil, fmt.Errorf("initialise dispute repository: %w", err)
	}

	writer, err := events.NewKafkaWriter(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("initialise kafka writer: %w", err)
	}
	publisher, err := events.NewKafkaDisputePublisher(writer)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	rt.OnClose("kafka", publisher.Close)

	orders, err := newOrderClient(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := idempotency.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	rt.OnClose("redis", redisClient.Close)
	store, err := idempotency.NewRedisStore(redisClient, disputeIdempotencyPrefix)
	if err != nil {
		return nil, err
	}
	guard := idempotency.Middleware(store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(rt.Logger.Named("idempotency")),
	)

	disputeService, err := services.NewDisputeService(services.DisputeServiceDeps{
		Disputes: disputes,
		Orders:   orders,
		Clock:    time.Now,
		Events:   publisher,
		Metrics:  rt.Metrics,
		Logger:   rt.EventLogger("disputes"),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise dispute service: %w", err)
	}

	authn, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(rt.Build),
		handlers.WithReadinessCheck("postgres", func(ctx context.Context) error {
			return pgplatform.Ping(ctx, db)
		}),
		handlers.WithReadinessCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	)
	disputeHandlers := handlers.NewDisputeHandlers(authn, disputeService, guard)

	return handlers.NewRouter(
		handlers.WithMiddlewares(rt.Middlewares()...),
		handlers.WithHealthHandlers(health),
		handlers.WithDisputeRoutes(disputeHandlers.Routes),
	), nil
}

func openPostgres(ctx context.Context, rt *Runtime) (*gorm.DB, error) {
	db, err := pgplatform.Open(ctx, rt.Config.Postgres, rt.Logger.Named("gorm"))
	if err != nil {
		return nil, fmt.Errorf("initialise postgres: %w", err)
	}
	rt.OnClose("postgres", func() error { return pgplatform.Close(db) })

	if rt.Config.Postgres.AutoMigrate {
		if err := pgplatform.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		rt.Logger.Info("postgres schema up to date")
	}
	return db, nil
}

// newOrderClient builds the order facade client, authenticating as the calling service.
func newOrderClient(cfg config.Config) (*orderclient.Client, error) {
	tokens, err := auth.NewServiceTokens(cfg.ServiceAuth)
	if err != nil {
		return nil, fmt.Errorf("initialise service tokens: %w", err)
	}
	client, err := orderclient.New(cfg.Services,
		orderclient.WithTimeout(cfg.OrderClient.Timeout),
		orderclient.WithServiceToken(tokens, string(cfg.Service)),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise order client: %w", err)
	}
	return client, nil
}
