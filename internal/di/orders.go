package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/furnishop/commerce/internal/handlers"
	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/config"
	pfirestore "github.com/furnishop/commerce/internal/platform/firestore"
	"github.com/furnishop/commerce/internal/platform/jobs"
	firestoreRepo "github.com/furnishop/commerce/internal/repositories/firestore"
	"github.com/furnishop/commerce/internal/services"
)

// NewOrderAPI wires the order service: Firestore storage, the transition authorizer behind
// the order service, Pub/Sub lifecycle events and the order query facade routes.
func NewOrderAPI(ctx context.Context, rt *Runtime) (http.Handler, error) {
	cfg := rt.Config

	provider, err := openFirestore(ctx, rt)
	if err != nil {
		return nil, err
	}
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("initialise order repository: %w", err)
	}

	topic, err := openTopic(ctx, rt, cfg.PubSub.OrderTopic)
	if err != nil {
		return nil, err
	}
	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		return nil, err
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:  orders,
		Clock:   time.Now,
		Events:  publisher,
		Metrics: rt.Metrics,
		Logger:  rt.EventLogger("orders"),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise order service: %w", err)
	}

	serviceTokens, err := auth.NewServiceTokens(cfg.ServiceAuth)
	if err != nil {
		return nil, fmt.Errorf("initialise service tokens: %w", err)
	}
	authn, err := newAuthenticator(ctx, cfg, auth.WithServiceTokens(serviceTokens))
	if err != nil {
		return nil, err
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(rt.Build),
		handlers.WithReadinessCheck("firestore", provider.Ping),
	)
	orderHandlers := handlers.NewOrderHandlers(authn, orderService)

	return handlers.NewRouter(
		handlers.WithMiddlewares(rt.Middlewares()...),
		handlers.WithHealthHandlers(health),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	), nil
}

func openFirestore(ctx context.Context, rt *Runtime) (*pfirestore.Provider, error) {
	provider := pfirestore.NewProvider(rt.Config.Firestore, pfirestore.WithDialTimeout(rt.Config.Firestore.DialTimeout))
	if _, err := provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("initialise firestore client: %w", err)
	}
	rt.OnClose("firestore", provider.Close)
	return provider, nil
}

// openTopic connects to Pub/Sub. PUBSUB_EMULATOR_HOST is honoured by the client itself.
func openTopic(ctx context.Context, rt *Runtime, name string) (*pubsub.Topic, error) {
	projectID := strings.TrimSpace(rt.Config.PubSub.ProjectID)
	if projectID == "" {
		return nil, errors.New("pubsub: project id is required")
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(rt.Config.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise pubsub client: %w", err)
	}
	topic := client.Topic(name)
	rt.OnClose("pubsub", func() error {
		topic.Stop()
		return client.Close()
	})
	return topic, nil
}

func newAuthenticator(ctx context.Context, cfg config.Config, opts ...auth.Option) (*auth.Authenticator, error) {
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, auth.WithRevocationCheck(cfg.Firebase.CheckRevoked))
	if err != nil {
		return nil, fmt.Errorf("initialise firebase verifier: %w", err)
	}
	return auth.NewAuthenticator(verifier, opts...), nil
}
