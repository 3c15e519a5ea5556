package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/furnishop/commerce/internal/handlers"
	"github.com/furnishop/commerce/internal/orderclient"
	"github.com/furnishop/commerce/internal/platform/jobs"
	firestoreRepo "github.com/furnishop/commerce/internal/repositories/firestore"
	"github.com/furnishop/commerce/internal/services"
)

var _ services.OrderReader = (*orderclient.Client)(nil)

// NewReviewAPI wires the review service: Firestore storage, the review eligibility validator
// reading orders through the facade, Pub/Sub review events and the submission throttle.
func NewReviewAPI(ctx context.Context, rt *Runtime) (http.Handler, error) {
	cfg := rt.Config

	mode, err := services.ParseReviewEligibilityMode(cfg.Review.EligibilityMode)
	if err != nil {
		return nil, err
	}

	provider, err := openFirestore(ctx, rt)
	if err != nil {
		return nil, err
	}
	reviews, err := firestoreRepo.NewReviewRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("initialise review repository: %w", err)
	}

	topic, err := openTopic(ctx, rt, cfg.PubSub.ReviewTopic)
	if err != nil {
		return nil, err
	}
	publisher, err := jobs.NewPubSubEventPublisher(topic)
	if err != nil {
		return nil, err
	}

	orders, err := newOrderClient(cfg)
	if err != nil {
		return nil, err
	}

	reviewService, err := services.NewReviewService(services.ReviewServiceDeps{
		Reviews:         reviews,
		Orders:          orders,
		EligibilityMode: mode,
		ScanLimit:       cfg.Review.ScanLimit,
		Clock:           time.Now,
		Events:          publisher,
		Metrics:         rt.Metrics,
		Logger:          rt.EventLogger("reviews"),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise review service: %w", err)
	}

	authn, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(rt.Build),
		handlers.WithReadinessCheck("firestore", provider.Ping),
	)
	reviewHandlers := handlers.NewReviewHandlers(authn, reviewService,
		handlers.WithReviewRateLimit(cfg.Review.RateLimit, cfg.Review.RateWindow, time.Now),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(rt.Middlewares()...),
		handlers.WithHealthHandlers(health),
		handlers.WithReviewRoutes(reviewHandlers.Routes),
	), nil
}
