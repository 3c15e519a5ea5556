//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	domain "github.com/furnishop/commerce/internal/domain"
	"github.com/furnishop/commerce/internal/platform/config"
	pfirestore "github.com/furnishop/commerce/internal/platform/firestore"
	"github.com/furnishop/commerce/internal/repositories"
	firestoreRepo "github.com/furnishop/commerce/internal/repositories/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func startEmulator(t *testing.T) *pfirestore.Provider {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        firestoreEmulatorImage,
			Cmd:          []string{"gcloud", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080"},
			ExposedPorts: []string{"8080/tcp"},
			WaitingFor:   wait.ForLog("Dev App Server is now running").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start firestore emulator")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8080/tcp")
	require.NoError(t, err)

	provider := pfirestore.NewProvider(config.FirestoreConfig{
		ProjectID:    "furnishop-test",
		EmulatorHost: host + ":" + port.Port(),
	})
	t.Cleanup(func() {
		_ = provider.Close()
	})
	require.NoError(t, provider.Ping(ctx))
	return provider
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func TestOrderRepositoryCompareAndSwap(t *testing.T) {
	provider := startEmulator(t)
	repo, err := firestoreRepo.NewOrderRepository(provider)
	require.NoError(t, err)

	ctx := context.Background()
	created := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:         "ord-it-1",
		CustomerID: "cus-1",
		BranchID:   "br-1",
		Items:      []domain.OrderItem{{ProductID: "sofa-3", Quantity: 1, Price: decimal.RequireFromString("1299.00")}},
		Status:     domain.OrderStatusPendingConfirmation,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	require.NoError(t, repo.Insert(ctx, order))
	require.True(t, isConflict(repo.Insert(ctx, order)), "second insert must conflict")

	confirm := func(o *domain.Order) error {
		o.Status = domain.OrderStatusConfirmed
		o.UpdatedAt = created.Add(time.Minute)
		return nil
	}
	updated, err := repo.CompareAndSwapStatus(ctx, order.ID, domain.OrderStatusPendingConfirmation, confirm)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, updated.Status)

	// The stored status moved on, so a writer holding the old view loses.
	_, err = repo.CompareAndSwapStatus(ctx, order.ID, domain.OrderStatusPendingConfirmation, confirm)
	require.True(t, isConflict(err), "stale swap must conflict, got %v", err)

	rejected := errors.New("refused")
	_, err = repo.CompareAndSwapStatus(ctx, order.ID, domain.OrderStatusConfirmed, func(*domain.Order) error {
		return rejected
	})
	require.ErrorIs(t, err, rejected)

	stored, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusConfirmed, stored.Status)
	require.True(t, stored.Items[0].Price.Equal(decimal.RequireFromString("1299")))

	ok, err := repo.HasOrderWithProduct(ctx, "cus-1", "sofa-3", []domain.OrderStatus{domain.OrderStatusConfirmed})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.HasOrderWithProduct(ctx, "cus-1", "sofa-3", []domain.OrderStatus{domain.OrderStatusCompleted})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrderRepositoryReadsLegacyDocuments(t *testing.T) {
	provider := startEmulator(t)
	repo, err := firestoreRepo.NewOrderRepository(provider)
	require.NoError(t, err)

	ctx := context.Background()
	client, err := provider.Client(ctx)
	require.NoError(t, err)

	// Written by an older client: lower-case status, no productIds, no branchId.
	created := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	_, err = client.Collection("orders").Doc("ord-legacy-1").Set(ctx, map[string]any{
		"customerId": "cus-7",
		"status":     "delivered",
		"items":      []map[string]any{{"productId": "table-9", "quantity": 1, "price": "450.00"}},
		"createdAt":  created,
		"updatedAt":  created,
	})
	require.NoError(t, err)

	ok, err := repo.HasOrderWithProduct(ctx, "cus-7", "table-9", []domain.OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusCompleted})
	require.NoError(t, err)
	require.True(t, ok, "legacy order without productIds must count as delivered")

	page, err := repo.List(ctx, repositories.OrderListFilter{
		CustomerID: "cus-7",
		Statuses:   []domain.OrderStatus{domain.OrderStatusDelivered},
		Pagination: domain.Pagination{PageSize: 10},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, domain.OrderStatusDelivered, page.Items[0].Status)
}

func TestReviewRepositoryRejectsDuplicatePair(t *testing.T) {
	provider := startEmulator(t)
	repo, err := firestoreRepo.NewReviewRepository(provider)
	require.NoError(t, err)

	ctx := context.Background()
	review := domain.Review{
		ID:         "rev-it-1",
		ProductID:  "sofa-3",
		CustomerID: "cus-1",
		Rating:     5,
		Comment:    "Solid frame",
		CreatedAt:  time.Date(2026, 5, 9, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Insert(ctx, review))

	again := review
	again.ID = "rev-it-2"
	again.Rating = 1
	require.True(t, isConflict(repo.Insert(ctx, again)), "one review per customer and product")

	page, err := repo.ListByProduct(ctx, "sofa-3", domain.Pagination{PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 5, page.Items[0].Rating)
}
