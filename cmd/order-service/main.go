// Command order-service stores orders in Firestore and serves the order query facade read
// by the dispute and review services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/furnishop/commerce/internal/di"
	"github.com/furnishop/commerce/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := di.Run(ctx, config.ServiceOrder, di.NewOrderAPI)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "order-service: %v\n", err)
		os.Exit(1)
	}
}
