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
	err := di.Run(ctx, config.ServiceDispute, di.NewDisputeAPI)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispute-service: %v\n", err)
		os.Exit(1)
	}
}
