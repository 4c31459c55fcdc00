// Package main is the entry point for the mesh gateway daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmcpmesh/gateway/cmd/meshgatewayd/app"
	"github.com/vmcpmesh/gateway/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("error executing command: %v", err)
		os.Exit(1)
	}
}
