// Command wafsync reconciles the declared WAF rules of a zone with Cloudflare.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		errPrint(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
