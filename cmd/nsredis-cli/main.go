// nsredis-cli runs Redis commands inside a key namespace.
//
// Usage:
//
//	nsredis-cli --namespace tenant: exec SET greeting hello
//	nsredis-cli --namespace tenant: scan --match 'user:*'
//	nsredis-cli --namespace tenant: rewrite MSET a 1 b 2
//
// Run nsredis-cli help for the full command list.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/flashdb/nsredis/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.App().RunContext(ctx, os.Args); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
