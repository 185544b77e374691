// Command courier inspects and maintains the local store of a courier client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/courier/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
