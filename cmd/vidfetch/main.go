// Command vidfetch downloads videos and audio tracks from the command line
// using the same orchestrator as the HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		a.fail.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
