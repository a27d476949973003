// Command jarvisctl talks to a running jarvis over its HTTP API.
//
// Usage:
//
//	jarvisctl [--addr URL] [--json] <command> [args]
//
// Commands:
//
//	message <text...>   resolve a text command and print the response
//	speak <text...>     say text on the assistant's speaker
//	health [service]    print service health
//	watch               stream wake word events until interrupted
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
