// Command askctl asks questions of databases from the terminal using an
// in-process ekaya-ask engine. Connection profiles live in the OS keychain.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, presentError(err))
		os.Exit(1)
	}
}
