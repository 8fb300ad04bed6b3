// Package main is the entry point for the geosearch CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/placefinder/placefinder/internal/terminal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := terminal.NewCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "geosearch:", err)
		stop()
		os.Exit(1)
	}
}
