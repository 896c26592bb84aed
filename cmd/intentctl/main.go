package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"OpenMCP-Intent/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "intentctl:", err)
		os.Exit(1)
	}
}
