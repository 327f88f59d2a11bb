package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/memoric/memoric/internal/cmd/migrate"
	"github.com/memoric/memoric/internal/cmd/policies"
	"github.com/memoric/memoric/internal/cmd/serve"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "memoric",
		Usage: "Policy-governed memory store for AI agents",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			policies.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
