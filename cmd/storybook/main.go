package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/dohr-michael/storybook/cmd/commands"
	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/secrets"
)

func main() {
	keys := secrets.NewKeyring(secrets.KeyPath())
	if err := config.LoadDotenv(config.DotenvPath(), keys.Decode); err != nil {
		slog.Warn("failed to load .env", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := commands.NewRootCommand()
	if err := cmd.Run(ctx, os.Args); err != nil {
		if !errors.Is(err, commands.ErrRunFailed) {
			slog.Error("fatal", "error", err)
		}
		os.Exit(1)
	}
}
