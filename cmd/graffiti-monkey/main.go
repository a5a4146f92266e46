package main

import (
	"context"
	"os"

	"github.com/savaki/graffiti-monkey/cmd/graffiti-monkey/commands"
	"github.com/savaki/graffiti-monkey/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "graffiti-monkey",
		Usage: "Manage graffiti monkey run configuration",
		Description: `Operator tooling for the graffiti monkey Lambda function.

The function reads its run configuration from environment variables or, with
CONFIG_SOURCE=ssm, from SSM Parameter Store under /{env}/graffiti-monkey.`,
		Commands: []*cli.Command{
			commands.ConfigCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
