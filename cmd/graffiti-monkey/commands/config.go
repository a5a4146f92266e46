package commands

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/graffiti-monkey/internal/config"
	"github.com/savaki/graffiti-monkey/internal/di"
	"github.com/savaki/graffiti-monkey/internal/graffiti"
	"github.com/savaki/graffiti-monkey/internal/services"
	"github.com/urfave/cli/v2"
	"go.uber.org/dig"
)

var (
	envFlag = &cli.StringFlag{
		Name:     "env",
		Aliases:  []string{"e"},
		Usage:    "Environment (dev, stg, or prd) - determines the SSM parameter path",
		Required: true,
		EnvVars:  []string{"ENV"},
	}
	endpointFlag = &cli.StringFlag{
		Name:    "endpoint",
		Usage:   "Custom AWS endpoint, e.g. http://localhost:4566 for LocalStack",
		EnvVars: []string{"AWS_ENDPOINT_URL"},
	}
)

// ConfigCommand returns the config command for managing run configuration
func ConfigCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Inspect and publish run configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "push",
				Usage: "Store a YAML run configuration in SSM Parameter Store",
				Description: `Validates a YAML run configuration and stores each key as a parameter
under /{env}/graffiti-monkey.

Examples:
  # Show what would be stored
  graffiti-monkey config push --env dev --file monkey.yaml

  # Store, replacing existing parameters
  graffiti-monkey config push --env dev --file monkey.yaml --execute --overwrite`,
				Flags: []cli.Flag{
					envFlag,
					endpointFlag,
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "YAML file holding the run configuration",
						Required: true,
					},
					&cli.BoolFlag{
						Name:    "execute",
						Aliases: []string{"x"},
						Usage:   "Actually store parameters (default is dry-run)",
					},
					&cli.BoolFlag{
						Name:  "overwrite",
						Usage: "Replace parameters that already exist",
					},
				},
				Action: func(c *cli.Context) error {
					return pushAction(c, logger)
				},
			},
			{
				Name:  "show",
				Usage: "Print the run configuration the function would use",
				Description: `Resolves the run configuration exactly as an invocation would and prints
it as JSON. Without --file the source follows CONFIG_SOURCE.`,
				Flags: []cli.Flag{
					envFlag,
					endpointFlag,
					&cli.StringFlag{
						Name:    "file",
						Aliases: []string{"f"},
						Usage:   "YAML file holding the run configuration",
					},
				},
				Action: func(c *cli.Context) error {
					return showAction(c, logger)
				},
			},
		},
	}
}

// validate checks that source holds a configuration an invocation would accept
func validate(c *cli.Context, source config.Source) (*config.RunConfig, error) {
	cfg, err := config.Load(c.Context, source)
	if err != nil {
		return nil, err
	}
	if _, err := graffiti.NewOptions(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func pushAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	store, err := services.NewYAMLParameterStore(c.String("file"))
	if err != nil {
		return err
	}
	if _, err := validate(c, store); err != nil {
		return fmt.Errorf("invalid configuration in %s: %w", c.String("file"), err)
	}

	values := store.Values()
	if !c.Bool("execute") {
		logger.Info().Msg("DRY RUN - no parameters will be stored. Use --execute to store them.")
		for _, key := range slices.Sorted(maps.Keys(values)) {
			logger.Info().Msgf("  %s = %s", services.ParameterName(env, key), values[key])
		}
		return nil
	}

	container, err := di.New(env,
		di.WithLogger(*logger),
		di.WithEndpoint(c.String("endpoint")),
	)
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}

	writer := services.NewSSMParameterWriter(di.MustGet[*ssm.Client](container), env)
	names, err := writer.Put(logger.WithContext(c.Context), values, c.Bool("overwrite"))
	if err != nil {
		return err
	}

	logger.Info().
		Str("env", env).
		Int("parameters", len(names)).
		Msg("Configuration stored")
	return nil
}

func showAction(c *cli.Context, logger *zerolog.Logger) error {
	container, err := di.New(c.String("env"),
		di.WithLogger(*logger),
		di.WithConfigFile(c.String("file")),
		di.WithEndpoint(c.String("endpoint")),
	)
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}

	var cfg *config.RunConfig
	err = container.Invoke(func(source services.ParameterStore) error {
		cfg, err = validate(c, source)
		return err
	})
	if err != nil {
		return dig.RootCause(err)
	}

	encoder := json.NewEncoder(c.App.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}
