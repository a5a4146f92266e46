package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"
	"github.com/savaki/graffiti-monkey/internal/config"
	"github.com/savaki/graffiti-monkey/internal/di"
	"github.com/savaki/graffiti-monkey/internal/graffiti"
	"github.com/savaki/graffiti-monkey/internal/monkey"
	"github.com/savaki/graffiti-monkey/internal/services"
	"github.com/urfave/cli/v2"
	"go.uber.org/dig"
)

type Runner interface {
	Run(ctx context.Context) *monkey.Result
}

type Handler struct {
	runner Runner
}

func NewHandler(runner Runner) *Handler {
	return &Handler{
		runner: runner,
	}
}

// HandleScheduledEvent runs one invocation. The event content is ignored; the
// rule that fired it only decides when we run.
func (h *Handler) HandleScheduledEvent(ctx context.Context, event events.CloudWatchEvent) (string, error) {
	logger := zerolog.Ctx(ctx).With().Logger()
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		logger = logger.With().Str("aws_request_id", lc.AwsRequestID).Logger()
		ctx = logger.WithContext(ctx)
	}

	logger.Info().
		Str("source", event.Source).
		Str("detail_type", event.DetailType).
		Msg("Received event")

	result := h.runner.Run(ctx)
	if err := result.Err(); err != nil {
		return "", err
	}
	return monkey.SuccessMessage, nil
}

func env() string {
	if v := os.Getenv("ENV"); v != "" {
		return v
	}
	return "dev"
}

// newRunner resolves a Runner from container. dryRun, when non-nil, overrides
// DRY_RUN from the configured source.
func newRunner(container di.Container, dryRun *bool) (*monkey.Runner, error) {
	var runner *monkey.Runner
	err := container.Invoke(func(store services.ParameterStore, propagator *graffiti.Propagator, notifier *services.SNSNotifier) {
		source := config.Overlay{Base: store, Values: config.MapSource{}}
		if dryRun != nil {
			source.Values[config.KeyDryRun] = strconv.FormatBool(*dryRun)
		}
		runner = monkey.NewRunner(source, propagator, notifier)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build runner: %w", dig.RootCause(err))
	}
	return runner, nil
}

// lambdaAction fails the cold start when the configuration source itself
// cannot be built; there is no topic to notify at that point.
func lambdaAction(logger zerolog.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		container, err := di.New(env(), di.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create DI container: %w", err)
		}

		runner, err := newRunner(container, nil)
		if err != nil {
			return err
		}
		handler := NewHandler(runner)

		// Wrap handler to inject logger into context
		wrappedHandler := func(ctx context.Context, event events.CloudWatchEvent) (string, error) {
			ctx = logger.WithContext(ctx)
			return handler.HandleScheduledEvent(ctx, event)
		}
		lambda.Start(wrappedHandler)
		return nil
	}
}

func runAction(logger zerolog.Logger) cli.ActionFunc {
	return func(c *cli.Context) error {
		container, err := di.New(env(),
			di.WithLogger(logger),
			di.WithConfigFile(c.String("config")),
			di.WithEndpoint(c.String("endpoint")),
		)
		if err != nil {
			return fmt.Errorf("failed to create DI container: %w", err)
		}

		var dryRun *bool
		if c.IsSet("dry-run") {
			v := c.Bool("dry-run")
			dryRun = &v
		}

		runner, err := newRunner(container, dryRun)
		if err != nil {
			return err
		}

		ctx := logger.WithContext(c.Context)
		result := runner.Run(ctx)

		encoder := json.NewEncoder(c.App.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		return result.Err()
	}
}

func newApp(logger zerolog.Logger) *cli.App {
	return &cli.App{
		Name:           "graffiti-monkey",
		Usage:          "Propagate EC2 instance tags to volumes and snapshots",
		DefaultCommand: "lambda",
		Commands: []*cli.Command{
			{
				Name:   "lambda",
				Usage:  "Serve scheduled events as an AWS Lambda function",
				Action: lambdaAction(logger),
			},
			{
				Name:  "run",
				Usage: "Perform a single invocation locally and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Usage:   "YAML file holding the run configuration",
						EnvVars: []string{"CONFIG_FILE"},
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Log intended tag writes without calling CreateTags",
					},
					&cli.StringFlag{
						Name:    "endpoint",
						Usage:   "Custom AWS endpoint, e.g. http://localhost:4566 for LocalStack",
						EnvVars: []string{"AWS_ENDPOINT_URL"},
					},
				},
				Action: runAction(logger),
			},
		},
	}
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "graffiti-monkey").Logger()

	args := os.Args
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		args = []string{os.Args[0], "lambda"}
	}

	if err := newApp(logger).Run(args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
