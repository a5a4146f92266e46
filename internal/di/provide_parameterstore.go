package di

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/graffiti-monkey/internal/errors"
	"github.com/savaki/graffiti-monkey/internal/services"
)

const (
	ConfigSourceEnv = "env"
	ConfigSourceSSM = "ssm"
)

// ProvideParameterStore selects where run configuration is read from:
// the YAML file when one was given, otherwise CONFIG_SOURCE (env or ssm,
// default env).
func ProvideParameterStore(ctx context.Context, configFile ConfigFile, env string, ssmClient *ssm.Client) (services.ParameterStore, error) {
	logger := zerolog.Ctx(ctx)

	if configFile != "" {
		logger.Info().Str("path", string(configFile)).Msg("Using config file for configuration")
		return services.NewYAMLParameterStore(string(configFile))
	}

	switch source := os.Getenv("CONFIG_SOURCE"); source {
	case "", ConfigSourceEnv:
		logger.Info().Msg("Using environment variables for configuration")
		return services.NewEnvParameterStore(), nil
	case ConfigSourceSSM:
		logger.Info().Str("env", env).Msg("Using AWS Systems Manager Parameter Store for configuration")
		return services.NewSSMParameterStore(ssmClient, env), nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownConfigSource, source)
	}
}
