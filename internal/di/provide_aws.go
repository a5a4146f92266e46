package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/savaki/graffiti-monkey/internal/graffiti"
	"github.com/savaki/graffiti-monkey/internal/monkey"
	"github.com/savaki/graffiti-monkey/internal/services"
)

// ProvideContext returns a background context carrying logger
func ProvideContext(logger zerolog.Logger) context.Context {
	return logger.WithContext(context.Background())
}

// ProvideAWSConfig loads the default AWS config. A non-empty endpoint points
// every client at it with static credentials, which is how LocalStack expects
// to be called.
func ProvideAWSConfig(ctx context.Context, endpoint Endpoint) (aws.Config, error) {
	var optFns []func(*config.LoadOptions) error
	if endpoint != "" {
		optFns = append(optFns,
			config.WithBaseEndpoint(string(endpoint)),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		)
		zerolog.Ctx(ctx).Info().Str("endpoint", string(endpoint)).Msg("Using custom AWS endpoint")
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

func ProvideSNSClient(cfg aws.Config) *sns.Client {
	return sns.NewFromConfig(cfg)
}

func ProvideSSMClient(cfg aws.Config) *ssm.Client {
	return ssm.NewFromConfig(cfg)
}

func ProvideNotifier(client *sns.Client) *services.SNSNotifier {
	return services.NewSNSNotifier(client)
}

func ProvideClientFactory(cfg aws.Config) *graffiti.DefaultClientFactory {
	return graffiti.NewClientFactory(cfg)
}

func ProvidePropagator(factory *graffiti.DefaultClientFactory) *graffiti.Propagator {
	return graffiti.NewPropagator(factory)
}

func ProvideRunner(store services.ParameterStore, propagator *graffiti.Propagator, notifier *services.SNSNotifier) *monkey.Runner {
	return monkey.NewRunner(store, propagator, notifier)
}
