package di

import "github.com/rs/zerolog"

// Endpoint overrides the AWS service endpoint, e.g. http://localhost:4566
type Endpoint string

// ConfigFile is the path of a YAML run configuration. When set it takes
// precedence over CONFIG_SOURCE.
type ConfigFile string

// Option is a function that configures the dependency injection container.
type Option func(*options)

func WithEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.endpoint = Endpoint(endpoint)
	}
}

func WithConfigFile(path string) Option {
	return func(opts *options) {
		opts.configFile = ConfigFile(path)
	}
}

// WithLogger replaces the logger returned by ProvideLogger
func WithLogger(logger zerolog.Logger) Option {
	return func(opts *options) {
		opts.logger = &logger
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() *Database { return &Database{} },
//	    func(db *Database) *Service { return &Service{DB: db} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	endpoint   Endpoint
	configFile ConfigFile
	logger     *zerolog.Logger
	providers  []any
}
