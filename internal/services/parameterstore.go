package services

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ParameterStore resolves run configuration keys such as REGION or SNS_ARN.
// It satisfies config.Source.
type ParameterStore interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
}

// SSMAPI is the subset of the SSM client used by SSMParameterStore
type SSMAPI interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store.
// Keys map to /{env}/graffiti-monkey/{lower-kebab-key}, e.g.
// INSTANCE_TAGS_TO_PROPAGATE -> /prod/graffiti-monkey/instance-tags-to-propagate
type SSMParameterStore struct {
	client SSMAPI
	path   string

	mu     sync.Mutex
	loaded bool
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client SSMAPI, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		path:   parameterPath(env),
		cache:  make(map[string]string),
	}
}

// ParameterName returns the SSM parameter name holding key
func (s *SSMParameterStore) ParameterName(key string) string {
	return parameterName(s.path, key)
}

// ParameterName returns the SSM parameter name holding key in env
func ParameterName(env, key string) string {
	return parameterName(parameterPath(env), key)
}

func parameterPath(env string) string {
	return fmt.Sprintf("/%s/graffiti-monkey", env)
}

func parameterName(path, key string) string {
	return path + "/" + strings.ReplaceAll(strings.ToLower(key), "_", "-")
}

// Lookup returns the value of key. The whole path is fetched with
// GetParametersByPath on first use and served from cache until Refresh.
func (s *SSMParameterStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.load(ctx); err != nil {
			return "", false, err
		}
	}

	value, ok := s.cache[s.ParameterName(key)]
	return value, ok, nil
}

// Refresh discards cached values and fetches the path again
func (s *SSMParameterStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *SSMParameterStore) load(ctx context.Context) error {
	cache := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(s.path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to get parameters by path %s: %w", s.path, err)
		}
		for _, param := range page.Parameters {
			if param.Name != nil && param.Value != nil {
				cache[*param.Name] = *param.Value
			}
		}
	}

	s.cache = cache
	s.loaded = true
	return nil
}

// SSMPutAPI is the subset of the SSM client used by SSMParameterWriter
type SSMPutAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// SSMParameterWriter stores run configuration where SSMParameterStore reads it
type SSMParameterWriter struct {
	client SSMPutAPI
	path   string
}

func NewSSMParameterWriter(client SSMPutAPI, env string) *SSMParameterWriter {
	return &SSMParameterWriter{
		client: client,
		path:   parameterPath(env),
	}
}

// Put writes every key in values as a String parameter, in key order, and
// returns the parameter names written.
func (w *SSMParameterWriter) Put(ctx context.Context, values map[string]string, overwrite bool) ([]string, error) {
	logger := zerolog.Ctx(ctx)

	var names []string
	for _, key := range slices.Sorted(maps.Keys(values)) {
		name := parameterName(w.path, key)
		_, err := w.client.PutParameter(ctx, &ssm.PutParameterInput{
			Name:        aws.String(name),
			Value:       aws.String(values[key]),
			Type:        ssmtypes.ParameterTypeString,
			Overwrite:   aws.Bool(overwrite),
			Description: aws.String("graffiti monkey " + key),
		})
		if err != nil {
			return names, fmt.Errorf("failed to store parameter %s: %w", name, err)
		}
		logger.Info().Str("name", name).Msg("Stored parameter")
		names = append(names, name)
	}
	return names, nil
}

// EnvParameterStore implements ParameterStore using environment variables
type EnvParameterStore struct{}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore() *EnvParameterStore {
	return &EnvParameterStore{}
}

func (e *EnvParameterStore) Lookup(_ context.Context, key string) (string, bool, error) {
	value, ok := os.LookupEnv(key)
	return value, ok, nil
}

// YAMLParameterStore implements ParameterStore from a YAML document keyed by
// the environment variable names. Lists may be written as YAML sequences.
//
//	REGION: [us-east-1, us-west-2]
//	INSTANCE_FILTER: tag:Monkey=yes
type YAMLParameterStore struct {
	values map[string]string
}

// NewYAMLParameterStore reads and parses the YAML file at path
func NewYAMLParameterStore(path string) (*YAMLParameterStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseYAMLParameterStore(data)
}

// ParseYAMLParameterStore parses a YAML document into a parameter store
func ParseYAMLParameterStore(data []byte) (*YAMLParameterStore, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for key, node := range raw {
		switch node.Kind {
		case yaml.SequenceNode:
			var items []string
			if err := node.Decode(&items); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", key, err)
			}
			values[key] = strings.Join(items, ",")
		case yaml.ScalarNode:
			values[key] = node.Value
		default:
			return nil, fmt.Errorf("unsupported value for %s: expected string or list", key)
		}
	}

	return &YAMLParameterStore{values: values}, nil
}

// Values returns a copy of every key in the document
func (y *YAMLParameterStore) Values() map[string]string {
	return maps.Clone(y.values)
}

func (y *YAMLParameterStore) Lookup(_ context.Context, key string) (string, bool, error) {
	value, ok := y.values[key]
	return value, ok, nil
}
