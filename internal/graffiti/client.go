package graffiti

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// EC2API defines the EC2 operations used for tag propagation.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumes(ctx context.Context, params *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// ClientFactory creates EC2 clients scoped to a single region. A non-empty
// roleARN is assumed before calling EC2.
type ClientFactory interface {
	Client(ctx context.Context, region, roleARN string) (EC2API, error)
}

// DefaultClientFactory creates EC2 clients from a base AWS config. Assumed
// role credentials are cached per role so every region of an invocation
// shares one session.
type DefaultClientFactory struct {
	cfg       aws.Config
	stsClient *sts.Client

	mu    sync.Mutex
	creds map[string]*aws.CredentialsCache
}

// NewClientFactory returns a factory for cfg
func NewClientFactory(cfg aws.Config) *DefaultClientFactory {
	return &DefaultClientFactory{
		cfg:       cfg,
		stsClient: sts.NewFromConfig(cfg),
		creds:     map[string]*aws.CredentialsCache{},
	}
}

// Client creates an EC2 client for region
func (f *DefaultClientFactory) Client(_ context.Context, region, roleARN string) (EC2API, error) {
	regionCfg := f.cfg.Copy()
	regionCfg.Region = region

	if roleARN != "" {
		if _, err := arn.Parse(roleARN); err != nil {
			return nil, fmt.Errorf("invalid role arn %q: %w", roleARN, err)
		}
		regionCfg.Credentials = f.credentials(roleARN)
	}

	return ec2.NewFromConfig(regionCfg), nil
}

func (f *DefaultClientFactory) credentials(roleARN string) *aws.CredentialsCache {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cache, ok := f.creds[roleARN]; ok {
		return cache
	}
	provider := stscreds.NewAssumeRoleProvider(f.stsClient, roleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = "graffiti-monkey"
	})
	cache := aws.NewCredentialsCache(provider)
	f.creds[roleARN] = cache
	return cache
}

// ErrorCode returns the AWS API error code carried by err, or "" when err did
// not come from an AWS API.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
