package graffiti

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientFactory(t *testing.T) {
	factory := NewClientFactory(aws.Config{Region: "us-east-1"})
	ctx := context.Background()

	client, err := factory.Client(ctx, "eu-west-1", "")
	require.NoError(t, err)
	assert.NotNil(t, client)

	client, err = factory.Client(ctx, "eu-west-1", "arn:aws:iam::123456789012:role/graffiti-monkey")
	require.NoError(t, err)
	assert.NotNil(t, client)

	_, err = factory.Client(ctx, "eu-west-1", "graffiti-monkey")
	assert.Error(t, err)
}

func TestDefaultClientFactory_SharesRoleCredentials(t *testing.T) {
	factory := NewClientFactory(aws.Config{Region: "us-east-1"})

	first := factory.credentials("arn:aws:iam::123456789012:role/a")
	assert.Same(t, first, factory.credentials("arn:aws:iam::123456789012:role/a"))
	assert.NotSame(t, first, factory.credentials("arn:aws:iam::123456789012:role/b"))
}
