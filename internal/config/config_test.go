package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	apperrors "github.com/savaki/graffiti-monkey/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSource() MapSource {
	return MapSource{
		KeyRegion:                  "us-east-1,us-west-2",
		KeyInstanceTagsToPropagate: "Name",
		KeyVolumeTagsToPropagate:   "Name",
		KeyVolumeTagsToBeSet:       "Name",
		KeySnapshotTagsToBeSet:     "Name",
		KeyInstanceFilter:          "tag:Monkey=yes",
	}
}

type failingSource struct{ err error }

func (f failingSource) Lookup(context.Context, string) (string, bool, error) {
	return "", false, f.err
}

type refreshingSource struct {
	MapSource
	refreshed int
	err       error
}

func (r *refreshingSource) Refresh(context.Context) error {
	r.refreshed++
	return r.err
}

func TestLoad_Refresh(t *testing.T) {
	ctx := context.Background()

	source := &refreshingSource{MapSource: validSource()}
	_, err := Load(ctx, source)
	require.NoError(t, err)
	_, err = Load(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, 2, source.refreshed)

	boom := errors.New("ssm unavailable")
	_, err = Load(ctx, &refreshingSource{MapSource: validSource(), err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		cfg, err := Load(ctx, validSource())
		require.NoError(t, err)
		assert.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.Regions)
		assert.Equal(t, []string{"Name"}, cfg.InstanceTagsToPropagate)
		assert.Equal(t, []string{"tag:Monkey=yes"}, cfg.InstanceFilter)
		assert.Empty(t, cfg.NotificationTopic)
		assert.False(t, cfg.DryRun)
	})

	t.Run("topic and dry run", func(t *testing.T) {
		source := validSource()
		source[KeySNSArn] = "arn:aws:sns:us-east-1:123456789012:monkey"
		source[KeyDryRun] = "true"
		source[KeyAssumeRoleARN] = " arn:aws:iam::123456789012:role/graffiti-monkey "

		cfg, err := Load(ctx, source)
		require.NoError(t, err)
		assert.Equal(t, "arn:aws:iam::123456789012:role/graffiti-monkey", cfg.AssumeRoleARN)
		assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:monkey", cfg.NotificationTopic)
		assert.True(t, cfg.DryRun)
	})

	t.Run("invalid dry run", func(t *testing.T) {
		source := validSource()
		source[KeyDryRun] = "maybe"

		_, err := Load(ctx, source)
		require.Error(t, err)
		assert.Contains(t, err.Error(), KeyDryRun)
	})

	t.Run("reports all missing keys", func(t *testing.T) {
		source := validSource()
		delete(source, KeyVolumeTagsToBeSet)
		delete(source, KeyRegion)
		source[KeyInstanceFilter] = " , "
		source[KeySNSArn] = "arn:aws:sns:us-east-1:123456789012:monkey"

		cfg, err := Load(ctx, source)

		var missing *MissingKeysError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{KeyRegion, KeyVolumeTagsToBeSet, KeyInstanceFilter}, missing.Keys)
		assert.Equal(t, "Environment variable not set: 'REGION', 'VOLUME_TAGS_TO_BE_SET', 'INSTANCE_FILTER'", err.Error())

		// values that were present survive for failure reporting
		require.NotNil(t, cfg)
		assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:monkey", cfg.NotificationTopic)
		assert.Equal(t, []string{"Name"}, cfg.InstanceTagsToPropagate)
	})

	t.Run("source error is not a missing key", func(t *testing.T) {
		boom := errors.New("throttled")
		_, err := Load(ctx, failingSource{err: boom})

		require.ErrorIs(t, err, boom)
		var missing *MissingKeysError
		assert.False(t, errors.As(err, &missing))
	})
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{name: "single", value: "Name", want: []string{"Name"}},
		{name: "ordered", value: "us-west-2,us-east-1,eu-west-1", want: []string{"us-west-2", "us-east-1", "eu-west-1"}},
		{name: "whitespace", value: " Name , Owner ", want: []string{"Name", "Owner"}},
		{name: "empty items dropped", value: "Name,,Owner,", want: []string{"Name", "Owner"}},
		{name: "empty", value: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitList(tt.value))
		})
	}
}

func TestParseTagPairs(t *testing.T) {
	tests := []struct {
		name    string
		items   []string
		want    []Tag
		wantErr error
	}{
		{
			name:  "key and value",
			items: []string{"ManagedBy=graffiti-monkey"},
			want:  []Tag{{Key: "ManagedBy", Value: "graffiti-monkey"}},
		},
		{
			name:  "bare key",
			items: []string{"Name"},
			want:  []Tag{{Key: "Name", Value: ""}},
		},
		{
			name:  "value containing equals",
			items: []string{"Query=a=b"},
			want:  []Tag{{Key: "Query", Value: "a=b"}},
		},
		{
			name:    "empty key",
			items:   []string{"=value"},
			wantErr: apperrors.ErrInvalidTagPair,
		},
		{
			name:    "reserved key",
			items:   []string{"aws:cloudformation:stack-name=x"},
			wantErr: apperrors.ErrReservedTagKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTagPairs(tt.items)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilters(t *testing.T) {
	filters, err := ParseFilters([]string{"tag:Monkey=yes", "instance-state-name=running", "tag:Monkey=true"})
	require.NoError(t, err)
	require.Len(t, filters, 2)

	assert.Equal(t, "tag:Monkey", aws.ToString(filters[0].Name))
	assert.Equal(t, []string{"yes", "true"}, filters[0].Values)
	assert.Equal(t, "instance-state-name", aws.ToString(filters[1].Name))
	assert.Equal(t, []string{"running"}, filters[1].Values)

	for _, bad := range []string{"tag:Monkey", "=yes", "tag:Monkey="} {
		_, err := ParseFilters([]string{bad})
		assert.ErrorIs(t, err, apperrors.ErrInvalidFilter, bad)
	}
}

func TestOverlay(t *testing.T) {
	ctx := context.Background()
	base := &refreshingSource{MapSource: validSource()}
	source := Overlay{Base: base, Values: MapSource{KeyDryRun: "true"}}

	cfg, err := Load(ctx, source)
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, cfg.Regions)
	assert.Equal(t, 1, base.refreshed)
}
