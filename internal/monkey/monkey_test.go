package monkey

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/savaki/graffiti-monkey/internal/config"
	"github.com/savaki/graffiti-monkey/internal/graffiti"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "arn:aws:sns:us-east-1:123456789012:graffiti-monkey"

// call is a single observed collaborator call, in order
type call struct {
	Kind    string // propagate or notify
	Region  string
	Subject string
	Message string
}

type recorder struct {
	calls []call
}

type mockPropagator struct {
	rec   *recorder
	fail  map[string]error
	opts  []graffiti.Options
	stats graffiti.Stats
}

func (m *mockPropagator) Propagate(_ context.Context, region string, opts graffiti.Options) (graffiti.Stats, error) {
	m.rec.calls = append(m.rec.calls, call{Kind: "propagate", Region: region})
	m.opts = append(m.opts, opts)
	if err := m.fail[region]; err != nil {
		return graffiti.Stats{}, err
	}
	return m.stats, nil
}

type mockNotifier struct {
	rec  *recorder
	err  error
	errs map[string]error
}

func (m *mockNotifier) Notify(_ context.Context, topicArn, subject, message string) error {
	m.rec.calls = append(m.rec.calls, call{Kind: "notify", Subject: subject, Message: message})
	if err := m.errs[subject]; err != nil {
		return err
	}
	return m.err
}

func testContext() context.Context {
	logger := zerolog.New(io.Discard)
	return logger.WithContext(context.Background())
}

func baseSource() config.MapSource {
	return config.MapSource{
		config.KeyRegion:                  "us-east-1,us-west-2",
		config.KeyInstanceTagsToPropagate: "Name",
		config.KeyVolumeTagsToPropagate:   "Name",
		config.KeyVolumeTagsToBeSet:       "Name",
		config.KeySnapshotTagsToBeSet:     "Name",
		config.KeyInstanceFilter:          "tag:Monkey=yes",
	}
}

func setup(source config.MapSource) (*Runner, *recorder, *mockPropagator, *mockNotifier) {
	rec := &recorder{}
	propagator := &mockPropagator{rec: rec, fail: map[string]error{}, stats: graffiti.Stats{Instances: 3}}
	notifier := &mockNotifier{rec: rec}
	return NewRunner(source, propagator, notifier), rec, propagator, notifier
}

func TestRun_SuccessWithoutTopic(t *testing.T) {
	runner, rec, propagator, _ := setup(baseSource())

	result := runner.Run(testContext())

	require.NoError(t, result.Err())
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []call{
		{Kind: "propagate", Region: "us-east-1"},
		{Kind: "propagate", Region: "us-west-2"},
	}, rec.calls)
	assert.Equal(t, []RegionResult{
		{Region: "us-east-1", Stats: graffiti.Stats{Instances: 3}},
		{Region: "us-west-2", Stats: graffiti.Stats{Instances: 3}},
	}, result.Completed)

	// same options for every region
	require.Len(t, propagator.opts, 2)
	assert.Equal(t, propagator.opts[0], propagator.opts[1])
	assert.Equal(t, []string{"Name"}, propagator.opts[0].InstanceTagsToPropagate)
}

func TestRun_SuccessNotifiesAfterEachRegion(t *testing.T) {
	source := baseSource()
	source[config.KeySNSArn] = topic
	runner, rec, _, _ := setup(source)

	result := runner.Run(testContext())

	require.NoError(t, result.Err())
	assert.Equal(t, []call{
		{Kind: "propagate", Region: "us-east-1"},
		{Kind: "notify", Subject: SuccessSubject, Message: "Graffiti Monkey completed successfully in us-east-1."},
		{Kind: "propagate", Region: "us-west-2"},
		{Kind: "notify", Subject: SuccessSubject, Message: "Graffiti Monkey completed successfully in us-west-2."},
	}, rec.calls)
}

func TestRun_PropagationFailureStopsRun(t *testing.T) {
	boom := errors.New("access denied")

	t.Run("without topic", func(t *testing.T) {
		source := baseSource()
		source[config.KeyRegion] = "us-east-1,us-west-2,eu-west-1"
		runner, rec, propagator, _ := setup(source)
		propagator.fail["us-west-2"] = boom

		result := runner.Run(testContext())

		assert.ErrorIs(t, result.Err(), boom)
		assert.Equal(t, []call{
			{Kind: "propagate", Region: "us-east-1"},
			{Kind: "propagate", Region: "us-west-2"},
		}, rec.calls)
		require.NotNil(t, result.Failure)
		assert.Equal(t, "us-west-2", result.Failure.Region)
		assert.Len(t, result.Completed, 1)
	})

	t.Run("with topic", func(t *testing.T) {
		source := baseSource()
		source[config.KeySNSArn] = topic
		runner, rec, propagator, _ := setup(source)
		propagator.fail["us-east-1"] = boom

		result := runner.Run(testContext())

		assert.ErrorIs(t, result.Err(), boom)
		assert.Equal(t, []call{
			{Kind: "propagate", Region: "us-east-1"},
			{
				Kind:    "notify",
				Subject: FailureSubject,
				Message: "Error running Lambda Graffiti Monkey in us-east-1. Error Message: Error: Graffiti Monkey encountered the following error: access denied",
			},
		}, rec.calls)
	})
}

func TestRun_MissingConfiguration(t *testing.T) {
	t.Run("with topic", func(t *testing.T) {
		source := baseSource()
		source[config.KeySNSArn] = topic
		delete(source, config.KeyVolumeTagsToBeSet)
		delete(source, config.KeyInstanceFilter)
		runner, rec, _, _ := setup(source)

		result := runner.Run(testContext())

		var missing *config.MissingKeysError
		require.True(t, errors.As(result.Err(), &missing))
		assert.Equal(t, []string{config.KeyVolumeTagsToBeSet, config.KeyInstanceFilter}, missing.Keys)
		assert.Equal(t, AllRegions, result.Failure.Region)
		assert.Empty(t, result.Completed)
		assert.Equal(t, []call{
			{
				Kind:    "notify",
				Subject: FailureSubject,
				Message: "Error running Lambda Graffiti Monkey in all regions. Error Message: Error: Environment variable not set: 'VOLUME_TAGS_TO_BE_SET', 'INSTANCE_FILTER'",
			},
		}, rec.calls)
	})

	t.Run("without topic", func(t *testing.T) {
		source := baseSource()
		delete(source, config.KeyRegion)
		runner, rec, _, _ := setup(source)

		result := runner.Run(testContext())

		require.Error(t, result.Err())
		assert.Empty(t, rec.calls)
	})

	t.Run("invalid filter", func(t *testing.T) {
		source := baseSource()
		source[config.KeyInstanceFilter] = "tag:Monkey"
		runner, rec, _, _ := setup(source)

		result := runner.Run(testContext())

		require.Error(t, result.Err())
		assert.Contains(t, result.Err().Error(), config.KeyInstanceFilter)
		assert.Empty(t, rec.calls)
	})
}

func TestRun_NotificationErrors(t *testing.T) {
	t.Run("success notification failure aborts the run", func(t *testing.T) {
		boom := errors.New("topic not found")
		source := baseSource()
		source[config.KeySNSArn] = topic
		runner, rec, _, notifier := setup(source)
		notifier.errs = map[string]error{SuccessSubject: boom}

		result := runner.Run(testContext())

		assert.ErrorIs(t, result.Err(), boom)
		assert.Equal(t, "us-east-1", result.Failure.Region)
		require.Len(t, rec.calls, 3)
		assert.Equal(t, FailureSubject, rec.calls[2].Subject)
	})

	t.Run("failure notification error keeps original error", func(t *testing.T) {
		boom := errors.New("propagation failed")
		source := baseSource()
		source[config.KeySNSArn] = topic
		runner, _, propagator, notifier := setup(source)
		propagator.fail["us-east-1"] = boom
		notifier.err = errors.New("sns down")

		result := runner.Run(testContext())

		assert.ErrorIs(t, result.Err(), boom)
	})
}

func TestRun_RepeatedInvocationRepeatsWork(t *testing.T) {
	runner, rec, _, _ := setup(baseSource())

	first := runner.Run(testContext())
	second := runner.Run(testContext())

	require.NoError(t, first.Err())
	require.NoError(t, second.Err())
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Len(t, rec.calls, 4)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t,
		"Error: Environment variable not set: 'REGION'",
		ErrorMessage(&config.MissingKeysError{Keys: []string{"REGION"}}))
	assert.Equal(t,
		"Error: Graffiti Monkey encountered the following error: boom",
		ErrorMessage(errors.New("boom")))
}
