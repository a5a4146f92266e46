// Package monkey runs one graffiti monkey invocation: it loads the run
// configuration, propagates tags region by region and reports the outcome to
// an optional notification topic.
package monkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/savaki/graffiti-monkey/internal/config"
	"github.com/savaki/graffiti-monkey/internal/graffiti"
	"github.com/segmentio/ksuid"
)

const (
	SuccessMessage = "Graffiti Monkey completed successfully!"
	SuccessSubject = "Graffiti Monkey completed successfully"
	FailureSubject = "Error running Graffiti Monkey"

	// AllRegions labels failures detected before any region was processed.
	AllRegions = "all regions"
)

// Propagator performs tag propagation for a single region
type Propagator interface {
	Propagate(ctx context.Context, region string, opts graffiti.Options) (graffiti.Stats, error)
}

// Notifier delivers a status message to a topic
type Notifier interface {
	Notify(ctx context.Context, topic, subject, message string) error
}

// RegionResult records a region that completed propagation
type RegionResult struct {
	Region string         `json:"region"`
	Stats  graffiti.Stats `json:"stats"`
}

// Failure records the region being processed when the run stopped
type Failure struct {
	Region  string `json:"region"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Result is the outcome of Run. Failure is nil when every region completed.
type Result struct {
	RunID     string         `json:"run_id"`
	Completed []RegionResult `json:"completed"`
	Failure   *Failure       `json:"failure,omitempty"`
}

// Err returns the error that stopped the run, if any
func (r *Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure.Err
}

// Runner orchestrates an invocation. Regions are processed sequentially in
// configuration order and the first failure ends the run.
type Runner struct {
	source     config.Source
	propagator Propagator
	notifier   Notifier
}

// NewRunner creates a Runner
func NewRunner(source config.Source, propagator Propagator, notifier Notifier) *Runner {
	return &Runner{
		source:     source,
		propagator: propagator,
		notifier:   notifier,
	}
}

// Run executes one invocation. Configuration is read fresh on every call.
func (r *Runner) Run(ctx context.Context) *Result {
	result := &Result{RunID: ksuid.New().String()}

	logger := zerolog.Ctx(ctx).With().Str("run_id", result.RunID).Logger()
	ctx = logger.WithContext(ctx)

	logger.Info().Msg("Loading function")

	cfg, err := config.Load(ctx, r.source)
	if err != nil {
		r.fail(ctx, result, cfg, AllRegions, err)
		return result
	}

	opts, err := graffiti.NewOptions(cfg)
	if err != nil {
		r.fail(ctx, result, cfg, AllRegions, err)
		return result
	}

	logger.Info().
		Strs("regions", cfg.Regions).
		Bool("notify", cfg.NotificationTopic != "").
		Bool("dry_run", cfg.DryRun).
		Msg("Starting tag propagation")

	for _, region := range cfg.Regions {
		stats, err := r.propagator.Propagate(ctx, region, opts)
		if err != nil {
			r.fail(ctx, result, cfg, region, err)
			return result
		}

		if cfg.NotificationTopic != "" {
			message := "Graffiti Monkey completed successfully in " + region + "."
			if err := r.notifier.Notify(ctx, cfg.NotificationTopic, SuccessSubject, message); err != nil {
				r.fail(ctx, result, cfg, region, err)
				return result
			}
		}

		result.Completed = append(result.Completed, RegionResult{Region: region, Stats: stats})
	}

	logger.Info().
		Int("regions", len(result.Completed)).
		Msg(SuccessMessage)
	return result
}

// fail logs err, publishes a failure notification when a topic is configured
// and records the failure on result. A notification error is logged only; the
// original error is the one reported.
func (r *Runner) fail(ctx context.Context, result *Result, cfg *config.RunConfig, region string, err error) {
	logger := zerolog.Ctx(ctx)

	message := ErrorMessage(err)
	logger.Error().
		Err(err).
		Str("region", region).
		Str("error_code", graffiti.ErrorCode(err)).
		Msg(message)

	result.Failure = &Failure{
		Region:  region,
		Message: message,
		Err:     err,
	}

	if cfg == nil || cfg.NotificationTopic == "" {
		return
	}

	body := "Error running Lambda Graffiti Monkey in " + region + ". Error Message: " + message
	if notifyErr := r.notifier.Notify(ctx, cfg.NotificationTopic, FailureSubject, body); notifyErr != nil {
		logger.Error().
			Err(notifyErr).
			Str("region", region).
			Msg("Failed to publish failure notification")
	}
}

// ErrorMessage renders err the way it appears in failure notifications
func ErrorMessage(err error) string {
	var missing *config.MissingKeysError
	if errors.As(err, &missing) {
		return "Error: " + missing.Error()
	}
	return fmt.Sprintf("Error: Graffiti Monkey encountered the following error: %v", err)
}
