// Package config builds the run configuration for a single graffiti monkey
// invocation from a key/value source such as the process environment.
package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Configuration keys. The names double as environment variable names.
const (
	KeyRegion                  = "REGION"
	KeyInstanceTagsToPropagate = "INSTANCE_TAGS_TO_PROPAGATE"
	KeyVolumeTagsToPropagate   = "VOLUME_TAGS_TO_PROPAGATE"
	KeyVolumeTagsToBeSet       = "VOLUME_TAGS_TO_BE_SET"
	KeySnapshotTagsToBeSet     = "SNAPSHOT_TAGS_TO_BE_SET"
	KeyInstanceFilter          = "INSTANCE_FILTER"
	KeySNSArn                  = "SNS_ARN"
	KeyDryRun                  = "DRY_RUN"
	KeyAssumeRoleARN           = "ASSUME_ROLE_ARN"
)

// RequiredKeys lists the keys every invocation must provide, in the order
// they are reported when missing.
var RequiredKeys = []string{
	KeyRegion,
	KeyInstanceTagsToPropagate,
	KeyVolumeTagsToPropagate,
	KeyVolumeTagsToBeSet,
	KeySnapshotTagsToBeSet,
	KeyInstanceFilter,
}

// Source resolves a configuration key. ok is false when the key is not set.
type Source interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// Refresher is implemented by sources that cache values. Load calls Refresh
// first so every invocation sees current values.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RunConfig is the configuration of one invocation. It is rebuilt on every
// invocation and shared by all regions of that invocation.
type RunConfig struct {
	Regions                 []string `json:"regions"`
	InstanceTagsToPropagate []string `json:"instance_tags_to_propagate"`
	VolumeTagsToPropagate   []string `json:"volume_tags_to_propagate"`
	VolumeTagsToBeSet       []string `json:"volume_tags_to_be_set"`
	SnapshotTagsToBeSet     []string `json:"snapshot_tags_to_be_set"`
	InstanceFilter          []string `json:"instance_filter"`

	// NotificationTopic is the SNS topic ARN; empty disables notification.
	NotificationTopic string `json:"notification_topic,omitempty"`
	DryRun            bool   `json:"dry_run"`

	// AssumeRoleARN is the role EC2 calls are made with; empty uses the
	// function's own credentials.
	AssumeRoleARN string `json:"assume_role_arn,omitempty"`
}

// MissingKeysError reports every required key that was absent or empty.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	quoted := make([]string, len(e.Keys))
	for i, key := range e.Keys {
		quoted[i] = "'" + key + "'"
	}
	return "Environment variable not set: " + strings.Join(quoted, ", ")
}

// Load reads and validates the full run configuration before any work starts.
//
// When required keys are missing, Load returns a *MissingKeysError together
// with a config holding every value that was present, so callers can still
// report the failure to the notification topic.
func Load(ctx context.Context, source Source) (*RunConfig, error) {
	cfg := &RunConfig{}

	if r, ok := source.(Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return cfg, fmt.Errorf("failed to refresh configuration: %w", err)
		}
	}

	topic, _, err := source.Lookup(ctx, KeySNSArn)
	if err != nil {
		return cfg, fmt.Errorf("failed to read %s: %w", KeySNSArn, err)
	}
	cfg.NotificationTopic = strings.TrimSpace(topic)

	roleARN, _, err := source.Lookup(ctx, KeyAssumeRoleARN)
	if err != nil {
		return cfg, fmt.Errorf("failed to read %s: %w", KeyAssumeRoleARN, err)
	}
	cfg.AssumeRoleARN = strings.TrimSpace(roleARN)

	dryRun, ok, err := source.Lookup(ctx, KeyDryRun)
	if err != nil {
		return cfg, fmt.Errorf("failed to read %s: %w", KeyDryRun, err)
	}
	if ok && strings.TrimSpace(dryRun) != "" {
		cfg.DryRun, err = strconv.ParseBool(strings.TrimSpace(dryRun))
		if err != nil {
			return cfg, fmt.Errorf("invalid %s value %q: %w", KeyDryRun, dryRun, err)
		}
	}

	targets := map[string]*[]string{
		KeyRegion:                  &cfg.Regions,
		KeyInstanceTagsToPropagate: &cfg.InstanceTagsToPropagate,
		KeyVolumeTagsToPropagate:   &cfg.VolumeTagsToPropagate,
		KeyVolumeTagsToBeSet:       &cfg.VolumeTagsToBeSet,
		KeySnapshotTagsToBeSet:     &cfg.SnapshotTagsToBeSet,
		KeyInstanceFilter:          &cfg.InstanceFilter,
	}

	var missing []string
	for _, key := range RequiredKeys {
		value, ok, err := source.Lookup(ctx, key)
		if err != nil {
			return cfg, fmt.Errorf("failed to read %s: %w", key, err)
		}
		items := SplitList(value)
		if !ok || len(items) == 0 {
			missing = append(missing, key)
			continue
		}
		*targets[key] = items
	}

	if len(missing) > 0 {
		return cfg, &MissingKeysError{Keys: missing}
	}
	return cfg, nil
}

// SplitList splits a comma separated value, trimming whitespace and dropping
// empty items while preserving order.
func SplitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// MapSource is a Source backed by a fixed map.
type MapSource map[string]string

func (m MapSource) Lookup(_ context.Context, key string) (string, bool, error) {
	value, ok := m[key]
	return value, ok, nil
}

// Overlay is a Source whose Values take precedence over Base.
type Overlay struct {
	Base   Source
	Values MapSource
}

func (o Overlay) Lookup(ctx context.Context, key string) (string, bool, error) {
	if value, ok := o.Values[key]; ok {
		return value, true, nil
	}
	return o.Base.Lookup(ctx, key)
}

// Refresh refreshes Base when it supports it
func (o Overlay) Refresh(ctx context.Context) error {
	if r, ok := o.Base.(Refresher); ok {
		return r.Refresh(ctx)
	}
	return nil
}
