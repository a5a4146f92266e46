// Package graffiti propagates tags from EC2 instances to their attached EBS
// volumes, and from those volumes to their snapshots.
package graffiti

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
	"github.com/savaki/graffiti-monkey/internal/config"
)

// EC2 accepts at most 200 values per filter.
const filterBatchSize = 200

// Tags added to every volume attached to a selected instance.
const (
	TagInstanceID = "instance_id"
	TagDevice     = "device"
)

// Options controls one propagation run. It is identical for every region of
// an invocation.
type Options struct {
	InstanceTagsToPropagate []string
	VolumeTagsToPropagate   []string
	VolumeTagsToBeSet       []config.Tag
	SnapshotTagsToBeSet     []config.Tag
	InstanceFilters         []ec2types.Filter
	DryRun                  bool

	// RoleARN is assumed for every EC2 call when set
	RoleARN string
}

// NewOptions parses the tag pairs and instance filters of cfg.
func NewOptions(cfg *config.RunConfig) (Options, error) {
	volumeTags, err := config.ParseTagPairs(cfg.VolumeTagsToBeSet)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", config.KeyVolumeTagsToBeSet, err)
	}
	snapshotTags, err := config.ParseTagPairs(cfg.SnapshotTagsToBeSet)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", config.KeySnapshotTagsToBeSet, err)
	}
	filters, err := config.ParseFilters(cfg.InstanceFilter)
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", config.KeyInstanceFilter, err)
	}

	return Options{
		InstanceTagsToPropagate: cfg.InstanceTagsToPropagate,
		VolumeTagsToPropagate:   cfg.VolumeTagsToPropagate,
		VolumeTagsToBeSet:       volumeTags,
		SnapshotTagsToBeSet:     snapshotTags,
		InstanceFilters:         filters,
		DryRun:                  cfg.DryRun,
		RoleARN:                 cfg.AssumeRoleARN,
	}, nil
}

// Stats summarizes the work done in one region
type Stats struct {
	Instances       int `json:"instances"`
	Volumes         int `json:"volumes"`
	VolumesTagged   int `json:"volumes_tagged"`
	Snapshots       int `json:"snapshots"`
	SnapshotsTagged int `json:"snapshots_tagged"`
}

// Propagator runs tag propagation one region at a time
type Propagator struct {
	factory ClientFactory
}

// NewPropagator creates a Propagator using factory for regional EC2 clients
func NewPropagator(factory ClientFactory) *Propagator {
	return &Propagator{factory: factory}
}

// Propagate copies instance tags to attached volumes and volume tags to
// snapshots in region. Only tags whose value changes are written.
func (p *Propagator) Propagate(ctx context.Context, region string, opts Options) (Stats, error) {
	logger := zerolog.Ctx(ctx).With().Str("region", region).Logger()
	ctx = logger.WithContext(ctx)

	var stats Stats

	client, err := p.factory.Client(ctx, region, opts.RoleARN)
	if err != nil {
		return stats, fmt.Errorf("failed to create EC2 client for %s: %w", region, err)
	}

	instances, err := listInstances(ctx, client, opts.InstanceFilters)
	if err != nil {
		return stats, err
	}
	stats.Instances = len(instances)
	if len(instances) == 0 {
		logger.Info().Msg("No instances matched the instance filter")
		return stats, nil
	}

	volumes, err := listVolumes(ctx, client, slices.Sorted(maps.Keys(instances)))
	if err != nil {
		return stats, err
	}

	// volume id -> tags after this run's writes
	volumeTags := make(map[string]map[string]string, len(volumes))
	for _, volume := range volumes {
		volumeID := aws.ToString(volume.VolumeId)
		if _, seen := volumeTags[volumeID]; seen {
			continue // multi-attach volumes can appear in more than one batch
		}
		attachment, ok := findAttachment(volume, instances)
		if !ok {
			continue
		}
		stats.Volumes++

		current := tagMap(volume.Tags)
		desired := volumeDesiredTags(instances[aws.ToString(attachment.InstanceId)], attachment, opts)
		changes := diffTags(current, desired)
		if len(changes) > 0 {
			if err := writeTags(ctx, client, volumeID, changes, opts.DryRun); err != nil {
				return stats, err
			}
			stats.VolumesTagged++
		}

		maps.Copy(current, changes)
		volumeTags[volumeID] = current
	}

	if len(volumeTags) > 0 {
		snapshots, err := listSnapshots(ctx, client, slices.Sorted(maps.Keys(volumeTags)))
		if err != nil {
			return stats, err
		}

		for _, snapshot := range snapshots {
			source, ok := volumeTags[aws.ToString(snapshot.VolumeId)]
			if !ok {
				continue
			}
			stats.Snapshots++

			desired := snapshotDesiredTags(source, opts)
			changes := diffTags(tagMap(snapshot.Tags), desired)
			if len(changes) == 0 {
				continue
			}
			if err := writeTags(ctx, client, aws.ToString(snapshot.SnapshotId), changes, opts.DryRun); err != nil {
				return stats, err
			}
			stats.SnapshotsTagged++
		}
	}

	logger.Info().
		Int("instances", stats.Instances).
		Int("volumes", stats.Volumes).
		Int("volumes_tagged", stats.VolumesTagged).
		Int("snapshots", stats.Snapshots).
		Int("snapshots_tagged", stats.SnapshotsTagged).
		Bool("dry_run", opts.DryRun).
		Msg("Tag propagation finished")

	return stats, nil
}

func listInstances(ctx context.Context, client EC2API, filters []ec2types.Filter) (map[string]map[string]string, error) {
	instances := map[string]map[string]string{}
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		Filters: filters,
	})

	for paginator.HasMorePages() {
		output, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances: %w", err)
		}
		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				instances[aws.ToString(instance.InstanceId)] = tagMap(instance.Tags)
			}
		}
	}

	return instances, nil
}

func listVolumes(ctx context.Context, client EC2API, instanceIDs []string) ([]ec2types.Volume, error) {
	var volumes []ec2types.Volume
	for batch := range slices.Chunk(instanceIDs, filterBatchSize) {
		paginator := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("attachment.instance-id"), Values: batch},
			},
		})
		for paginator.HasMorePages() {
			output, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to describe volumes: %w", err)
			}
			volumes = append(volumes, output.Volumes...)
		}
	}
	return volumes, nil
}

func listSnapshots(ctx context.Context, client EC2API, volumeIDs []string) ([]ec2types.Snapshot, error) {
	var snapshots []ec2types.Snapshot
	for batch := range slices.Chunk(volumeIDs, filterBatchSize) {
		paginator := ec2.NewDescribeSnapshotsPaginator(client, &ec2.DescribeSnapshotsInput{
			OwnerIds: []string{"self"},
			Filters: []ec2types.Filter{
				{Name: aws.String("volume-id"), Values: batch},
			},
		})
		for paginator.HasMorePages() {
			output, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to describe snapshots: %w", err)
			}
			snapshots = append(snapshots, output.Snapshots...)
		}
	}
	return snapshots, nil
}

// findAttachment returns the first attachment of volume to a selected instance
func findAttachment(volume ec2types.Volume, instances map[string]map[string]string) (ec2types.VolumeAttachment, bool) {
	for _, attachment := range volume.Attachments {
		if _, ok := instances[aws.ToString(attachment.InstanceId)]; ok {
			return attachment, true
		}
	}
	return ec2types.VolumeAttachment{}, false
}

func volumeDesiredTags(instanceTags map[string]string, attachment ec2types.VolumeAttachment, opts Options) map[string]string {
	desired := map[string]string{}
	for _, key := range opts.InstanceTagsToPropagate {
		if value, ok := instanceTags[key]; ok {
			desired[key] = value
		}
	}
	desired[TagInstanceID] = aws.ToString(attachment.InstanceId)
	desired[TagDevice] = aws.ToString(attachment.Device)
	for _, tag := range opts.VolumeTagsToBeSet {
		desired[tag.Key] = tag.Value
	}
	return desired
}

func snapshotDesiredTags(volumeTags map[string]string, opts Options) map[string]string {
	desired := map[string]string{}
	for _, key := range opts.VolumeTagsToPropagate {
		if value, ok := volumeTags[key]; ok {
			desired[key] = value
		}
	}
	for _, tag := range opts.SnapshotTagsToBeSet {
		desired[tag.Key] = tag.Value
	}
	return desired
}

// diffTags returns the entries of desired missing from, or different in,
// current. Reserved aws: keys are never returned.
func diffTags(current, desired map[string]string) map[string]string {
	changes := map[string]string{}
	for key, value := range desired {
		if strings.HasPrefix(key, config.ReservedTagPrefix) {
			continue
		}
		if existing, ok := current[key]; ok && existing == value {
			continue
		}
		changes[key] = value
	}
	return changes
}

func writeTags(ctx context.Context, client EC2API, resourceID string, changes map[string]string, dryRun bool) error {
	logger := zerolog.Ctx(ctx)

	tags := make([]ec2types.Tag, 0, len(changes))
	for _, key := range slices.Sorted(maps.Keys(changes)) {
		tags = append(tags, ec2types.Tag{Key: aws.String(key), Value: aws.String(changes[key])})
	}

	if dryRun {
		logger.Info().
			Str("resource_id", resourceID).
			Interface("tags", changes).
			Msg("Dry run: would create tags")
		return nil
	}

	if _, err := client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      tags,
	}); err != nil {
		return fmt.Errorf("failed to tag %s: %w", resourceID, err)
	}

	logger.Debug().
		Str("resource_id", resourceID).
		Interface("tags", changes).
		Msg("Created tags")
	return nil
}

func tagMap(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return m
}
