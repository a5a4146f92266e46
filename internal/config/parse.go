package config

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/savaki/graffiti-monkey/internal/errors"
)

// ReservedTagPrefix marks tag keys owned by AWS that cannot be written.
const ReservedTagPrefix = "aws:"

// Tag is a literal key/value pair applied to volumes or snapshots.
type Tag struct {
	Key   string
	Value string
}

// ParseTagPairs parses entries of the form key=value. A bare key sets an
// empty value. Only the first '=' separates key from value.
func ParseTagPairs(items []string) ([]Tag, error) {
	tags := make([]Tag, 0, len(items))
	for _, item := range items {
		key, value, _ := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: %q has no key", errors.ErrInvalidTagPair, item)
		}
		if strings.HasPrefix(key, ReservedTagPrefix) {
			return nil, fmt.Errorf("%w: %q", errors.ErrReservedTagKey, key)
		}
		tags = append(tags, Tag{Key: key, Value: strings.TrimSpace(value)})
	}
	return tags, nil
}

// ParseFilters converts entries like "tag:Monkey=yes" or
// "instance-state-name=running" into EC2 filters. Entries sharing a name are
// merged into one filter with several values, which EC2 treats as OR.
func ParseFilters(items []string) ([]ec2types.Filter, error) {
	var (
		filters []ec2types.Filter
		index   = map[string]int{}
	)
	for _, item := range items {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("%w: %q, expected format: {name}={value}", errors.ErrInvalidFilter, item)
		}

		if i, found := index[name]; found {
			filters[i].Values = append(filters[i].Values, value)
			continue
		}
		index[name] = len(filters)
		filters = append(filters, ec2types.Filter{
			Name:   aws.String(name),
			Values: []string{value},
		})
	}
	return filters, nil
}
