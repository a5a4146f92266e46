package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

// SNSAPI is the subset of the SNS client used by SNSNotifier
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes run status messages to an SNS topic
type SNSNotifier struct {
	client SNSAPI
}

// NewSNSNotifier creates a notifier backed by the given SNS client
func NewSNSNotifier(client SNSAPI) *SNSNotifier {
	return &SNSNotifier{client: client}
}

// Notify publishes message with subject to topicArn. The request is sent to
// the topic's own region, which may differ from the client's.
func (n *SNSNotifier) Notify(ctx context.Context, topicArn, subject, message string) error {
	logger := zerolog.Ctx(ctx)

	var optFns []func(*sns.Options)
	if parsed, err := arn.Parse(topicArn); err == nil && parsed.Region != "" {
		optFns = append(optFns, func(o *sns.Options) {
			o.Region = parsed.Region
		})
	}

	output, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	}, optFns...)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topicArn, err)
	}

	logger.Info().
		Str("topic_arn", topicArn).
		Str("subject", subject).
		Str("message_id", aws.ToString(output.MessageId)).
		Msg("Published notification")
	return nil
}
