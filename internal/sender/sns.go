package sender

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/db"
)

type snsAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSMSSender delivers SMS via AWS SNS direct publish. Alternate SMS
// provider, selected with SMS_PROVIDER=sns for deployments that would
// rather not run credentials for a standalone gateway.
type SNSSMSSender struct {
	client snsAPI
	logger *zap.Logger
}

// SNSConfig holds the SNS provider settings.
type SNSConfig struct {
	Region string
}

// NewSNSSMSSender creates an SNS-backed SMS sender.
func NewSNSSMSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSMSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &SNSSMSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send publishes one SMS. SNS returns a message ID on acceptance; its
// absence is treated as a provider failure.
func (s *SNSSMSSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelSMS {
		return fmt.Errorf("sns sender got channel %s", d.Channel)
	}
	if d.Phone == "" {
		return fmt.Errorf("delivery missing recipient phone number")
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(d.Phone),
		Message:     aws.String(d.Body),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}
	if result.MessageId == nil || *result.MessageId == "" {
		return fmt.Errorf("sns response missing message id")
	}

	s.logger.Info("sms accepted by sns",
		zap.String("job_id", d.JobID.String()),
		zap.String("phone", d.Phone),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

// SupportsChannel reports whether this sender handles the sms channel.
func (s *SNSSMSSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}
