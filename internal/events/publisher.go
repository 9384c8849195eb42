// Package events publishes terminal dispatch outcomes to an SQS feed
// consumed by downstream analytics. The feed is optional; the engine
// works identically without it.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Config holds the outcome feed settings.
type Config struct {
	Region   string
	QueueURL string
}

// Outcome describes one terminal job transition.
type Outcome struct {
	JobID       string `json:"job_id"`
	SequenceID  string `json:"sequence_id"`
	RecipientID string `json:"recipient_id"`
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	OccurredAt  int64  `json:"occurred_at"`
}

type sqsAPI interface {
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends outcome events to SQS.
type Publisher struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

// NewPublisher creates an SQS-backed outcome publisher.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	logger.Info("outcome event publisher initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Publisher{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Publish sends one outcome event. Returns the SQS message ID.
func (p *Publisher) Publish(ctx context.Context, outcome Outcome) (string, error) {
	body, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("marshal outcome: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("outcome event published",
		zap.String("job_id", outcome.JobID),
		zap.String("status", outcome.Status),
		zap.String("sqs_message_id", aws.ToString(result.MessageId)),
	)
	return aws.ToString(result.MessageId), nil
}
