package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/db"
)

// sesAPI is the slice of the SES client the email sender uses.
type sesAPI interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// EmailSender delivers email sequences via AWS SES. Provider acceptance
// counts as success; delivery confirmation is out of scope.
type EmailSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

// EmailConfig holds the outbound email provider settings.
type EmailConfig struct {
	Region    string
	FromEmail string
}

// NewEmailSender creates an SES-backed email sender.
func NewEmailSender(ctx context.Context, cfg EmailConfig, logger *zap.Logger) (*EmailSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &EmailSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers one rendered email. Line breaks in the body are rendered
// to <br> because SES carries the body as HTML markup.
func (s *EmailSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelEmail {
		return fmt.Errorf("email sender got channel %s", d.Channel)
	}
	if s.from == "" {
		return fmt.Errorf("email: %w", ErrNotConfigured)
	}
	if d.To == "" {
		return fmt.Errorf("delivery missing recipient email address")
	}

	html := strings.ReplaceAll(d.Body, "\n", "<br>")

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{d.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(d.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(html),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email accepted by provider",
		zap.String("job_id", d.JobID.String()),
		zap.String("to", d.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// SupportsChannel reports whether this sender handles the email channel.
func (s *EmailSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}
