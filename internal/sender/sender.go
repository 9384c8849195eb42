package sender

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when a channel's provider credentials are
// missing. The sender must fail without attempting any provider call.
var ErrNotConfigured = errors.New("channel not configured")

// Delivery is one rendered message handed to a channel sender. The
// dispatch loop fills it from the sequence template and the recipient;
// senders never touch the database.
type Delivery struct {
	JobID   uuid.UUID
	Channel string
	To      string // email address (email channel)
	Phone   string // phone number (sms channel)
	Subject string
	Body    string
}

// Sender is the polymorphic channel capability.
// Implementations: Email (SES), SMS (signed HTTP gateway or SNS).
// Every failure mode surfaces through the returned error; senders never
// panic and never retry on their own.
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
	SupportsChannel(channel string) bool
}

// Router forwards each delivery to the first sender that supports its
// channel. Adding a channel means adding a Sender implementation, not
// another switch branch in the dispatch loop.
type Router struct {
	senders []Sender
	logger  *zap.Logger
}

// NewRouter creates a channel router over the given senders.
func NewRouter(logger *zap.Logger, senders ...Sender) *Router {
	return &Router{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the sender matching its channel.
func (r *Router) Send(ctx context.Context, d *Delivery) error {
	for _, s := range r.senders {
		if s.SupportsChannel(d.Channel) {
			r.logger.Debug("routing delivery",
				zap.String("channel", d.Channel),
				zap.String("job_id", d.JobID.String()),
			)
			return s.Send(ctx, d)
		}
	}
	return fmt.Errorf("unknown channel: %s", d.Channel)
}

// SupportsChannel reports whether any underlying sender handles channel.
func (r *Router) SupportsChannel(channel string) bool {
	for _, s := range r.senders {
		if s.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them; the development
// fallback when no provider is configured.
type LogSender struct {
	channel string
	logger  *zap.Logger
}

// NewLogSender creates a log-only sender for the given channel.
func NewLogSender(channel string, logger *zap.Logger) *LogSender {
	return &LogSender{channel: channel, logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d *Delivery) error {
	s.logger.Info("delivery logged (development mode)",
		zap.String("job_id", d.JobID.String()),
		zap.String("channel", d.Channel),
		zap.String("to", d.To),
		zap.String("phone", d.Phone),
		zap.String("subject", d.Subject),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	return channel == s.channel
}
