package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/sender"
)

// ProtectedSender wraps a channel sender with a CircuitBreaker. When
// the provider starts failing, sends fail fast instead of piling up
// against its API; the dispatch loop records those as failed outcomes
// like any other rejection.
type ProtectedSender struct {
	sender  sender.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(s sender.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  s,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts the delivery through the circuit breaker.
func (p *ProtectedSender) Send(ctx context.Context, d *sender.Delivery) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("job_id", d.JobID.String()),
			zap.String("channel", d.Channel),
		)
		return fmt.Errorf("%w: %s channel unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.sender.Send(ctx, d)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel string) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
