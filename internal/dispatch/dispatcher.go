// Package dispatch implements the sequence dispatch loop: a timer-driven
// state machine that claims due jobs, applies quiet-hour suppression and
// hands eligible deliveries to the channel senders.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/db"
	"github.com/avelara/dripfeed/internal/events"
	"github.com/avelara/dripfeed/internal/metrics"
	"github.com/avelara/dripfeed/internal/quiet"
	"github.com/avelara/dripfeed/internal/sender"
)

// Store is the slice of the job store the dispatcher needs.
type Store interface {
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*db.DispatchJob, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
	GetSequence(ctx context.Context, id uuid.UUID) (*db.Sequence, error)
	GetRecipient(ctx context.Context, id uuid.UUID) (*db.Recipient, error)
	Reschedule(ctx context.Context, jobID uuid.UUID, newScheduledAt time.Time) error
	MarkTerminal(ctx context.Context, jobID uuid.UUID, status string, errorMessage *string) error
	MarkSkipped(ctx context.Context, jobID uuid.UUID) error
}

// Config holds the dispatch loop settings.
type Config struct {
	Interval    time.Duration  // time between loop invocations
	BatchSize   int            // max jobs claimed per invocation
	SendTimeout time.Duration  // upper bound per channel send
	StaleAfter  time.Duration  // claimed jobs older than this are requeued
	Location    *time.Location // timezone for quiet-hour evaluation
}

// Dispatcher runs the dispatch loop over the job store.
type Dispatcher struct {
	store  Store
	sender sender.Sender
	events *events.Publisher // nil when no outcome feed is configured
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Dispatcher. The sender is normally a Router over the
// configured channel senders.
func New(store Store, snd sender.Sender, pub *events.Publisher, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Dispatcher{
		store:  store,
		sender: snd,
		events: pub,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Start runs the loop until ctx is cancelled. RunOnce swallows its own
// errors, so a bad invocation can never take the ticker down with it.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.logger.Info("dispatch loop started",
		zap.Duration("interval", d.config.Interval),
		zap.Int("batch_size", d.config.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatch loop stopping")
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce processes one batch of due jobs. A store failure on the claim
// aborts the invocation with nothing mutated; the next tick is a clean
// retry. Per-job errors never abort the rest of the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	start := d.now()

	if _, err := d.store.RequeueStale(ctx, d.config.StaleAfter); err != nil {
		d.logger.Error("failed to requeue stale claims", zap.Error(err))
		// Not fatal; the claim below still only takes pending jobs.
	}

	jobs, err := d.store.ClaimDueJobs(ctx, start, d.config.BatchSize)
	if err != nil {
		d.logger.Error("failed to claim due jobs", zap.Error(err))
		return
	}
	if len(jobs) == 0 {
		return
	}

	d.logger.Info("claimed due jobs", zap.Int("count", len(jobs)))

	for _, job := range jobs {
		d.process(ctx, job)
	}

	metrics.ObserveBatchDuration(d.now().Sub(start))
}

// process walks one claimed job through the state machine.
func (d *Dispatcher) process(ctx context.Context, job *db.DispatchJob) {
	seq, err := d.store.GetSequence(ctx, job.SequenceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			d.fail(ctx, job, "", "Sequence not found")
			return
		}
		d.logger.Error("failed to resolve sequence",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
		)
		d.release(ctx, job)
		return
	}

	if !seq.Enabled {
		if err := d.store.MarkSkipped(ctx, job.ID); err != nil {
			d.logger.Error("failed to mark job skipped",
				zap.Error(err),
				zap.String("job_id", job.ID.String()),
			)
			return
		}
		metrics.RecordJobProcessed(db.StatusSkipped, seq.Channel)
		d.logger.Info("job skipped, sequence disabled",
			zap.String("job_id", job.ID.String()),
			zap.String("sequence_id", seq.ID.String()),
		)
		return
	}

	rec, err := d.store.GetRecipient(ctx, job.RecipientID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			d.fail(ctx, job, seq.Channel, "Recipient not found")
			return
		}
		d.logger.Error("failed to resolve recipient",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
		)
		d.release(ctx, job)
		return
	}

	localNow := d.now().In(d.config.Location)
	if quiet.Suppressed(localNow, seq.QuietHourStart, seq.QuietHourEnd) {
		next := quiet.NextEligible(localNow, seq.QuietHourStart, seq.QuietHourEnd)
		if err := d.store.Reschedule(ctx, job.ID, next); err != nil {
			d.logger.Error("failed to reschedule suppressed job",
				zap.Error(err),
				zap.String("job_id", job.ID.String()),
			)
			return
		}
		metrics.RecordQuietHourReschedule(seq.Channel)
		d.logger.Info("job inside quiet hours, rescheduled",
			zap.String("job_id", job.ID.String()),
			zap.Int("quiet_start", seq.QuietHourStart),
			zap.Int("quiet_end", seq.QuietHourEnd),
			zap.Time("next_eligible", next),
		)
		return
	}

	if !d.sender.SupportsChannel(seq.Channel) {
		d.fail(ctx, job, seq.Channel, "unknown channel: "+seq.Channel)
		return
	}

	delivery := &sender.Delivery{
		JobID:   job.ID,
		Channel: seq.Channel,
		To:      rec.Email,
		Phone:   rec.Phone,
		Body:    renderTokens(seq.MessageBody, rec),
	}
	if seq.Subject != nil {
		delivery.Subject = renderTokens(*seq.Subject, rec)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	err = d.sender.Send(sendCtx, delivery)
	cancel()

	if err != nil {
		d.fail(ctx, job, seq.Channel, err.Error())
		return
	}

	if err := d.store.MarkTerminal(ctx, job.ID, db.StatusSent, nil); err != nil {
		d.logger.Error("failed to mark job sent",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
		)
		return
	}
	metrics.RecordJobProcessed(db.StatusSent, seq.Channel)
	d.publish(ctx, job, seq.Channel, db.StatusSent, nil)

	d.logger.Info("job sent",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", seq.Channel),
	)
}

// fail records a terminal failure with a human-readable message.
func (d *Dispatcher) fail(ctx context.Context, job *db.DispatchJob, channel, message string) {
	if err := d.store.MarkTerminal(ctx, job.ID, db.StatusFailed, &message); err != nil {
		d.logger.Error("failed to mark job failed",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
			zap.String("cause", message),
		)
		return
	}
	metrics.RecordJobProcessed(db.StatusFailed, channel)
	d.publish(ctx, job, channel, db.StatusFailed, &message)

	d.logger.Warn("job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", channel),
		zap.String("error", message),
	)
}

// release returns a claimed job to pending after a transient store
// error, keeping its original schedule so the next tick retries it.
func (d *Dispatcher) release(ctx context.Context, job *db.DispatchJob) {
	if err := d.store.Reschedule(ctx, job.ID, job.ScheduledAt); err != nil {
		d.logger.Error("failed to release claimed job",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
		)
	}
}

// publish emits a terminal outcome to the event feed, if configured.
// Publish failures are logged and never affect job state.
func (d *Dispatcher) publish(ctx context.Context, job *db.DispatchJob, channel, status string, errMsg *string) {
	if d.events == nil {
		return
	}
	outcome := events.Outcome{
		JobID:       job.ID.String(),
		SequenceID:  job.SequenceID.String(),
		RecipientID: job.RecipientID.String(),
		Channel:     channel,
		Status:      status,
		OccurredAt:  d.now().Unix(),
	}
	if errMsg != nil {
		outcome.Error = *errMsg
	}
	if _, err := d.events.Publish(ctx, outcome); err != nil {
		d.logger.Warn("failed to publish outcome event",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
		)
	}
}
