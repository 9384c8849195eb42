package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Sentinel errors for the store taxonomy. Callers branch with errors.Is.
var (
	// ErrNotFound is returned when a sequence, recipient or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a state change is attempted
	// from a status that does not permit it (e.g. resending a sent job).
	ErrInvalidTransition = errors.New("invalid state transition")
)

const jobColumns = `id, sequence_id, recipient_id, scheduled_at, sent_at, status, error_message, created_at, updated_at`

// Store handles all database access for sequences, recipients and
// dispatch jobs. Every mutation is a single conditional statement so
// that concurrent loop invocations and operator actions cannot race.
type Store struct {
	db     *DB
	logger *zap.Logger
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(db *DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// ClaimDueJobs atomically claims up to limit pending jobs whose
// scheduled_at has passed, flips them to processing and returns them in
// ascending scheduled_at order. SKIP LOCKED makes the claim safe across
// overlapping loop invocations: two concurrent callers can never both
// take the same job.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*DispatchJob, error) {
	rows, err := s.db.Pool().Query(ctx, `
		WITH claimed AS (
			UPDATE dispatch_jobs
			SET status = 'processing', updated_at = NOW()
			WHERE id IN (
				SELECT id FROM dispatch_jobs
				WHERE status = 'pending' AND scheduled_at <= $1
				ORDER BY scheduled_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed ORDER BY scheduled_at ASC`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// RequeueStale returns claimed jobs that were never resolved (a previous
// process died mid-batch) to pending so the next invocation retries them.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < NOW() - $1::interval`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Warn("requeued abandoned claims", zap.Int64("count", n))
		return n, nil
	}
	return 0, nil
}

// GetSequence retrieves a sequence template by ID.
func (s *Store) GetSequence(ctx context.Context, id uuid.UUID) (*Sequence, error) {
	var seq Sequence
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, offer_id, name, channel, day_offset, subject, message_body,
		       quiet_hour_start, quiet_hour_end, enabled, created_at, updated_at
		FROM sequences
		WHERE id = $1`,
		id,
	).Scan(
		&seq.ID,
		&seq.OfferID,
		&seq.Name,
		&seq.Channel,
		&seq.DayOffset,
		&seq.Subject,
		&seq.MessageBody,
		&seq.QuietHourStart,
		&seq.QuietHourEnd,
		&seq.Enabled,
		&seq.CreatedAt,
		&seq.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sequence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query sequence: %w", err)
	}
	return &seq, nil
}

// CreateSequence inserts a new sequence template.
func (s *Store) CreateSequence(ctx context.Context, seq *Sequence) error {
	err := s.db.Pool().QueryRow(ctx, `
		INSERT INTO sequences (
			id, offer_id, name, channel, day_offset, subject, message_body,
			quiet_hour_start, quiet_hour_end, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		seq.ID,
		seq.OfferID,
		seq.Name,
		seq.Channel,
		seq.DayOffset,
		seq.Subject,
		seq.MessageBody,
		seq.QuietHourStart,
		seq.QuietHourEnd,
		seq.Enabled,
	).Scan(&seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}

	s.logger.Info("sequence created",
		zap.String("sequence_id", seq.ID.String()),
		zap.String("channel", seq.Channel),
		zap.Int("day_offset", seq.DayOffset),
	)
	return nil
}

// GetRecipient retrieves a recipient by ID.
func (s *Store) GetRecipient(ctx context.Context, id uuid.UUID) (*Recipient, error) {
	var rec Recipient
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, offer_id, name, email, phone, created_at
		FROM recipients
		WHERE id = $1`,
		id,
	).Scan(
		&rec.ID,
		&rec.OfferID,
		&rec.Name,
		&rec.Email,
		&rec.Phone,
		&rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("recipient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query recipient: %w", err)
	}
	return &rec, nil
}

// CreateRecipient inserts a new recipient.
func (s *Store) CreateRecipient(ctx context.Context, rec *Recipient) error {
	err := s.db.Pool().QueryRow(ctx, `
		INSERT INTO recipients (id, offer_id, name, email, phone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		rec.ID,
		rec.OfferID,
		rec.Name,
		rec.Email,
		rec.Phone,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

// CreateJob inserts a new dispatch job. scheduled_at comes from the
// enrollment collaborator; the engine never recomputes it.
func (s *Store) CreateJob(ctx context.Context, job *DispatchJob) error {
	err := s.db.Pool().QueryRow(ctx, `
		INSERT INTO dispatch_jobs (id, sequence_id, recipient_id, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		job.ID,
		job.SequenceID,
		job.RecipientID,
		job.ScheduledAt,
		job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert dispatch job: %w", err)
	}

	s.logger.Info("dispatch job created",
		zap.String("job_id", job.ID.String()),
		zap.String("sequence_id", job.SequenceID.String()),
		zap.Time("scheduled_at", job.ScheduledAt),
	)
	return nil
}

// GetJob retrieves a dispatch job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*DispatchJob, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

// JobFilter narrows ListJobs. Zero values mean "no filter".
type JobFilter struct {
	Status     string
	SequenceID uuid.UUID
	Limit      int
	Offset     int
}

// ListJobs retrieves dispatch jobs for the admin surface, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*DispatchJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM dispatch_jobs WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.SequenceID != uuid.Nil {
		args = append(args, filter.SequenceID)
		query += fmt.Sprintf(" AND sequence_id = $%d", len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY scheduled_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Reschedule advances a job's scheduled_at, used for quiet-hour pushes.
// Only legal while the job is pending or claimed by the current
// invocation; a terminal job is never rescheduled.
func (s *Store) Reschedule(ctx context.Context, jobID uuid.UUID, newScheduledAt time.Time) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'pending', scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		jobID, newScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID)
	}
	return nil
}

// MarkTerminal records the outcome of a delivery attempt. status must be
// sent or failed; sent_at is stamped in the same statement so the
// "sent_at iff terminal" invariant can never be observed half-applied.
func (s *Store) MarkTerminal(ctx context.Context, jobID uuid.UUID, status string, errorMessage *string) error {
	if status != StatusSent && status != StatusFailed {
		return fmt.Errorf("mark terminal with status %q: %w", status, ErrInvalidTransition)
	}

	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE dispatch_jobs
		SET status = $2, sent_at = NOW(), error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		jobID, status, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("mark job terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID)
	}
	return nil
}

// MarkSkipped retires a job whose sequence is disabled. No send was
// attempted, so sent_at stays null.
func (s *Store) MarkSkipped(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'skipped', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark job skipped: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID)
	}
	return nil
}

// ReopenForResend re-arms a failed job for immediate dispatch. Only
// legal from failed: a sent or in-flight job must never be resent.
func (s *Store) ReopenForResend(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE dispatch_jobs
		SET status = 'pending', scheduled_at = NOW(), sent_at = NULL,
		    error_message = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("reopen job for resend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID)
	}

	s.logger.Info("job reopened for resend", zap.String("job_id", jobID.String()))
	return nil
}

// transitionError distinguishes "no such job" from "job exists but its
// status forbids the transition" after a guarded update touched no rows.
func (s *Store) transitionError(ctx context.Context, jobID uuid.UUID) error {
	var status string
	err := s.db.Pool().QueryRow(ctx,
		`SELECT status FROM dispatch_jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query job status: %w", err)
	}
	return fmt.Errorf("job %s is %s: %w", jobID, status, ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*DispatchJob, error) {
	var job DispatchJob
	err := row.Scan(
		&job.ID,
		&job.SequenceID,
		&job.RecipientID,
		&job.ScheduledAt,
		&job.SentAt,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*DispatchJob, error) {
	var jobs []*DispatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return jobs, nil
}
