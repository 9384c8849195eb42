package db

import (
	"time"

	"github.com/google/uuid"
)

// Sequence is a drip-message template bound to an offer, a day offset,
// a channel and a quiet-hour window. The dispatch engine treats it as
// read-only; operators create and edit it through the API.
type Sequence struct {
	ID             uuid.UUID `json:"id"`
	OfferID        uuid.UUID `json:"offer_id"`
	Name           string    `json:"name"`
	Channel        string    `json:"channel"`
	DayOffset      int       `json:"day_offset"`
	Subject        *string   `json:"subject,omitempty"`
	MessageBody    string    `json:"message_body"`
	QuietHourStart int       `json:"quiet_hour_start"`
	QuietHourEnd   int       `json:"quiet_hour_end"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Recipient is a lead enrolled into an offer. Immutable once created.
type Recipient struct {
	ID        uuid.UUID `json:"id"`
	OfferID   uuid.UUID `json:"offer_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// DispatchJob is one scheduled delivery for one recipient/sequence pair.
// The same row transitions through the state machine; it is never
// re-created on resend.
type DispatchJob struct {
	ID           uuid.UUID  `json:"id"`
	SequenceID   uuid.UUID  `json:"sequence_id"`
	RecipientID  uuid.UUID  `json:"recipient_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Status constants. StatusProcessing is the claim marker: a job a loop
// invocation has taken but not yet resolved. sent_at is non-null iff the
// status is sent or failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// Channel constants
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// ValidChannel reports whether ch is a channel the engine can dispatch.
func ValidChannel(ch string) bool {
	return ch == ChannelEmail || ch == ChannelSMS
}
