package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/db"
	"github.com/avelara/dripfeed/internal/metrics"
)

// JobStore defines the store operations the API exposes.
type JobStore interface {
	CreateSequence(ctx context.Context, seq *db.Sequence) error
	GetSequence(ctx context.Context, id uuid.UUID) (*db.Sequence, error)
	CreateRecipient(ctx context.Context, rec *db.Recipient) error
	CreateJob(ctx context.Context, job *db.DispatchJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*db.DispatchJob, error)
	ListJobs(ctx context.Context, filter db.JobFilter) ([]*db.DispatchJob, error)
	ReopenForResend(ctx context.Context, jobID uuid.UUID) error
}

// SequenceRequest is the body for creating a sequence template.
type SequenceRequest struct {
	OfferID        string  `json:"offer_id"`
	Name           string  `json:"name"`
	Channel        string  `json:"channel"`
	DayOffset      int     `json:"day_offset"`
	Subject        *string `json:"subject,omitempty"`
	MessageBody    string  `json:"message_body"`
	QuietHourStart int     `json:"quiet_hour_start"`
	QuietHourEnd   int     `json:"quiet_hour_end"`
	Enabled        *bool   `json:"enabled,omitempty"`
}

// RecipientRequest is the body for enrolling a lead.
type RecipientRequest struct {
	OfferID string `json:"offer_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

// JobRequest is the body the enrollment collaborator posts when a
// recipient signs up for an offer with active sequences. scheduled_at
// is precomputed by the caller; the engine does not recompute it.
type JobRequest struct {
	SequenceID  string    `json:"sequence_id"`
	RecipientID string    `json:"recipient_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CreatedResponse is returned after creating any resource.
type CreatedResponse struct {
	ID string `json:"id"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	store  JobStore
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, store JobStore) *Handler {
	return &Handler{
		logger: logger,
		store:  store,
	}
}

// CreateSequence handles POST /v1/sequences
func (h *Handler) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var req SequenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offer_id", "offer_id must be a valid UUID")
		return
	}
	if req.Name == "" || req.MessageBody == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and message_body are required")
		return
	}
	if !db.ValidChannel(req.Channel) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be email or sms")
		return
	}
	if req.Channel == db.ChannelEmail && (req.Subject == nil || *req.Subject == "") {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing subject", "email sequences require a subject")
		return
	}
	if !validHour(req.QuietHourStart) || !validHour(req.QuietHourEnd) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid quiet hours", "quiet hours must be between 0 and 23")
		return
	}
	if req.DayOffset < 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid day_offset", "day_offset must not be negative")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	seq := &db.Sequence{
		ID:             uuid.New(),
		OfferID:        offerID,
		Name:           req.Name,
		Channel:        req.Channel,
		DayOffset:      req.DayOffset,
		Subject:        req.Subject,
		MessageBody:    req.MessageBody,
		QuietHourStart: req.QuietHourStart,
		QuietHourEnd:   req.QuietHourEnd,
		Enabled:        enabled,
	}

	if err := h.store.CreateSequence(r.Context(), seq); err != nil {
		h.logger.Error("failed to create sequence", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create sequence", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, CreatedResponse{ID: seq.ID.String()})
}

// GetSequence handles GET /v1/sequences/{id}
func (h *Handler) GetSequence(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	seq, err := h.store.GetSequence(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Sequence not found", "")
			return
		}
		h.logger.Error("failed to get sequence", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get sequence", "")
		return
	}

	h.writeJSON(w, http.StatusOK, seq)
}

// CreateRecipient handles POST /v1/recipients
func (h *Handler) CreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req RecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	offerID, err := uuid.Parse(req.OfferID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offer_id", "offer_id must be a valid UUID")
		return
	}
	if req.Name == "" || (req.Email == "" && req.Phone == "") {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "name and at least one of email or phone are required")
		return
	}

	rec := &db.Recipient{
		ID:      uuid.New(),
		OfferID: offerID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
	}

	if err := h.store.CreateRecipient(r.Context(), rec); err != nil {
		h.logger.Error("failed to create recipient", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create recipient", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, CreatedResponse{ID: rec.ID.String()})
}

// CreateJob handles POST /v1/jobs — the enrollment collaborator's entry
// point for scheduling a delivery.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	sequenceID, err := uuid.Parse(req.SequenceID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid sequence_id", "sequence_id must be a valid UUID")
		return
	}
	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient_id", "recipient_id must be a valid UUID")
		return
	}
	if req.ScheduledAt.IsZero() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing scheduled_at", "scheduled_at is required")
		return
	}

	job := &db.DispatchJob{
		ID:          uuid.New(),
		SequenceID:  sequenceID,
		RecipientID: recipientID,
		ScheduledAt: req.ScheduledAt,
		Status:      db.StatusPending,
	}

	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.logger.Error("failed to create job", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create dispatch job", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, CreatedResponse{ID: job.ID.String()})
}

// ListJobs handles GET /v1/jobs with optional status and sequence_id filters.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := db.JobFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  50,
	}

	if s := r.URL.Query().Get("sequence_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid sequence_id", "sequence_id must be a valid UUID")
			return
		}
		filter.SequenceID = id
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid limit", "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid offset", "offset must not be negative")
			return
		}
		filter.Offset = n
	}

	jobs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list jobs", "")
		return
	}
	if jobs == nil {
		jobs = []*db.DispatchJob{}
	}

	h.writeJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Job not found", "")
			return
		}
		h.logger.Error("failed to get job", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get job", "")
		return
	}

	h.writeJSON(w, http.StatusOK, job)
}

// ResendJob handles POST /v1/jobs/{id}/resend — the manual resend
// trigger. The job becomes eligible for the next dispatch loop
// invocation; nothing is sent synchronously.
func (h *Handler) ResendJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	err := h.store.ReopenForResend(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "not_found", "Job not found", "")
		case errors.Is(err, db.ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "invalid_transition",
				"Resend rejected",
				"this message cannot be resent from its current state")
		default:
			h.logger.Error("failed to reopen job", zap.Error(err), zap.String("id", id.String()))
			h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to resend job", "")
		}
		return
	}

	metrics.RecordManualResend()
	h.logger.Info("job re-armed for resend", zap.String("job_id", id.String()))

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}
