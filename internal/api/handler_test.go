package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/db"
)

var errDatabase = errors.New("database error")

// MockStore is a fake job store for handler tests.
type MockStore struct {
	sequences  map[uuid.UUID]*db.Sequence
	recipients map[uuid.UUID]*db.Recipient
	jobs       map[uuid.UUID]*db.DispatchJob

	shouldFail bool
}

func NewMockStore() *MockStore {
	return &MockStore{
		sequences:  make(map[uuid.UUID]*db.Sequence),
		recipients: make(map[uuid.UUID]*db.Recipient),
		jobs:       make(map[uuid.UUID]*db.DispatchJob),
	}
}

func (m *MockStore) CreateSequence(ctx context.Context, seq *db.Sequence) error {
	if m.shouldFail {
		return errDatabase
	}
	m.sequences[seq.ID] = seq
	return nil
}

func (m *MockStore) GetSequence(ctx context.Context, id uuid.UUID) (*db.Sequence, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	seq, ok := m.sequences[id]
	if !ok {
		return nil, fmt.Errorf("sequence %s: %w", id, db.ErrNotFound)
	}
	return seq, nil
}

func (m *MockStore) CreateRecipient(ctx context.Context, rec *db.Recipient) error {
	if m.shouldFail {
		return errDatabase
	}
	m.recipients[rec.ID] = rec
	return nil
}

func (m *MockStore) CreateJob(ctx context.Context, job *db.DispatchJob) error {
	if m.shouldFail {
		return errDatabase
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *MockStore) GetJob(ctx context.Context, id uuid.UUID) (*db.DispatchJob, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, db.ErrNotFound)
	}
	return job, nil
}

func (m *MockStore) ListJobs(ctx context.Context, filter db.JobFilter) ([]*db.DispatchJob, error) {
	if m.shouldFail {
		return nil, errDatabase
	}
	var out []*db.DispatchJob
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.SequenceID != uuid.Nil && job.SequenceID != filter.SequenceID {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (m *MockStore) ReopenForResend(ctx context.Context, jobID uuid.UUID) error {
	if m.shouldFail {
		return errDatabase
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, db.ErrNotFound)
	}
	if job.Status != db.StatusFailed {
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, db.ErrInvalidTransition)
	}
	job.Status = db.StatusPending
	job.ScheduledAt = time.Now()
	job.SentAt = nil
	job.ErrorMessage = nil
	return nil
}

func newTestRouter(store JobStore) *chi.Mux {
	h := NewHandler(zap.NewNop(), store)
	r := chi.NewRouter()
	r.Post("/v1/sequences", h.CreateSequence)
	r.Get("/v1/sequences/{id}", h.GetSequence)
	r.Post("/v1/recipients", h.CreateRecipient)
	r.Post("/v1/jobs", h.CreateJob)
	r.Get("/v1/jobs", h.ListJobs)
	r.Get("/v1/jobs/{id}", h.GetJob)
	r.Post("/v1/jobs/{id}/resend", h.ResendJob)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSequence(t *testing.T) {
	store := NewMockStore()
	router := newTestRouter(store)

	subject := "Welcome, {{name}}"
	rec := postJSON(t, router, "/v1/sequences", SequenceRequest{
		OfferID:        uuid.NewString(),
		Name:           "Day 0 welcome",
		Channel:        db.ChannelEmail,
		Subject:        &subject,
		MessageBody:    "Hi {{name}}, thanks for signing up.",
		QuietHourStart: 22,
		QuietHourEnd:   8,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(store.sequences) != 1 {
		t.Fatalf("expected 1 sequence stored, got %d", len(store.sequences))
	}
	for _, seq := range store.sequences {
		if !seq.Enabled {
			t.Error("sequences should default to enabled")
		}
	}
}

func TestCreateSequence_Validation(t *testing.T) {
	router := newTestRouter(NewMockStore())
	subject := "s"

	tests := []struct {
		name string
		req  SequenceRequest
	}{
		{"bad_offer_id", SequenceRequest{OfferID: "nope", Name: "n", Channel: "email", Subject: &subject, MessageBody: "b"}},
		{"bad_channel", SequenceRequest{OfferID: uuid.NewString(), Name: "n", Channel: "webhook", MessageBody: "b"}},
		{"email_without_subject", SequenceRequest{OfferID: uuid.NewString(), Name: "n", Channel: "email", MessageBody: "b"}},
		{"quiet_hour_out_of_range", SequenceRequest{OfferID: uuid.NewString(), Name: "n", Channel: "sms", MessageBody: "b", QuietHourStart: 24}},
		{"negative_day_offset", SequenceRequest{OfferID: uuid.NewString(), Name: "n", Channel: "sms", MessageBody: "b", DayOffset: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/v1/sequences", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateJob(t *testing.T) {
	store := NewMockStore()
	router := newTestRouter(store)

	scheduled := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	rec := postJSON(t, router, "/v1/jobs", JobRequest{
		SequenceID:  uuid.NewString(),
		RecipientID: uuid.NewString(),
		ScheduledAt: scheduled,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	for _, job := range store.jobs {
		if job.Status != db.StatusPending {
			t.Errorf("new job status = %s, want pending", job.Status)
		}
		if !job.ScheduledAt.Equal(scheduled) {
			t.Errorf("scheduled_at = %v, want %v (must not be recomputed)", job.ScheduledAt, scheduled)
		}
	}
}

func TestListJobs_FilterByStatus(t *testing.T) {
	store := NewMockStore()
	failed := &db.DispatchJob{ID: uuid.New(), Status: db.StatusFailed}
	sent := &db.DispatchJob{ID: uuid.New(), Status: db.StatusSent}
	store.jobs[failed.ID] = failed
	store.jobs[sent.ID] = sent

	router := newTestRouter(store)
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?status=failed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var jobs []*db.DispatchJob
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != failed.ID {
		t.Errorf("jobs = %+v, want only the failed job", jobs)
	}
}

func TestResendJob_Failed(t *testing.T) {
	store := NewMockStore()
	sentAt := time.Now().Add(-time.Hour)
	msg := "sms gateway rejected message"
	job := &db.DispatchJob{
		ID:           uuid.New(),
		Status:       db.StatusFailed,
		SentAt:       &sentAt,
		ErrorMessage: &msg,
	}
	store.jobs[job.ID] = job

	router := newTestRouter(store)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID.String()+"/resend", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if job.Status != db.StatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}
	if job.SentAt != nil || job.ErrorMessage != nil {
		t.Error("sent_at and error_message must be cleared")
	}
	if job.ScheduledAt.After(time.Now()) {
		t.Error("scheduled_at must be now, not in the future")
	}
}

func TestResendJob_WrongState(t *testing.T) {
	store := NewMockStore()
	sentAt := time.Now()
	job := &db.DispatchJob{ID: uuid.New(), Status: db.StatusSent, SentAt: &sentAt}
	store.jobs[job.ID] = job

	router := newTestRouter(store)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID.String()+"/resend", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Detail != "this message cannot be resent from its current state" {
		t.Errorf("detail = %q", resp.Detail)
	}

	// The row must not have been mutated.
	if job.Status != db.StatusSent || job.SentAt == nil {
		t.Error("rejected resend must not mutate the job")
	}
}

func TestResendJob_NotFound(t *testing.T) {
	router := newTestRouter(NewMockStore())
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+uuid.NewString()+"/resend", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	router := newTestRouter(NewMockStore())
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateRecipient_RequiresContact(t *testing.T) {
	router := newTestRouter(NewMockStore())
	rec := postJSON(t, router, "/v1/recipients", RecipientRequest{
		OfferID: uuid.NewString(),
		Name:    "Dana",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
