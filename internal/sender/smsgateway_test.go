package sender

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/db"
)

func gatewayConfig(url string) SMSGatewayConfig {
	return SMSGatewayConfig{
		URL:          url,
		APIKey:       "key-123",
		APISecret:    "secret-456",
		SenderNumber: "+15550100",
	}
}

func smsDelivery() *Delivery {
	return &Delivery{
		JobID:   uuid.New(),
		Channel: db.ChannelSMS,
		Phone:   "+15550199",
		Body:    "Hello from day 3",
	}
}

func TestGatewaySender_SignsEveryRequest(t *testing.T) {
	var got struct {
		apiKey, timestamp, nonce, signature string
		body                                gatewayRequest
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.apiKey = r.Header.Get("X-Api-Key")
		got.timestamp = r.Header.Get("X-Timestamp")
		got.nonce = r.Header.Get("X-Nonce")
		got.signature = r.Header.Get("X-Signature")
		_ = json.NewDecoder(r.Body).Decode(&got.body)

		_ = json.NewEncoder(w).Encode(gatewayResponse{MessageID: "gw-1"})
	}))
	defer srv.Close()

	s := NewGatewaySMSSender(gatewayConfig(srv.URL), zap.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	if err := s.Send(context.Background(), smsDelivery()); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got.apiKey != "key-123" {
		t.Errorf("api key = %q, want key-123", got.apiKey)
	}
	if got.timestamp != "1700000000" {
		t.Errorf("timestamp = %q, want 1700000000", got.timestamp)
	}
	if got.nonce == "" {
		t.Error("nonce header missing")
	}

	mac := hmac.New(sha256.New, []byte("secret-456"))
	mac.Write([]byte(got.timestamp + got.nonce))
	want := hex.EncodeToString(mac.Sum(nil))
	if got.signature != want {
		t.Errorf("signature = %q, want HMAC-SHA256(timestamp+nonce)", got.signature)
	}

	if got.body.From != "+15550100" || got.body.To != "+15550199" {
		t.Errorf("request body = %+v", got.body)
	}
}

func TestGatewaySender_FreshNoncePerRequest(t *testing.T) {
	var nonces []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonces = append(nonces, r.Header.Get("X-Nonce"))
		_ = json.NewEncoder(w).Encode(gatewayResponse{MessageID: "gw-2"})
	}))
	defer srv.Close()

	s := NewGatewaySMSSender(gatewayConfig(srv.URL), zap.NewNop())
	for i := 0; i < 3; i++ {
		if err := s.Send(context.Background(), smsDelivery()); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	seen := map[string]bool{}
	for _, n := range nonces {
		if seen[n] {
			t.Fatalf("nonce %q reused", n)
		}
		seen[n] = true
	}
}

func TestGatewaySender_MissingMessageIDIsFailure(t *testing.T) {
	// An HTTP 200 without a provider message identifier must be a
	// failure, even when no error field is present either.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayResponse{})
	}))
	defer srv.Close()

	s := NewGatewaySMSSender(gatewayConfig(srv.URL), zap.NewNop())
	err := s.Send(context.Background(), smsDelivery())
	if err == nil {
		t.Fatal("expected failure for 200 response without message id")
	}
	if !strings.Contains(err.Error(), "missing message id") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGatewaySender_ProviderErrorPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayResponse{Error: "invalid destination number"})
	}))
	defer srv.Close()

	s := NewGatewaySMSSender(gatewayConfig(srv.URL), zap.NewNop())
	err := s.Send(context.Background(), smsDelivery())
	if err == nil || !strings.Contains(err.Error(), "invalid destination number") {
		t.Errorf("provider message not preserved, got: %v", err)
	}
}

func TestGatewaySender_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewGatewaySMSSender(gatewayConfig(srv.URL), zap.NewNop())
	err := s.Send(context.Background(), smsDelivery())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got: %v", err)
	}
}

func TestGatewaySender_NotConfigured(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	cfg := gatewayConfig(srv.URL)
	cfg.APISecret = ""
	s := NewGatewaySMSSender(cfg, zap.NewNop())

	err := s.Send(context.Background(), smsDelivery())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if calls != 0 {
		t.Error("sender must not call the gateway when unconfigured")
	}
}

func TestGatewaySender_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(gatewayResponse{MessageID: "late"})
	}))
	defer srv.Close()

	s := NewGatewaySMSSender(gatewayConfig(srv.URL), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Send(ctx, smsDelivery()); err == nil {
		t.Fatal("expected timeout error")
	}
}
