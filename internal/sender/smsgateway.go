package sender

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avelara/dripfeed/internal/db"
)

// GatewaySMSSender delivers SMS through an HTTP gateway that requires a
// freshly signed request per call: HMAC-SHA256 over timestamp+nonce with
// the shared secret. The gateway rejects reused signatures, so timestamp
// and nonce are regenerated for every request.
type GatewaySMSSender struct {
	client *http.Client
	cfg    SMSGatewayConfig
	logger *zap.Logger
	now    func() time.Time
}

// SMSGatewayConfig holds the gateway credentials and sender identity.
type SMSGatewayConfig struct {
	URL          string
	APIKey       string
	APISecret    string
	SenderNumber string
}

type gatewayRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// NewGatewaySMSSender creates a signed-gateway SMS sender. The HTTP
// client's timeout is a hard upper bound; the dispatch loop's per-send
// context usually cancels first.
func NewGatewaySMSSender(cfg SMSGatewayConfig, logger *zap.Logger) *GatewaySMSSender {
	return &GatewaySMSSender{
		client: &http.Client{Timeout: 30 * time.Second},
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Send posts one SMS to the gateway. Success requires a provider message
// identifier in the response body; an HTTP 2xx without one is a failure.
func (s *GatewaySMSSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != db.ChannelSMS {
		return fmt.Errorf("sms sender got channel %s", d.Channel)
	}
	if s.cfg.URL == "" || s.cfg.APIKey == "" || s.cfg.APISecret == "" || s.cfg.SenderNumber == "" {
		return fmt.Errorf("sms gateway: %w", ErrNotConfigured)
	}
	if d.Phone == "" {
		return fmt.Errorf("delivery missing recipient phone number")
	}

	body, err := json.Marshal(gatewayRequest{
		From:    s.cfg.SenderNumber,
		To:      d.Phone,
		Message: d.Body,
	})
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	nonce := uuid.NewString()

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", s.cfg.APIKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Signature", sign(timestamp, nonce, s.cfg.APISecret))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var gw gatewayResponse
	if err := json.Unmarshal(respBody, &gw); err != nil {
		return fmt.Errorf("sms gateway returned unparseable body: %w", err)
	}
	if gw.MessageID == "" {
		if gw.Error != "" {
			return fmt.Errorf("sms gateway rejected message: %s", gw.Error)
		}
		return fmt.Errorf("sms gateway response missing message id")
	}

	s.logger.Info("sms accepted by gateway",
		zap.String("job_id", d.JobID.String()),
		zap.String("phone", d.Phone),
		zap.String("message_id", gw.MessageID),
	)
	return nil
}

// SupportsChannel reports whether this sender handles the sms channel.
func (s *GatewaySMSSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}

func sign(timestamp, nonce, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
