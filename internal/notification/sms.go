package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tradedispatch_backend/platform/config"
	"tradedispatch_backend/platform/logger"
	"tradedispatch_backend/platform/phone"
)

// SMSSender delivers one text message to one phone number.
type SMSSender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// NoopSMSSender is used when no SMS provider is configured.
type NoopSMSSender struct{}

func (NoopSMSSender) Send(context.Context, string, string) error { return nil }

// HTTPSMSSender posts messages to the external SMS gateway. Numbers are
// normalized to E.164 before sending; numbers that cannot be normalized are
// skipped rather than rejected.
type HTTPSMSSender struct {
	url    string
	token  string
	client *http.Client
	log    *logger.Logger
}

// NewSMSSender picks the sender implementation from configuration.
func NewSMSSender(cfg config.SMSConfig, log *logger.Logger) SMSSender {
	if !cfg.IsSMSEnabled() {
		return NoopSMSSender{}
	}
	return &HTTPSMSSender{
		url:    cfg.GetSMSProviderURL(),
		token:  cfg.GetSMSProviderToken(),
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (s *HTTPSMSSender) Send(ctx context.Context, phoneNumber, message string) error {
	normalized := phone.NormalizeE164(phoneNumber)

	body, err := json.Marshal(map[string]string{"to": normalized, "message": message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider returned status %d", resp.StatusCode)
	}
	return nil
}
