package eventbus

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

type WebhookConfig struct {
	URL        string
	Secret     string
	APIKey     string
	MaxRetries int
	Timeout    time.Duration
}

// WebhookSink POSTs the event JSON to a subscriber endpoint. Any 2xx acknowledges.
type WebhookSink struct {
	url    string
	secret string
	apiKey string
	client *retryablehttp.Client
}

func NewWebhookSink(cfg WebhookConfig, logger logrus.FieldLogger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if logger != nil {
		client.Logger = &retryableHTTPLogger{logger: logger}
	} else {
		client.Logger = nil
	}

	return &WebhookSink{
		url:    cfg.URL,
		secret: cfg.Secret,
		apiKey: cfg.APIKey,
		client: client,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, event *entity.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", event.ID)
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
	if s.secret != "" {
		req.Header.Set("X-Signature", Sign(s.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s responded %d", ErrUnexpectedStatus, s.url, resp.StatusCode)
	}
	return nil
}

// Sign returns the X-Signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type retryableHTTPLogger struct {
	logger logrus.FieldLogger
}

func (l *retryableHTTPLogger) Printf(format string, v ...interface{}) {
	l.logger.Debugf(format, v...)
}
