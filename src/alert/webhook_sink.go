package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookSink POSTs events as JSON to an external receiver. Failed and
// timed-out deliveries are reported back to the dispatcher and logged there;
// the sink itself does not retry, alerting is best effort.
type WebhookSink struct {
	http *resty.Client
}

// NewWebhookSink builds a sink for the given endpoint URL.
func NewWebhookSink(endpoint string, timeout time.Duration) (*WebhookSink, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &WebhookSink{http: client}, nil
}

// Deliver posts the event. Non-2xx responses are returned as errors.
func (s *WebhookSink) Deliver(event Event) error {
	resp, err := s.http.R().
		SetBody(event).
		Post("")
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
