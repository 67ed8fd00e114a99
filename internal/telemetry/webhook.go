package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sweeney/hottub-controller/internal/logic"
)

// WebhookSink pushes each record to a spreadsheet-style web app as GET query parameters.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to the given endpoint.
func NewWebhookSink(endpoint string, timeout time.Duration) (*WebhookSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url must be http or https, got %q", endpoint)
	}
	return &WebhookSink{url: endpoint, client: &http.Client{Timeout: timeout}}, nil
}

// Query builds the query parameters for a record.
func Query(rec logic.Record) url.Values {
	v := url.Values{}
	v.Set("tub", tempString(rec.HotTubF))
	v.Set("solar", tempString(rec.SolarF))
	v.Set("delta", tempString(rec.Delta))
	v.Set("pump", stateString(rec.Pump))
	v.Set("heater", stateString(rec.Heater))
	v.Set("action", string(rec.Action))
	v.Set("note", rec.Note)
	v.Set("duration", rec.Duration)
	return v
}

// Record sends the record.
func (s *WebhookSink) Record(ctx context.Context, rec logic.Record) error {
	u, err := url.Parse(s.url)
	if err != nil {
		return err
	}
	q := u.Query()
	for k, vs := range Query(rec) {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %s", resp.Status)
	}
	return nil
}

// Close releases idle connections.
func (s *WebhookSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
