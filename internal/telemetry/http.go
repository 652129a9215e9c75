package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/novi-app/attention/internal/attention"
)

// HTTPTransport posts records to a meeting's distraction endpoint.
type HTTPTransport struct {
	baseURL   string
	meetingID string
	client    *http.Client
}

// NewHTTPTransport targets {baseURL}/api/meeting/{meetingID}/distraction.
func NewHTTPTransport(baseURL, meetingID string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		meetingID: meetingID,
		client:    &http.Client{Timeout: timeout},
	}
}

func (h *HTTPTransport) Name() string { return "http" }

func (h *HTTPTransport) endpoint() string {
	return fmt.Sprintf("%s/api/meeting/%s/distraction", h.baseURL, url.PathEscape(h.meetingID))
}

// Publish sends the report's wire record as JSON.
func (h *HTTPTransport) Publish(ctx context.Context, r attention.Report) error {
	body, err := json.Marshal(r.Record())
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return h.do(req)
}

// Remove deletes the participant's row.
func (h *HTTPTransport) Remove(ctx context.Context, participantID string) error {
	q := url.Values{"participantId": {participantID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, h.endpoint()+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return h.do(req)
}

func (h *HTTPTransport) do(req *http.Request) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
