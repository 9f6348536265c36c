// Package cloud is the HTTP edge to the central attendance service:
// an unauthenticated health probe and an authenticated batch upload.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/openbadge/attendd/internal/timefmt"
	"github.com/openbadge/attendd/internal/types"
)

const batchPath = "/v1/scans/batch"

// Client talks to the cloud service. The zero timeout on HTTPClient is
// deliberate; every call carries a context deadline instead.
type Client struct {
	BaseURL    string
	Key        string
	HTTPClient *http.Client
}

// NewClient creates a client for the given endpoint and bearer credential.
func NewClient(baseURL, key string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Key:        key,
		HTTPClient: &http.Client{},
	}
}

// WithEndpoint returns a client pointed at a different base URL. Used by
// tests with httptest servers.
func (c *Client) WithEndpoint(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Key: c.Key, HTTPClient: c.HTTPClient}
}

// WithHTTPClient returns a client using the given HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	return &Client{BaseURL: c.BaseURL, Key: c.Key, HTTPClient: hc}
}

// Event is one scan on the wire.
type Event struct {
	IdempotencyKey string    `json:"idempotency_key"`
	BadgeID        string    `json:"badge_id"`
	StationName    string    `json:"station_name"`
	ScannedAt      string    `json:"scanned_at"` // RFC3339 UTC with Z
	Meta           EventMeta `json:"meta"`
}

// EventMeta carries station-local context the service stores verbatim.
type EventMeta struct {
	Matched bool  `json:"matched"`
	LocalID int64 `json:"local_id"`
}

// EventFromScan builds the wire event for a scan. The timestamp goes through
// the same serializer as storage, so wire and store can never disagree.
func EventFromScan(s *types.Scan) Event {
	return Event{
		IdempotencyKey: s.IdempotencyKey,
		BadgeID:        s.BadgeID,
		StationName:    s.StationName,
		ScannedAt:      timefmt.Format(s.ScannedAt),
		Meta:           EventMeta{Matched: s.Matched, LocalID: s.LocalID},
	}
}

// BatchResult is the service's acknowledgment of a batch upload.
type BatchResult struct {
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
}

// Health probes the service root. Any 2xx means reachable. The caller
// bounds the probe with a context deadline.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Message: "health probe failed"}
	}
	return nil
}

// PushBatch uploads one batch of events. Non-2xx responses come back as
// *StatusError; a 2xx with an unreadable body is a *ProtocolError.
func (c *Client) PushBatch(ctx context.Context, events []Event) (*BatchResult, error) {
	body, err := json.Marshal(struct {
		Events []Event `json:"events"`
	}{Events: events})
	if err != nil {
		return nil, fmt.Errorf("marshaling batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+batchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building batch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Key)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch upload: %w", err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		var e struct {
			Error string `json:"error"`
		}
		if readErr == nil && json.Unmarshal(respBody, &e) == nil {
			msg = e.Error
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if readErr != nil {
		return nil, &ProtocolError{Cause: readErr}
	}
	var result BatchResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &ProtocolError{Cause: err}
	}
	return &result, nil
}
