// Package api is the client for the match backend's REST contract:
// raw event submission, match reads, event update/delete, and player
// stats. It is stateless and performs no retries of its own; callers
// decide retry policy from the typed failures it returns.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fieldrec/pitchside/internal/domain"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to the match backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rawEventPayload struct {
	RawText string `json:"raw_text"`
}

// SubmitRawEvent posts one raw transcript for server-side parsing and
// returns the structured event the backend created.
func (c *Client) SubmitRawEvent(ctx context.Context, matchID int64, rawText string) (*domain.ServerEvent, error) {
	var ev domain.ServerEvent
	path := fmt.Sprintf("/matches/%d/events/raw", matchID)
	if err := c.do(ctx, http.MethodPost, path, rawEventPayload{RawText: rawText}, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetMatch fetches a match together with its events.
func (c *Client) GetMatch(ctx context.Context, matchID int64) (*domain.Match, error) {
	var m domain.Match
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/matches/%d", matchID), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteEvent deletes a remote event.
func (c *Client) DeleteEvent(ctx context.Context, remoteID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/events/%d", remoteID), nil, nil)
}

// UpdateEvent applies a partial update to a remote event.
func (c *Client) UpdateEvent(ctx context.Context, remoteID int64, update domain.EventUpdate) (*domain.ServerEvent, error) {
	var ev domain.ServerEvent
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/events/%d", remoteID), update, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// PlayerStats fetches the aggregate stats for one player.
func (c *Client) PlayerStats(ctx context.Context, playerID int64) (*domain.PlayerStats, error) {
	var stats domain.PlayerStats
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/players/%d/stats", playerID), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// do performs one round trip. Transport failures come back as
// SubmissionError{Network}; non-2xx responses as
// SubmissionError{Rejected} carrying the status and body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.SubmissionError{Kind: domain.SubmissionNetwork, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.SubmissionError{Kind: domain.SubmissionNetwork, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.SubmissionError{
			Kind:    domain.SubmissionRejected,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
