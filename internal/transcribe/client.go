// Package transcribe is the client for the speech-to-text service.
// Every call is bounded by a hard timeout; an empty transcript is an
// error, never a success.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fieldrec/pitchside/internal/domain"
)

const defaultTimeout = 60 * time.Second

// defaultFormats is returned when the service cannot report its own.
var defaultFormats = []string{"m4a", "mp3", "wav", "flac"}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout overrides the per-call hard timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Client talks to the transcription service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a transcription client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the referenced audio clip and returns its
// transcript.
func (c *Client) Transcribe(ctx context.Context, filePath string) (string, error) {
	t, err := c.TranscribeWithMetadata(ctx, filePath)
	if err != nil {
		return "", err
	}
	return t.Transcript, nil
}

// TranscribeWithMetadata uploads the referenced audio clip and
// returns the full transcription response, including confidence and
// clip duration when the service reports them.
//
// The call is aborted once the hard timeout elapses and fails with a
// Timeout transcription error.
func (c *Client) TranscribeWithMetadata(ctx context.Context, filePath string) (*domain.Transcription, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, &domain.TranscriptionError{Kind: domain.TranscriptionRejected, Message: "no recording file reference"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, contentType, err := buildUpload(filePath)
	if err != nil {
		return nil, &domain.TranscriptionError{Kind: domain.TranscriptionNetwork, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return nil, &domain.TranscriptionError{Kind: domain.TranscriptionNetwork, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.TranscriptionError{Kind: domain.TranscriptionTimeout, Err: err}
		}
		return nil, &domain.TranscriptionError{Kind: domain.TranscriptionNetwork, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &domain.TranscriptionError{Kind: domain.TranscriptionTimeout, Err: err}
		}
		return nil, &domain.TranscriptionError{Kind: domain.TranscriptionNetwork, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.TranscriptionError{
			Kind:    domain.TranscriptionRejected,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	var result domain.Transcription
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &domain.TranscriptionError{Kind: domain.TranscriptionRejected, Status: resp.StatusCode, Err: err}
	}
	if strings.TrimSpace(result.Transcript) == "" {
		return nil, &domain.TranscriptionError{Kind: domain.TranscriptionEmpty, Status: resp.StatusCode}
	}
	return &result, nil
}

// Healthy reports whether the transcription service answers its
// health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcribe/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// SupportedFormats asks the service for its accepted audio formats,
// falling back to a conservative default set when it cannot answer.
func (c *Client) SupportedFormats(ctx context.Context) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcribe/formats", nil)
	if err != nil {
		return defaultFormats
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return defaultFormats
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return defaultFormats
	}
	var result struct {
		Formats []string `json:"formats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || len(result.Formats) == 0 {
		return defaultFormats
	}
	return result.Formats
}

// buildUpload assembles the multipart form for one audio clip.
func buildUpload(filePath string) (io.Reader, string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read audio file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
