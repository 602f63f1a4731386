// Package generation talks to the remote style transfer service and installs
// its results into session slots.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/james-see/groove2groove/pkg/logger"
	"github.com/james-see/groove2groove/pkg/sequence"
)

// ErrNetwork is returned when a request is rejected or cannot be delivered
var ErrNetwork = errors.New("network failure")

// DefaultTemperature matches the service default softmax temperature
const DefaultTemperature = 0.6

// Options configures a style transfer request
type Options struct {
	Model       string  `json:"model" yaml:"model"`
	Sample      bool    `json:"sample" yaml:"sample"`
	Temperature float64 `json:"softmax_temperature" yaml:"softmax_temperature"`
}

// APIError is a non-2xx response from the service
type APIError struct {
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: service returned %d (%s)", ErrNetwork, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: service returned %d", ErrNetwork, e.StatusCode)
}

// Unwrap makes errors.Is(err, ErrNetwork) hold for API errors
func (e *APIError) Unwrap() error {
	return ErrNetwork
}

// Client is an HTTP client for the inference service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type filePart struct {
	field string
	seq   *sequence.Sequence
}

// StyleTransfer renders content in the style of style
func (c *Client) StyleTransfer(ctx context.Context, content, style *sequence.Sequence, opts Options) (*sequence.Sequence, error) {
	if opts.Model == "" {
		return nil, errors.New("model name is required")
	}
	path := "/api/v1/style_transfer/" + url.PathEscape(opts.Model) + "/"
	fields := map[string]string{
		"sample":              strconv.FormatBool(opts.Sample),
		"softmax_temperature": strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
	}
	return c.post(ctx, path, []filePart{
		{field: "content_input", seq: content},
		{field: "style_input", seq: style},
	}, fields)
}

// Remix merges content into output on the service
func (c *Client) Remix(ctx context.Context, content, output *sequence.Sequence) (*sequence.Sequence, error) {
	return c.post(ctx, "/api/v1/remix/", []filePart{
		{field: "content_sequence", seq: content},
		{field: "output_sequence", seq: output},
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, files []filePart, fields map[string]string) (*sequence.Sequence, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.field)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file %s: %w", f.field, err)
		}
		if _, err := part.Write(sequence.Marshal(f.seq)); err != nil {
			return nil, fmt.Errorf("failed to write form file %s: %w", f.field, err)
		}
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrNetwork, err)
	}

	logger.Debug("Inference request completed", logger.Fields{
		"request_id":  requestID,
		"path":        path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: errorCode(data)}
	}

	seq, err := sequence.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	sequence.Sanitize(seq)
	return seq, nil
}

// errorCode extracts the error code from a JSON error body
func errorCode(data []byte) string {
	var body struct {
		Error       string `json:"error"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Description != "" && body.Error != "" {
		return body.Error + ": " + body.Description
	}
	return body.Error
}
