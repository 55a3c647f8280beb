// Package client is an HTTP client for the rwx-im serving layer with retry
// and conditional-request support.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rwx-im/rwx-im/pkg/address"
	"github.com/rwx-im/rwx-im/pkg/cache"
)

// cacheStatusHeader mirrors the server's bound/unbound marker.
const cacheStatusHeader = "X-Cache-Status"

// Config holds the client configuration.
type Config struct {
	// BaseURL of the server, e.g. "http://localhost:34413" (REQUIRED)
	BaseURL string

	// User-Agent header
	UserAgent string

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry overrides; zero keeps the per-class defaults
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "rwx-im-client/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// Client talks to an rwx-im server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     Config
	logger     zerolog.Logger
}

// Content is the answer to a Get.
type Content struct {
	Address address.Address

	// Bound is false when nothing is stored under the address; Body then
	// holds the server's diagnostic echo.
	Bound bool

	// NotModified is true when the server confirmed the caller's known entry.
	NotModified bool

	// Entry carries the validators of bound content.
	Entry *cache.Entry

	Body []byte
}

// PutResult is the answer to a Put.
type PutResult struct {
	Digest digest.Digest

	// Created is false when the address already pointed to this content.
	Created bool
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		config:  cfg,
		logger:  log.With().Str("component", "rwx-im-client").Logger(),
	}, nil
}

// retryPolicy applies the configured overrides to the per-class defaults.
func (c *Client) retryPolicy(class ErrorClass) RetryConfig {
	rc := RetryConfigForErrorClass(class)
	if c.config.MaxRetries > 0 {
		rc.MaxAttempts = c.config.MaxRetries
	}
	if c.config.InitialBackoff > 0 {
		rc.InitialBackoff = c.config.InitialBackoff
		if rc.MaxBackoff < rc.InitialBackoff {
			rc.MaxBackoff = rc.InitialBackoff
		}
	}
	return rc
}

// Do performs req with retries on server, rate limit and network errors.
// body is replayed on every attempt. Client errors (4xx) are returned as a
// response, not an error.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, header http.Header) (*http.Response, error) {
	var resp *http.Response

	err := retryWithPolicy(ctx, c.retryPolicy, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			clientRequestsTotal.WithLabelValues(method, "network_error").Inc()
			c.logger.Warn().Err(err).Str("path", path).Msg("HTTP request failed")
			return &StatusError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
		}
		clientRequestsTotal.WithLabelValues(method, strconv.Itoa(r.StatusCode)).Inc()

		if class := classifyStatus(r.StatusCode); shouldRetry(class) {
			r.Body.Close()
			c.logger.Warn().
				Str("path", path).
				Int("status", r.StatusCode).
				Str("error_class", string(class)).
				Msg("Server request error")
			return &StatusError{StatusCode: r.StatusCode, ErrorClass: class, Message: r.Status}
		}

		resp = r
		return nil
	}, classifyError)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// classifyError reads the class carried by a StatusError.
func classifyError(err error) ErrorClass {
	var se *StatusError
	if errors.As(err, &se) {
		return se.ErrorClass
	}
	return ""
}

// Get fetches the content bound to addr. If known is non-nil the request is
// conditional and a matching server answers without a body.
func (c *Client) Get(ctx context.Context, addr address.Address, known *cache.Entry) (*Content, error) {
	header := http.Header{}
	if known != nil {
		req := &http.Request{Header: header}
		cache.AddConditionalHeaders(req, known)
	}

	resp, err := c.Do(ctx, http.MethodGet, escapePath(addr), nil, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out := &Content{Address: addr}
	switch resp.StatusCode {
	case http.StatusNotModified:
		out.Bound = true
		out.NotModified = true
		out.Entry = known
		return out, nil
	case http.StatusOK:
	default:
		return nil, c.statusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	out.Body = body
	out.Bound = resp.Header.Get(cacheStatusHeader) != "MISS"
	if out.Bound {
		out.Entry = cache.ResponseToEntry(resp)
		if out.Entry != nil {
			out.Entry.Size = int64(len(body))
		}
	}
	return out, nil
}

// Put stores body under addr.
func (c *Client) Put(ctx context.Context, addr address.Address, body []byte) (*PutResult, error) {
	if body == nil {
		body = []byte{}
	}
	resp, err := c.Do(ctx, http.MethodPut, escapePath(addr), body, http.Header{
		"Content-Type": {"application/octet-stream"},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	// blake2b is not a registered go-digest algorithm, so digest.Parse
	// would reject it.
	d := digest.Digest(strings.TrimSpace(string(raw)))
	if alg, enc, ok := strings.Cut(string(d), ":"); !ok || alg == "" || enc == "" {
		return nil, fmt.Errorf("malformed digest %q in response", d)
	}
	return &PutResult{Digest: d, Created: resp.StatusCode == http.StatusCreated}, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Message:    strings.TrimSpace(string(msg)),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// escapePath renders addr as a request path, escaping each segment but
// keeping the separators of the tail.
func escapePath(addr address.Address) string {
	segments := strings.Split(addr.Tail, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return address.Marker + url.PathEscape(addr.Owner) + "/" + strings.Join(segments, "/")
}
