// Package httpx provides the rate-limited HTTP client used by regulatory
// sources. The client performs no retries; retry and backoff policy belongs
// to the caller.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const defaultUserAgent = "regulens/1.0 (regulatory-intelligence; contact: ops@regulens.io)"

// NetworkError indicates a DNS or connection-level failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error for %s: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError indicates the configured deadline elapsed.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s for %s", e.Timeout, e.URL)
}

// ProtocolError indicates a malformed or unreadable HTTP response.
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error for %s: %v", e.URL, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// Response is the result of a successful request. A non-2xx status code is
// not an error at this layer.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Config controls client behavior.
type Config struct {
	Timeout     time.Duration // per-call deadline, default 30s
	UserAgent   string
	RateLimit   rate.Limit // requests per second, default 2
	RateBurst   int        // default 4
	MaxBodySize int64      // response body cap in bytes, default 10 MiB
}

// DefaultConfig returns conservative polling defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		UserAgent:   defaultUserAgent,
		RateLimit:   2,
		RateBurst:   4,
		MaxBodySize: 10 << 20,
	}
}

// Client is a rate-limited HTTP client with a typed error taxonomy.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     Config
}

// NewClient creates a client. A zero Config is replaced with defaults
// field by field.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		cfg:     cfg,
	}
}

// Get performs a rate-limited GET.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, headers)
}

// Post performs a rate-limited POST with the given body.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, body, headers)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, &ProtocolError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodySize))
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{URL: rawURL, Timeout: c.cfg.Timeout}
		}
		return nil, &ProtocolError{URL: rawURL, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		Headers:    resp.Header,
	}, nil
}

// classify maps transport errors onto the taxonomy. Timeouts win over
// generic network failures.
func (c *Client) classify(rawURL string, err error) error {
	if isTimeout(err) {
		return &TimeoutError{URL: rawURL, Timeout: c.cfg.Timeout}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var dnsErr *net.DNSError
		var opErr *net.OpError
		if errors.As(urlErr.Err, &dnsErr) || errors.As(urlErr.Err, &opErr) {
			return &NetworkError{URL: rawURL, Err: urlErr.Err}
		}
		return &ProtocolError{URL: rawURL, Err: urlErr.Err}
	}
	return &NetworkError{URL: rawURL, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
