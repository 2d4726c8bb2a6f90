// Package fetch is the HTTP side of the scrapers: one JSON request per call,
// retried on throttling, server errors and network failures, decoded into an
// extract document.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"scrape/internal/extract"
	"scrape/internal/metrics"

	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"
)

// DefaultUserAgent is sent unless SCRAPE_USER_AGENT or Options.UserAgent
// overrides it.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Request describes one call. Body, when non-nil, is sent as JSON.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Body    any
	Headers map[string]string
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Snippet    string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: http %d", e.Method, e.URL, e.StatusCode)
	if e.Snippet != "" {
		msg += ": " + e.Snippet
	}
	return msg
}

// Options configure a Client. Zero values pick the defaults noted per field.
type Options struct {
	// Site labels metrics and log lines.
	Site string

	// Timeout per attempt. Default 30s.
	Timeout time.Duration

	// MaxAttempts including the first. Default 4.
	MaxAttempts int

	// BaseBackoff doubles per retry up to MaxBackoff. Defaults 1s and 30s.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	UserAgent string
	Headers   map[string]string
	Logger    *slog.Logger

	// HTTPClient replaces the transport client (tests).
	HTTPClient *http.Client
}

// Client performs JSON requests.
type Client struct {
	rc   *resty.Client
	opts Options
	log  *slog.Logger
}

// New builds a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = strings.TrimSpace(os.Getenv("SCRAPE_USER_AGENT"))
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetTimeout(opts.Timeout)
	rc.SetHeader("User-Agent", opts.UserAgent)
	rc.SetHeader("Accept", "application/json")
	rc.SetHeaders(opts.Headers)

	return &Client{rc: rc, opts: opts, log: log.With("site", opts.Site)}
}

// Get issues a GET with query parameters.
func (c *Client) Get(ctx context.Context, rawURL string, q url.Values) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Query: q})
}

// PostJSON issues a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body any) (any, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: rawURL, Body: body})
}

// Do performs req with retries and decodes the response body.
//
// 429, 5xx and transport errors are retried; other statuses fail at once with
// a *StatusError. A 429 carrying Retry-After waits that long instead of the
// exponential backoff.
func (c *Client) Do(ctx context.Context, req Request) (any, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	var body []byte
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			b, err := c.attempt(ctx, req, attempt)
			if err != nil {
				if !retryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.opts.MaxAttempts)),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return nextRetryDelay(err, n, c.opts.BaseBackoff, c.opts.MaxBackoff)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	doc, err := extract.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	return doc, nil
}

func (c *Client) attempt(ctx context.Context, req Request, attempt int) ([]byte, error) {
	r := c.rc.R().SetContext(ctx).SetHeaders(req.Headers)
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	start := time.Now()
	res, err := r.Execute(req.Method, req.URL)
	dur := time.Since(start)

	status := 0
	size := int64(-1)
	if res != nil && res.RawResponse != nil {
		status = res.StatusCode()
		size = int64(len(res.Body()))
	}

	if err == nil && (status < 200 || status > 299) {
		err = &StatusError{
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: status,
			RetryAfter: parseRetryAfter(res.Header(), time.Now()),
			Snippet:    snippet(res.Body(), 200),
		}
	}

	metrics.RecordHTTP(c.opts.Site, status, err, dur, size)

	attrs := []any{
		"method", req.Method,
		"url", req.URL,
		"attempt", attempt,
		"http_code", status,
		"duration_ms", dur.Milliseconds(),
		"size_bytes", size,
	}
	if err != nil {
		c.log.WarnContext(ctx, "http attempt failed", append(attrs, "error", err.Error())...)
		return nil, err
	}
	c.log.DebugContext(ctx, "http attempt", attrs...)
	return res.Body(), nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

// nextRetryDelay returns the wait after the n-th failed attempt (n from 0).
// A 429 Retry-After replaces the backoff but is still capped at max.
func nextRetryDelay(err error, n uint, base, max time.Duration) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests && se.RetryAfter > 0 {
		return min(se.RetryAfter, max)
	}
	if n > 30 {
		return max
	}
	d := base << n
	if d <= 0 || d > max {
		d = max
	}
	return d
}

// parseRetryAfter reads delta-seconds or an HTTP-date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}
