// Package federation fetches remote documents and delivers activities to remote inboxes.
package federation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fedibird/fedimind/pkg/logging"
)

const (
	activityJSON = "application/activity+json"
	ldJSON       = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	maxBodyBytes = 1 << 20
	userAgent    = "fedimind/0.1"
)

var (
	// ErrNotFound is returned when the remote document is gone or never existed
	ErrNotFound = errors.New("remote document not found")
	// ErrTimeout is returned when the remote server did not answer in time
	ErrTimeout = errors.New("remote fetch timed out")
)

// StatusError is returned for unexpected HTTP statuses
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// Temporary reports whether retrying may succeed
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client talks to remote servers over an instrumented transport
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a client whose requests are bounded by timeout
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout: timeout,
		logger:  logging.WithComponent("federation"),
	}
}

// NewClientWithHTTP wraps an existing http.Client
func NewClientWithHTTP(hc *http.Client, timeout time.Duration) *Client {
	return &Client{http: hc, timeout: timeout, logger: logging.WithComponent("federation")}
}

// Fetch retrieves an ActivityStreams document
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url, activityJSON+", "+ldJSON)
}

// FetchPage retrieves an HTML page, used for link previews
func (c *Client) FetchPage(ctx context.Context, url string) ([]byte, error) {
	return c.get(ctx, url, "text/html")
}

// Probe issues a HEAD request and returns the content type and length
func (c *Client) Probe(ctx context.Context, url string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, classify(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(url, resp.StatusCode); err != nil {
		return "", 0, err
	}
	return resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

// Deliver posts an activity to an inbox
func (c *Client) Deliver(ctx context.Context, inbox string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", activityJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return classify(ctx, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if err := checkStatus(inbox, resp.StatusCode); err != nil {
		return err
	}
	c.logger.Debug("Delivered activity", zap.String("inbox", inbox), zap.Int("status", resp.StatusCode))
	return nil
}

func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(url, resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return body, nil
}

func checkStatus(url string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%s: %w", url, ErrNotFound)
	default:
		return &StatusError{URL: url, Code: code}
	}
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
