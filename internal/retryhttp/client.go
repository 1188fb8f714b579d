// Package retryhttp wraps outbound HTTP calls with bounded retry,
// exponential backoff, and an overall deadline. Both the source download
// and the generation API calls go through the same client, parameterized
// by a Policy.
package retryhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy describes how a logical operation is retried: how many attempts,
// the base delay of the exponential backoff schedule (base, 2x, 4x, ...),
// and the overall deadline covering all attempts together.
type Policy struct {
	Attempts  uint
	BaseDelay time.Duration
	Deadline  time.Duration
}

// DownloadPolicy suits fetching a source document: short calls, fail fast.
func DownloadPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 1 * time.Second, Deadline: 90 * time.Second}
}

// GenerationPolicy suits chat-completion calls, which routinely run for
// minutes when the model is producing a large fragment.
func GenerationPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 2 * time.Second, Deadline: 10 * time.Minute}
}

// OpError is the typed failure raised after a policy is exhausted or a
// non-recoverable response is seen. Op is a human-readable label for the
// logical operation, e.g. "download source document".
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// StatusError is returned when the server answered but with a status the
// caller cannot recover from (or retries on retryable statuses ran out).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Request is one logical outbound call. Body may be nil for GET.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// RetryStatus overrides the default retryable-status check
	// (408, 429 and 5xx). Return true to retry the attempt.
	RetryStatus func(status int) bool
}

// Client performs requests under a Policy.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// New returns a Client. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	// Per-attempt timeouts come from the Policy deadline context,
	// so the underlying client carries none of its own.
	return &Client{http: &http.Client{}, logger: logger}
}

// Do performs the request under pol, retrying transient failures with
// exponential backoff. On success it returns the response body. On failure
// it returns an *OpError labeled with op, wrapping the last underlying
// error. Non-recoverable statuses (4xx other than 408/429 by default) abort
// immediately without burning the remaining attempts.
func (c *Client) Do(ctx context.Context, op string, pol Policy, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, pol.Deadline)
	defer cancel()

	retryStatus := req.RetryStatus
	if retryStatus == nil {
		retryStatus = defaultRetryStatus
	}

	attempt := 0
	body, err := retry.DoWithData(
		func() ([]byte, error) {
			attempt++
			return c.attempt(ctx, op, req, retryStatus, attempt)
		},
		retry.Context(ctx),
		retry.Attempts(pol.Attempts),
		retry.Delay(pol.BaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, &OpError{Op: op, Err: err}
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, op string, req Request, retryStatus func(int) bool, attempt int) ([]byte, error) {
	var rd io.Reader
	if req.Body != nil {
		rd = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, rd)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("request attempt failed", "op", op, "attempt", attempt, "error", err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("failed to read response", "op", op, "attempt", attempt, "error", err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(respBody)}
		if retryStatus(resp.StatusCode) {
			c.logger.Warn("retryable status", "op", op, "attempt", attempt, "status", resp.StatusCode)
			return nil, statusErr
		}
		return nil, retry.Unrecoverable(statusErr)
	}

	return respBody, nil
}

// defaultRetryStatus retries timeouts, rate limits and server errors.
// Auth and client errors are not recoverable by repeating the request.
func defaultRetryStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
