// Package webhook posts signed job notifications to caller-supplied URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/laundrylens/internal/id"
)

const (
	HeaderSignature = "X-Laundrylens-Signature"
	HeaderTimestamp = "X-Laundrylens-Timestamp"
	HeaderEvent     = "X-Laundrylens-Event"
	HeaderDelivery  = "X-Laundrylens-Delivery"
	HeaderAttempt   = "X-Laundrylens-Attempt"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		now:            time.Now,
	}
}

// attemptError is the outcome of one failed POST.
type attemptError struct {
	status     int
	retryAfter time.Duration
	permanent  bool
	err        error
}

func (e *attemptError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("webhook returned status=%d", e.status)
}

func (e *attemptError) Unwrap() error { return e.err }

// retryable reports whether another attempt could succeed. Client errors other
// than 408 and 429 will not change on retry.
func (e *attemptError) retryable() bool {
	switch {
	case e.permanent:
		return false
	case e.status == 0:
		return true
	case e.status == http.StatusRequestTimeout, e.status == http.StatusTooManyRequests:
		return true
	case e.status >= 400 && e.status < 500:
		return false
	default:
		return true
	}
}

// Send posts d to endpoint, retrying with exponential backoff. An empty
// endpoint is a no-op. Every attempt carries the same delivery ID and
// signature so receivers can drop duplicates.
func (c *Client) Send(ctx context.Context, endpoint string, d Delivery) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if d.ID == "" {
		d.ID = id.New()
	}
	if d.OccurredAt.IsZero() {
		d.OccurredAt = c.now().UTC()
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal webhook delivery: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var last *attemptError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		last = c.post(ctx, endpoint, d, body, timestamp, signature, attempt)
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == c.maxAttempts || !last.retryable() {
			break
		}

		wait := backoff
		if last.retryAfter > 0 {
			wait = min(last.retryAfter, c.maxBackoff)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery %s failed: %w", d.ID, last)
}

func (c *Client) post(ctx context.Context, endpoint string, d Delivery, body []byte, timestamp, signature string, attempt int) *attemptError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &attemptError{permanent: true, err: fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, d.Event)
	req.Header.Set(HeaderDelivery, d.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &attemptError{err: err}
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &attemptError{
		status:     resp.StatusCode,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter accepts the delay-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	sec, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

// IsPermanent reports whether err came from a response that retrying will not
// fix.
func IsPermanent(err error) bool {
	var ae *attemptError
	return errors.As(err, &ae) && !ae.retryable()
}
