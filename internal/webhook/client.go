package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixeledge/internal/id"
)

const (
	HeaderSignature = "X-Pixeledge-Signature"
	HeaderTimestamp = "X-Pixeledge-Timestamp"
	HeaderEvent     = "X-Pixeledge-Event"
	HeaderDelivery  = "X-Pixeledge-Delivery"
)

var errPermanent = errors.New("permanent webhook failure")

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Envelope is the JSON body of every delivery. Retries of one delivery reuse
// the same ID so receivers can deduplicate.
type Envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
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
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 1 * time.Second
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		now:            time.Now,
	}
}

// Send delivers data wrapped in an Envelope. An empty endpoint is a no-op.
// Client errors other than 408 and 429 are not retried.
func (c *Client) Send(ctx context.Context, endpoint, event string, data any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	now := c.now().UTC()
	envelope := Envelope{
		ID:        id.NewWithPrefix("dlv"),
		Event:     event,
		CreatedAt: now,
		Data:      data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(now.Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		attempts = attempt
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.deliver(ctx, endpoint, envelope, timestamp, signature, body)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, errPermanent) || attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = minDuration(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) deliver(ctx context.Context, endpoint string, envelope Envelope, timestamp, signature string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %v: %w", err, errPermanent)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, envelope.Event)
	req.Header.Set(HeaderDelivery, envelope.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// Sign returns the signature header value for a delivery: HMAC-SHA256 over
// timestamp + "." + body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status=%d", status)
	case status >= 400 && status < 500:
		return fmt.Errorf("webhook returned status=%d: %w", status, errPermanent)
	default:
		return fmt.Errorf("webhook returned status=%d", status)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
