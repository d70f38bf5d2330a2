package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	WarmStatusQueued = "queued"
	WarmStatusWarmed = "warmed"
	WarmStatusFailed = "failed"
)

// Variant is the ledger entry for a transformed object written to the cache
// prefix. Rewrites of the same cache key replace the entry.
type Variant struct {
	CacheKey    string    `json:"cache_key"`
	OriginalKey string    `json:"original_key"`
	Format      string    `json:"format"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Bytes       int       `json:"bytes"`
	ETag        string    `json:"etag"`
	CreatedAt   time.Time `json:"created_at"`
}

type WarmRequest struct {
	URI        string            `json:"uri"`
	Query      map[string]string `json:"query,omitempty"`
	WebhookURL string            `json:"webhook_url,omitempty"`
}

func (r WarmRequest) Validate() error {
	uri := strings.TrimSpace(r.URI)
	if uri == "" {
		return errors.New("uri is required")
	}
	if !strings.HasPrefix(uri, "/") {
		return fmt.Errorf("uri must start with '/': %s", r.URI)
	}
	if strings.ContainsAny(uri, "?#") {
		return errors.New("uri must not carry a query string or fragment; use query")
	}
	if strings.HasSuffix(uri, "/") {
		return errors.New("uri must name an object")
	}
	if r.WebhookURL != "" && !strings.HasPrefix(r.WebhookURL, "http://") && !strings.HasPrefix(r.WebhookURL, "https://") {
		return fmt.Errorf("unsupported webhook_url scheme: %s", r.WebhookURL)
	}
	return nil
}
