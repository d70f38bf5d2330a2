package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeWarmVariant = "variant:warm"

// WarmVariantPayload asks a worker to build one variant ahead of viewer
// traffic. URI and Query are the viewer request as it would reach the edge.
type WarmVariantPayload struct {
	WarmID      string            `json:"warm_id"`
	URI         string            `json:"uri"`
	Query       map[string]string `json:"query,omitempty"`
	CacheKey    string            `json:"cache_key"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

func NewWarmVariantTask(payload WarmVariantPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.URI) == "" {
		return nil, fmt.Errorf("warm payload requires uri")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal warm payload: %w", err)
	}
	return asynq.NewTask(TypeWarmVariant, body), nil
}

func ParseWarmVariantPayload(task *asynq.Task) (WarmVariantPayload, error) {
	var payload WarmVariantPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return WarmVariantPayload{}, fmt.Errorf("unmarshal warm payload: %w", err)
	}
	if strings.TrimSpace(payload.URI) == "" {
		return WarmVariantPayload{}, fmt.Errorf("warm payload missing uri")
	}
	return payload, nil
}
