package store

import (
	"context"

	"github.com/dunamismax/pixeledge/internal/domain"
)

type VariantStore interface {
	RecordVariant(ctx context.Context, variant domain.Variant) error
	GetVariant(ctx context.Context, cacheKey string) (domain.Variant, bool, error)
}
