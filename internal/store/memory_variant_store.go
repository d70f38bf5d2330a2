package store

import (
	"context"
	"sync"

	"github.com/dunamismax/pixeledge/internal/domain"
)

type MemoryVariantStore struct {
	mu       sync.RWMutex
	variants map[string]domain.Variant
}

func NewMemoryVariantStore() *MemoryVariantStore {
	return &MemoryVariantStore{
		variants: make(map[string]domain.Variant),
	}
}

func (s *MemoryVariantStore) RecordVariant(_ context.Context, variant domain.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[variant.CacheKey] = variant
	return nil
}

func (s *MemoryVariantStore) GetVariant(_ context.Context, cacheKey string) (domain.Variant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	variant, ok := s.variants[cacheKey]
	return variant, ok, nil
}
