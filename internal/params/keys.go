package params

import (
	"errors"
	"fmt"
	"strings"
)

const DefaultCachePrefix = "_cf/"

var ErrInvalidKey = errors.New("invalid original key")

// OriginalKey strips the leading slash and the trailing parameter segment
// from a variant URI, yielding the storage key of the untransformed asset.
func OriginalKey(uri string) (string, error) {
	trimmed := strings.TrimPrefix(uri, "/")
	idx := strings.LastIndexByte(trimmed, '/')
	if idx < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, "")
	}

	key := trimmed[:idx]
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}

// CacheKey is the storage key a variant URI is written under.
func CacheKey(prefix, uri string) string {
	return prefix + strings.TrimPrefix(uri, "/")
}

// LastSegment returns the final path element of uri.
func LastSegment(uri string) string {
	idx := strings.LastIndexByte(uri, '/')
	return uri[idx+1:]
}
