package id

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// New returns 32 hex characters of randomness.
func New() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "t" + strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b[:])
}

// NewWithPrefix returns prefix + "_" + New(), e.g. "warm_3f9c...".
func NewWithPrefix(prefix string) string {
	if prefix == "" {
		return New()
	}
	return prefix + "_" + New()
}
