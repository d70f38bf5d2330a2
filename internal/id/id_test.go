package id

import (
	"strings"
	"testing"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		v := New()
		if len(v) != 32 {
			t.Fatalf("expected 32 hex chars, got %q", v)
		}
		if _, ok := seen[v]; ok {
			t.Fatalf("duplicate id %s", v)
		}
		seen[v] = struct{}{}
	}
}

func TestNewWithPrefix(t *testing.T) {
	if v := NewWithPrefix("warm"); !strings.HasPrefix(v, "warm_") || len(v) != len("warm_")+32 {
		t.Fatalf("unexpected prefixed id %q", v)
	}
	if v := NewWithPrefix(""); strings.Contains(v, "_") {
		t.Fatalf("expected bare id, got %q", v)
	}
}
