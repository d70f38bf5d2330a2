package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig      string
		gotTS       string
		gotEvt      string
		gotDelivery string
		gotBody     []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotDelivery = r.Header.Get(HeaderDelivery)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, "variant.warmed", map[string]any{"cache_key": "_cf/a.png/quality(100)w()h()format(png)"})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if want := Sign("test-secret", gotTS, gotBody); gotSig != want {
		t.Fatalf("expected signature %s, got %s", want, gotSig)
	}
	if gotEvt != "variant.warmed" {
		t.Fatalf("expected event header variant.warmed, got %q", gotEvt)
	}

	var envelope Envelope
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.ID == "" || envelope.ID != gotDelivery {
		t.Fatalf("expected delivery header to match envelope id, got header=%q id=%q", gotDelivery, envelope.ID)
	}
	if envelope.Event != "variant.warmed" {
		t.Fatalf("expected envelope event variant.warmed, got %q", envelope.Event)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var (
		calls      atomic.Int32
		deliveries = make(map[string]struct{})
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries[r.Header.Get(HeaderDelivery)] = struct{}{}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	if err := client.Send(context.Background(), srv.URL, "variant.failed", nil); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected retries to reuse one delivery id, got %d", len(deliveries))
	}
}

func TestSendStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 4, InitialBackoff: time.Millisecond})
	err := client.Send(context.Background(), srv.URL, "variant.failed", nil)
	if err == nil || !strings.Contains(err.Error(), "status=410") {
		t.Fatalf("expected status=410 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSendEmptyEndpointIsNoop(t *testing.T) {
	client := NewClient(Config{})
	if err := client.Send(context.Background(), "  ", "variant.warmed", nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
