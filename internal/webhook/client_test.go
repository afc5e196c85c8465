package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestSendPostsSignedDelivery(t *testing.T) {
	var (
		header http.Header
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testClient(1).Send(context.Background(), srv.URL, Delivery{
		Event: "upload.compressed",
		JobID: "job-1",
		Data:  Compressed{Status: "succeeded", Output: Output{Name: "care-label.jpg", Width: 100, Height: 50}},
	})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if header.Get(HeaderEvent) != "upload.compressed" {
		t.Fatalf("expected event header upload.compressed, got %q", header.Get(HeaderEvent))
	}
	if header.Get(HeaderAttempt) != "1" {
		t.Fatalf("expected attempt 1, got %q", header.Get(HeaderAttempt))
	}
	if err := Verify("test-secret", header, body, time.Now(), time.Minute); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}

	var got struct {
		ID    string `json:"id"`
		Event string `json:"event"`
		JobID string `json:"job_id"`
		Data  struct {
			Output Output `json:"output"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID == "" || got.ID != header.Get(HeaderDelivery) {
		t.Fatalf("expected delivery id %q in body and header, got %q", header.Get(HeaderDelivery), got.ID)
	}
	if got.JobID != "job-1" || got.Data.Output.Name != "care-label.jpg" || got.Data.Output.Width != 100 {
		t.Fatalf("unexpected delivery body %s", body)
	}
}

func TestSendRetriesServerErrorsWithStableDeliveryID(t *testing.T) {
	var (
		mu       sync.Mutex
		ids      []string
		attempts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(HeaderDelivery))
		attempts = append(attempts, r.Header.Get(HeaderAttempt))
		n := len(ids)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testClient(3).Send(context.Background(), srv.URL, Delivery{Event: "upload.compressed", JobID: "job-1"}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(ids))
	}
	if ids[0] == "" || ids[0] != ids[1] || ids[1] != ids[2] {
		t.Fatalf("expected one delivery id across attempts, got %v", ids)
	}
	if attempts[2] != "3" {
		t.Fatalf("expected attempt header 3 on the last try, got %v", attempts)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := testClient(4).Send(context.Background(), srv.URL, Delivery{Event: "upload.failed", JobID: "job-2"})
	if err == nil {
		t.Fatal("expected delivery error for 410 response")
	}
	if !IsPermanent(err) {
		t.Fatalf("expected a permanent error, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestSendRetriesTooManyRequests(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	started := time.Now()
	if err := testClient(2).Send(context.Background(), srv.URL, Delivery{Event: "upload.compressed"}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("expected Retry-After to be capped by max backoff, took %s", elapsed)
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	if err := testClient(1).Send(context.Background(), "  ", Delivery{Event: "upload.compressed"}); err != nil {
		t.Fatalf("expected no-op for empty endpoint, got %v", err)
	}
}

func TestSignMatchesHMAC(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte("1700000000.{}"))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if got := Sign("s3cret", "1700000000", []byte("{}")); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestVerify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"event":"upload.compressed"}`)

	header := http.Header{}
	header.Set(HeaderTimestamp, "1700000000")
	header.Set(HeaderSignature, Sign("s3cret", "1700000000", body))

	if err := Verify("s3cret", header, body, now.Add(30*time.Second), time.Minute); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := Verify("other", header, body, now, time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong secret, got %v", err)
	}
	if err := Verify("s3cret", header, []byte(`{}`), now, time.Minute); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for altered body, got %v", err)
	}
	if err := Verify("s3cret", header, body, now.Add(10*time.Minute), time.Minute); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
	if err := Verify("s3cret", header, body, now.Add(10*time.Minute), 0); err != nil {
		t.Fatalf("expected zero tolerance to skip the age check, got %v", err)
	}
	if err := Verify("s3cret", http.Header{}, body, now, time.Minute); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}
