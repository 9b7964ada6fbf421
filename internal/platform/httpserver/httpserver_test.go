package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestWrap_SetsRequestIDHeader_WhenMissing(t *testing.T) {
	mux := http.NewServeMux()
	var seen string
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Wrap(discardLogger(), "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	got := rec.Header().Get(HeaderRequestID)
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("expected uuid request id, got %q err=%v", got, err)
	}
	if seen != got {
		t.Fatalf("context request id=%q, header=%q", seen, got)
	}
}

func TestWrap_PreservesRequestIDHeader_WhenProvided(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Wrap(discardLogger(), "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set(HeaderRequestID, "rid-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != "rid-123" {
		t.Fatalf("X-Request-Id=%q, want rid-123", got)
	}
}

func TestWrap_LogsServiceAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	h := Wrap(logger, "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/x", nil)
	req.Header.Set(HeaderRequestID, "rid-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log: %v (%s)", err, buf.String())
	}
	if entry["service"] != "testsvc" || entry["request_id"] != "rid-7" || entry["status"] != float64(http.StatusAccepted) {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestWrap_RecoversPanic(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	h := Wrap(discardLogger(), "testsvc", mux)

	req := httptest.NewRequest(http.MethodGet, "http://example.test/", nil)
	req.Header.Set(HeaderRequestID, "rid-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type=%q, want application/json", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["request_id"] != "rid-9" {
		t.Fatalf("request_id=%v", body["request_id"])
	}
}

func TestReadyzWithChecks_ReportsFailure(t *testing.T) {
	h := ReadyzWithChecks("testsvc",
		ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "queue", Check: func(context.Context) error { return errors.New("down") }},
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "not_ready" || len(body.Checks) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.Checks[1].Status != "fail" || body.Checks[1].Error != "down" {
		t.Fatalf("unexpected queue check: %+v", body.Checks[1])
	}
}

func TestWithTimeout(t *testing.T) {
	check := WithTimeout(10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := check(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg, err := ConfigFromEnv("sequence-engine")
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q", cfg.Addr)
	}
	if err := (Config{Addr: ":1"}).Validate(); err == nil {
		t.Fatalf("expected missing service error")
	}
}
