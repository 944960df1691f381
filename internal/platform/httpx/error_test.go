package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/brewline/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("insufficient_stock", "not enough\nmilk", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"shortages": []string{"milk"}}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Fatalf("shortage must not ask for a retry")
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["success"] != false || payload["error"] != "insufficient_stock" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["message"] != "not enough milk" {
		t.Fatalf("expected flattened message, got %v", payload["message"])
	}
	if payload["request_id"] != "req-1" || payload["trace_id"] != "trace-1" {
		t.Fatalf("expected request and trace ids, got %v", payload)
	}
	if _, ok := payload["retryable"]; ok {
		t.Fatalf("expected retryable to be omitted, got %v", payload["retryable"])
	}
	details, ok := payload["details"].(map[string]any)
	if !ok || details["shortages"] == nil {
		t.Fatalf("expected details, got %v", payload["details"])
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("stock_deduction_failed", "stock service unreachable", http.StatusBadGateway).
		WithRetryAfter(1500*time.Millisecond))

	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}
	var payload struct {
		Retryable bool   `json:"retryable"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Retryable || payload.RequestID != "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestNewErrorDefaultsAndLimits(t *testing.T) {
	err := NewError(strings.Repeat("x", 100), "boom", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500, got %d", err.Status)
	}
	if len(err.Code) != codeLimit {
		t.Fatalf("expected code truncated to %d, got %d", codeLimit, len(err.Code))
	}

	name := strings.Repeat("抹茶ラテ", 200)
	err = NewError("catalog_item_not_found", name, http.StatusNotFound)
	if !utf8.ValidString(err.Message) || utf8.RuneCountInString(err.Message) != messageLimit {
		t.Fatalf("expected %d whole runes, got %d (valid=%v)", messageLimit, utf8.RuneCountInString(err.Message), utf8.ValidString(err.Message))
	}
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusCreated, map[string]string{"id": "order-1"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var payload struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Success || payload.Data["id"] != "order-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
