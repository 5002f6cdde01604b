package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/fandomwatch/internal/model"
)

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusConflict, model.NewDiscoveryFrozenError(model.DiscoveryStatusTracked))

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeDiscoveryFrozen {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeDiscoveryFrozen)
	}
	if body.Category != "discovery" {
		t.Errorf("category = %q, want discovery", body.Category)
	}
	if body.Message == "" || body.Action == "" {
		t.Errorf("message/action should not be empty: %+v", body)
	}
}

func TestWriteErrorResponse_AllFieldsPresent(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *model.APIError
	}{
		{"invalid segment", http.StatusBadRequest, model.NewInvalidSegmentError("enterprise")},
		{"run not found", http.StatusNotFound, model.NewRunNotFoundError("r1")},
		{"rate limited", http.StatusTooManyRequests, model.NewRateLimitedError(6)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var raw map[string]any
			if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			for _, field := range []string{"code", "message", "category", "action"} {
				if _, ok := raw[field]; !ok {
					t.Errorf("missing required field: %s", field)
				}
			}
			if raw["code"] != tt.err.Code {
				t.Errorf("code = %v, want %s", raw["code"], tt.err.Code)
			}
		})
	}
}

func TestWriteInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" {
		t.Errorf("body = %+v, want INTERNAL_ERROR/system", body)
	}
}

func TestWriteErrorResponse_NilErrorFallsBackToInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusInternalServerError, nil)

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
}
