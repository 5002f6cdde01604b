package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(t *testing.T, allowed, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := NewCORSMiddleware(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/recommendations", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func TestCORSMiddleware_AllowedOriginIsEchoed(t *testing.T) {
	w, called := serveCORS(t, "http://localhost:3000, https://dash.example.com", http.MethodGet, "https://dash.example.com")

	if !called {
		t.Error("next handler should be called")
	}
	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", "https://dash.example.com"},
		{"Access-Control-Allow-Methods", "GET, POST, OPTIONS"},
		{"Access-Control-Allow-Headers", "Content-Type"},
		{"Access-Control-Max-Age", "86400"},
		{"Vary", "Origin"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCORSMiddleware_UnknownOriginGetsNoAllowOrigin(t *testing.T) {
	w, called := serveCORS(t, "http://localhost:3000", http.MethodGet, "https://evil.example.com")

	if !called {
		t.Error("CORSは配信可否を決めないため、後続は呼ばれるべき")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	w, _ := serveCORS(t, "*", http.MethodGet, "https://any.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestCORSMiddleware_OptionsRequest_Returns204(t *testing.T) {
	w, called := serveCORS(t, "http://localhost:3000", http.MethodOptions, "http://localhost:3000")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("next handler should not be called for OPTIONS preflight")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
