package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/fandomwatch/internal/model"
)

func testRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := NewRateLimiter(cfg, nil)
	t.Cleanup(rl.Stop)
	return rl
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(method, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, "/api/test", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 2, GeneralBurst: 5, SubmitRate: 1, SubmitBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom(http.MethodGet, "10.0.0.1:5000"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: rate.Limit(0.5), GeneralBurst: 2, SubmitRate: 1, SubmitBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodGet, "10.0.0.2:5000"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodGet, "10.0.0.2:5000"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("429 body is not JSON: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 0.01, GeneralBurst: 1, SubmitRate: 1, SubmitBurst: 1})
	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodGet, "10.0.0.3:1000"))

	// 同一IPは別ポートでも同じクライアントとして扱う
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodGet, "10.0.0.3:2000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same client: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodGet, "10.0.0.4:1000"))
	if w.Code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", w.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestSubmitMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 100, GeneralBurst: 100, SubmitRate: 0.01, SubmitBurst: 1})
	handler := rl.GeneralMiddleware()(rl.SubmitMiddleware()(okHandler()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodPost, "10.0.0.5:1000"))
	if w.Code != http.StatusOK {
		t.Fatalf("first submit: status = %d, want 200", w.Code)
	}
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom(http.MethodPost, "10.0.0.5:1000"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second submit: status = %d, want 429", w.Code)
	}

	general := rl.GeneralMiddleware()(okHandler())
	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestFrom(http.MethodGet, "10.0.0.5:1000"))
	if w.Code != http.StatusOK {
		t.Errorf("general after submit limit: status = %d, want 200", w.Code)
	}
	if rl.SubmitLimiterCount() != 1 {
		t.Errorf("SubmitLimiterCount = %d, want 1", rl.SubmitLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := testRateLimiter(t, RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, SubmitRate: 1, SubmitBurst: 1, CleanupInterval: time.Minute})

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodGet, "10.0.0.6:1"))
	rl.SubmitMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestFrom(http.MethodPost, "10.0.0.6:1"))

	rl.cleanup(time.Now().Add(time.Minute))
	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("within TTL: GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if rl.GeneralLimiterCount() != 0 || rl.SubmitLimiterCount() != 0 {
		t.Errorf("after TTL: general=%d submit=%d, want 0/0", rl.GeneralLimiterCount(), rl.SubmitLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(), nil)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiterConfigFromPerMinute(t *testing.T) {
	cfg := RateLimiterConfigFromPerMinute(60)
	if cfg.GeneralRate != 1 || cfg.GeneralBurst != 60 {
		t.Errorf("60/min: rate=%v burst=%d, want 1/60", cfg.GeneralRate, cfg.GeneralBurst)
	}

	def := DefaultRateLimiterConfig()
	if got := RateLimiterConfigFromPerMinute(0); got != def {
		t.Errorf("0 should fall back to defaults: %+v", got)
	}
	if def.SubmitBurst != 10 || def.CleanupInterval != 5*time.Minute {
		t.Errorf("DefaultRateLimiterConfig = %+v", def)
	}
}
