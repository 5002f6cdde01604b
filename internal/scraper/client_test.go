package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// mockGuard はURLValidatorのモック。NewSafeClientはテストサーバー用の通常クライアントを返す。
type mockGuard struct {
	validateFn func(rawURL string) error
	validated  []string
}

func (m *mockGuard) ValidateURL(rawURL string) error {
	m.validated = append(m.validated, rawURL)
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

func (m *mockGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestFetchDataset_ByID(t *testing.T) {
	var gotPath, gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("Authorization")
		w.Write([]byte(`[{"id":"v1","playCount":1000,"diggCount":10},"garbage",{"id":"v2","diggCount":"5"}]`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), nil, newTestLogger(), Options{BaseURL: server.URL, Token: "secret"})
	records, err := c.FetchDataset(context.Background(), "ds123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v2/datasets/ds123/items" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", gotToken)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (non-object skipped)", len(records))
	}
	n, ok := records[0]["playCount"].(json.Number)
	if !ok || n.String() != "1000" {
		t.Errorf("playCount = %#v, want json.Number 1000", records[0]["playCount"])
	}
}

func TestFetchDataset_ItemsEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"id":"a"},{"id":"b"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), nil, newTestLogger(), Options{BaseURL: server.URL})
	records, err := c.FetchDataset(context.Background(), "ds")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
}

func TestFetchDataset_URLHandle_ValidatedAndFetched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"x"}]`))
	}))
	defer server.Close()

	guard := &mockGuard{}
	api := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("URL handles must not use the provider API client")
		return nil, nil
	})}
	c := NewClient(api, guard, newTestLogger(), Options{BaseURL: "https://api.example.com"})

	records, err := c.FetchDataset(context.Background(), server.URL+"/export.json?token=abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want 1", len(records))
	}
	if len(guard.validated) != 1 {
		t.Errorf("ValidateURL calls = %d, want 1", len(guard.validated))
	}
}

func TestFetchDataset_URLHandle_Blocked(t *testing.T) {
	guard := &mockGuard{validateFn: func(string) error { return errors.New("blocked IP address: 10.0.0.1") }}
	c := NewClient(http.DefaultClient, guard, newTestLogger(), Options{})

	_, err := c.FetchDataset(context.Background(), "http://10.0.0.1/items")
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Errorf("error = %v, want blocked", err)
	}
}

func TestFetchDataset_URLHandle_WithoutGuardRejected(t *testing.T) {
	c := NewClient(http.DefaultClient, nil, newTestLogger(), Options{})
	if _, err := c.FetchDataset(context.Background(), "https://example.com/items"); err == nil {
		t.Error("expected error when no guard is configured")
	}
}

func TestFetchDataset_Non200_IsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.Client(), nil, newTestLogger(), Options{BaseURL: server.URL})
	_, err := c.FetchDataset(context.Background(), "ds")

	var tn *model.TransientNetworkError
	if !errors.As(err, &tn) {
		t.Fatalf("error = %v, want TransientNetworkError", err)
	}
	if tn.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", tn.StatusCode)
	}
}

func TestFetchDataset_MalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `[{"id":`},
		{"scalar", `42`},
		{"object without items", `{"data":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewClient(server.Client(), nil, newTestLogger(), Options{BaseURL: server.URL})
			_, err := c.FetchDataset(context.Background(), "ds")

			var me *model.MalformedInputError
			if !errors.As(err, &me) {
				t.Errorf("error = %v, want MalformedInputError", err)
			}
		})
	}
}

func TestFetchDataset_ExceedsMaxSize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[` + strings.Repeat(`{"id":"x"},`, 100) + `{"id":"y"}]`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), nil, newTestLogger(), Options{BaseURL: server.URL, MaxSize: 64})
	_, err := c.FetchDataset(context.Background(), "ds")

	var me *model.MalformedInputError
	if !errors.As(err, &me) {
		t.Errorf("error = %v, want MalformedInputError for oversized dataset", err)
	}
}

func TestFetchDataset_EmptyHandle(t *testing.T) {
	c := NewClient(http.DefaultClient, nil, newTestLogger(), Options{})
	if _, err := c.FetchDataset(context.Background(), "  "); err == nil {
		t.Error("expected error for empty handle")
	}
}

func TestStartRun(t *testing.T) {
	var gotPath string
	var gotInput map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		json.NewDecoder(r.Body).Decode(&gotInput)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"run-1","actId":"act","status":"RUNNING","defaultDatasetId":"ds-9"}}`))
	}))
	defer server.Close()

	c := NewClient(server.Client(), nil, newTestLogger(), Options{BaseURL: server.URL, Token: "tok"})
	run, err := c.StartRun(context.Background(), "clockworks/tiktok-scraper", map[string]any{"resultsPerPage": 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v2/acts/clockworks~tiktok-scraper/runs" {
		t.Errorf("path = %q", gotPath)
	}
	if gotInput["resultsPerPage"] != float64(50) {
		t.Errorf("input = %v", gotInput)
	}
	if run.ID != "run-1" || run.DatasetID != "ds-9" {
		t.Errorf("run = %+v", run)
	}
}

func TestStartRun_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad-json") {
			w.Write([]byte(`{"data":{}}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient(server.Client(), nil, newTestLogger(), Options{BaseURL: server.URL})

	var tn *model.TransientNetworkError
	if _, err := c.StartRun(context.Background(), "x/denied", nil); !errors.As(err, &tn) {
		t.Errorf("error = %v, want TransientNetworkError", err)
	}
	var me *model.MalformedInputError
	if _, err := c.StartRun(context.Background(), "x/bad-json", nil); !errors.As(err, &me) {
		t.Errorf("error = %v, want MalformedInputError", err)
	}
	if _, err := c.StartRun(context.Background(), "", nil); !errors.As(err, &me) {
		t.Errorf("empty actor: error = %v, want MalformedInputError", err)
	}
}

func TestRedactHandle(t *testing.T) {
	got := redactHandle("https://user:pw@example.com/items?token=secret")
	if strings.Contains(got, "secret") || strings.Contains(got, "pw") {
		t.Errorf("redactHandle leaked credentials: %q", got)
	}
	if redactHandle("ds123") != "ds123" {
		t.Error("dataset ids should pass through unchanged")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
