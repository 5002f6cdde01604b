package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fandomwatch/internal/middleware"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/scraper"
)

// --- モック定義 ---

type mockIngestService struct {
	submitFn func(ctx context.Context, req model.IngestRequest) (*model.ScrapeRun, error)
}

func (m *mockIngestService) Submit(ctx context.Context, req model.IngestRequest) (*model.ScrapeRun, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, req)
	}
	return &model.ScrapeRun{ID: "run-1", Request: req, Status: model.ScrapeRunPending}, nil
}

type mockRunFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.ScrapeRun, error)
}

func (m *mockRunFinder) FindByID(ctx context.Context, id string) (*model.ScrapeRun, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

type mockScrapeStarter struct {
	startRunFn func(ctx context.Context, actorID string, input map[string]any) (*scraper.Run, error)
}

func (m *mockScrapeStarter) StartRun(ctx context.Context, actorID string, input map[string]any) (*scraper.Run, error) {
	if m.startRunFn != nil {
		return m.startRunFn(ctx, actorID, input)
	}
	return &scraper.Run{ID: "apify-run", ActorID: actorID, Status: "READY", DatasetID: "ds-1"}, nil
}

type mockDiscoveryService struct {
	listFn    func(ctx context.Context, status model.DiscoveryStatus) ([]*model.FandomDiscovery, error)
	mineFn    func(ctx context.Context) ([]model.FandomDiscovery, error)
	dismissFn func(ctx context.Context, id string) (*model.FandomDiscovery, error)
	clearFn   func(ctx context.Context, id string) (*model.FandomDiscovery, error)
	trackFn   func(ctx context.Context, id string) (*model.Fandom, error)
}

func (m *mockDiscoveryService) List(ctx context.Context, status model.DiscoveryStatus) ([]*model.FandomDiscovery, error) {
	if m.listFn != nil {
		return m.listFn(ctx, status)
	}
	return []*model.FandomDiscovery{}, nil
}

func (m *mockDiscoveryService) MineRecent(ctx context.Context) ([]model.FandomDiscovery, error) {
	if m.mineFn != nil {
		return m.mineFn(ctx)
	}
	return nil, nil
}

func (m *mockDiscoveryService) Dismiss(ctx context.Context, id string) (*model.FandomDiscovery, error) {
	if m.dismissFn != nil {
		return m.dismissFn(ctx, id)
	}
	return &model.FandomDiscovery{ID: id, Status: model.DiscoveryStatusDismissed}, nil
}

func (m *mockDiscoveryService) Clear(ctx context.Context, id string) (*model.FandomDiscovery, error) {
	if m.clearFn != nil {
		return m.clearFn(ctx, id)
	}
	return &model.FandomDiscovery{ID: id, Status: model.DiscoveryStatusCleared}, nil
}

func (m *mockDiscoveryService) Track(ctx context.Context, id string) (*model.Fandom, error) {
	if m.trackFn != nil {
		return m.trackFn(ctx, id)
	}
	return &model.Fandom{ID: "f-" + id, Slug: id, Name: id, Tier: model.TierEmerging}, nil
}

type mockRecommender struct {
	recommendFn func(ctx context.Context, segment model.MarketSegment) ([]model.Recommendation, error)
}

func (m *mockRecommender) Recommend(ctx context.Context, segment model.MarketSegment) ([]model.Recommendation, error) {
	if m.recommendFn != nil {
		return m.recommendFn(ctx, segment)
	}
	return []model.Recommendation{}, nil
}

type mockRegionalInterest struct {
	fetchFn func(ctx context.Context, keyword, geo, timeRange string) model.RegionalInterest
}

func (m *mockRegionalInterest) FetchRegionalInterest(ctx context.Context, keyword, geo, timeRange string) model.RegionalInterest {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, keyword, geo, timeRange)
	}
	return model.RegionalInterest{Keyword: keyword, Geo: geo, TimeRange: timeRange}
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

// --- テストヘルパー ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// testRouterDeps は全依存をモックで埋めたRouterDepsを返す。
func testRouterDeps(t *testing.T) *RouterDeps {
	t.Helper()
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate: 100, GeneralBurst: 100, SubmitRate: 100, SubmitBurst: 100, CleanupInterval: time.Minute,
	}, newTestLogger())
	t.Cleanup(limiter.Stop)
	return &RouterDeps{
		Logger:            newTestLogger(),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       limiter,
		IngestService:     &mockIngestService{},
		Runs:              &mockRunFinder{},
		ScrapeStarter:     &mockScrapeStarter{},
		DiscoveryService:  &mockDiscoveryService{},
		Recommender:       &mockRecommender{},
		RegionalInterest:  &mockRegionalInterest{},
	}
}
