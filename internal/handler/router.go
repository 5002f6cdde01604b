package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/fandomwatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	StatusObserver    middleware.StatusObserver

	// 取り込み
	IngestService IngestServiceInterface
	Runs          RunFinder
	ScrapeStarter ScrapeStarter

	// 候補・推薦・地域別関心度
	DiscoveryService DiscoveryServiceInterface
	Recommender      Recommender
	RegionalInterest RegionalInterestFetcher

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// ジョブ投入系（取り込み要求・スクレイプ開始・マイニング）には専用のレート制限を追加する。
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	ingestHandler := NewIngestHandler(deps.IngestService, deps.Runs, deps.ScrapeStarter)
	discoveryHandler := NewDiscoveryHandler(deps.DiscoveryService)
	recommendationHandler := NewRecommendationHandler(deps.Recommender, logger)
	trendsHandler := NewTrendsHandler(deps.RegionalInterest)

	// --- 運用エンドポイント ---
	r.Get("/health", HealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		r.Use(limiter.GeneralMiddleware())
		submit := limiter.SubmitMiddleware()

		r.With(submit).Post("/api/ingest", ingestHandler.SubmitIngest)
		r.With(submit).Post("/api/scrapes", ingestHandler.StartScrape)
		r.Get("/api/runs/{id}", ingestHandler.GetRun)

		r.Route("/api/discoveries", func(r chi.Router) {
			r.Get("/", discoveryHandler.ListDiscoveries)
			r.With(submit).Post("/mine", discoveryHandler.MineDiscoveries)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/dismiss", discoveryHandler.DismissDiscovery)
				r.Post("/track", discoveryHandler.TrackDiscovery)
				r.Post("/clear", discoveryHandler.ClearDiscovery)
			})
		})

		r.Get("/api/recommendations", recommendationHandler.ListRecommendations)
		r.Get("/api/regional-interest", trendsHandler.GetRegionalInterest)
	})

	return r
}
