package app

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/discovery"
	"github.com/hitoshi/fandomwatch/internal/events"
	"github.com/hitoshi/fandomwatch/internal/handler"
	"github.com/hitoshi/fandomwatch/internal/ingest"
	"github.com/hitoshi/fandomwatch/internal/metrics"
	"github.com/hitoshi/fandomwatch/internal/middleware"
	"github.com/hitoshi/fandomwatch/internal/recommend"
	"github.com/hitoshi/fandomwatch/internal/repository"
	"github.com/hitoshi/fandomwatch/internal/scraper"
	"github.com/hitoshi/fandomwatch/internal/security"
	"github.com/hitoshi/fandomwatch/internal/trends"
	"github.com/hitoshi/fandomwatch/internal/worker/cleanup"
	ingestworker "github.com/hitoshi/fandomwatch/internal/worker/ingest"
)

// repositories はサービス群が使うリポジトリの束。
type repositories struct {
	Fandoms     repository.FandomRepository
	Content     repository.ContentRepository
	Snapshots   repository.SnapshotRepository
	Influencers repository.InfluencerRepository
	Discoveries repository.DiscoveryRepository
	Runs        repository.ScrapeRunRepository
	Trends      repository.TrendRepository
}

// postgresRepositories はPostgreSQL実装のリポジトリ群を生成する。
func postgresRepositories(db *sql.DB) repositories {
	return repositories{
		Fandoms:     repository.NewPostgresFandomRepo(db),
		Content:     repository.NewPostgresContentRepo(db),
		Snapshots:   repository.NewPostgresSnapshotRepo(db),
		Influencers: repository.NewPostgresInfluencerRepo(db),
		Discoveries: repository.NewPostgresDiscoveryRepo(db),
		Runs:        repository.NewPostgresScrapeRunRepo(db),
		Trends:      repository.NewPostgresTrendRepo(db),
	}
}

// components はserve・worker・trendsの各モードが共有する組み立て済みの依存。
type components struct {
	registry  *prometheus.Registry
	collector *metrics.Collector
	publisher events.Publisher

	scraper   *scraper.Client
	trends    *trends.Client
	discovery *discovery.Service
	ingest    *ingest.Service
	recommend *recommend.Engine
	repos     repositories
}

// newComponents は設定とリポジトリから全サービスを組み立てる。
// publisherがnilの場合はイベントを送信しない。
func newComponents(cfg *config.Config, repos repositories, publisher events.Publisher, logger *slog.Logger) *components {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	scraperClient := scraper.NewClient(
		&http.Client{Timeout: cfg.ScraperTimeout},
		security.NewURLGuard(),
		logger,
		scraper.Options{
			BaseURL: cfg.ScraperBaseURL,
			Token:   cfg.ScraperToken,
			Timeout: cfg.ScraperTimeout,
			MaxSize: cfg.DatasetMaxSize,
		},
	)
	feedSource := scraper.NewFeedSource(&http.Client{Timeout: cfg.ScraperTimeout}, logger, "")

	trendsClient := trends.NewClient(trends.NewHTTPClient(cfg.TrendsProxyURL), logger, trends.Options{
		BaseURL: cfg.TrendsBaseURL,
		Timeout: cfg.TrendsTimeout,
		Delays: trends.FixedDelays{
			Session: cfg.TrendsSessionDelay,
			Widget:  cfg.TrendsWidgetDelay,
			Keyword: cfg.TrendsKeywordDelay,
		},
		Cooldown: cfg.TrendsKeywordDelay,
		Recorder: collector,
	})

	discoverySvc := discovery.NewService(
		repos.Content, repos.Fandoms, repos.Discoveries, repos.Trends,
		cfg.Scoring.Discovery, collector, publisher, logger,
	)

	ingestSvc := ingest.NewService(
		ingest.Stores{
			Fandoms:     repos.Fandoms,
			Content:     repos.Content,
			Snapshots:   repos.Snapshots,
			Influencers: repos.Influencers,
			Runs:        repos.Runs,
			Trends:      repos.Trends,
		},
		scraperClient,
		security.NewTextSanitizer(),
		cfg.Scoring.Influencer,
		logger,
		ingest.WithChannelFetcher(feedSource),
		ingest.WithRegionalInterest(trendsClient),
		ingest.WithDiscoveryScanner(discoverySvc),
		ingest.WithRecorder(collector),
		ingest.WithPublisher(publisher),
	)

	return &components{
		registry:  registry,
		collector: collector,
		publisher: publisher,
		scraper:   scraperClient,
		trends:    trendsClient,
		discovery: discoverySvc,
		ingest:    ingestSvc,
		recommend: recommend.NewEngine(repos.Fandoms, repos.Snapshots, cfg.Scoring.Recommendation),
		repos:     repos,
	}
}

// router はAPIサーバーのルーターを組み立てる。limiterの停止は呼び出し側が行う。
func (c *components) router(cfg *config.Config, db handler.Pinger, limiter *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		StatusObserver:    c.collector,

		IngestService: c.ingest,
		Runs:          c.repos.Runs,
		ScrapeStarter: c.scraper,

		DiscoveryService: c.discovery,
		Recommender:      c.recommend,
		RegionalInterest: c.trends,

		DB:             db,
		MetricsHandler: metrics.Handler(c.registry),
	})
}

// scheduler は取り込みワーカーのスケジューラを組み立てる。
func (c *components) scheduler(cfg *config.Config, logger *slog.Logger) *ingestworker.Scheduler {
	return ingestworker.NewScheduler(c.repos.Runs, c.ingest, logger, cfg.IngestMaxConcurrent)
}

// cleanupJob は保持期間切れコンテンツの削除ジョブを組み立てる。
func (c *components) cleanupJob(cfg *config.Config, logger *slog.Logger) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(c.repos.Content, logger)
	if cfg.ContentRetentionDays > 0 {
		job.RetentionDays = cfg.ContentRetentionDays
	}
	return job
}

// connectPublisher はNATS_URLが設定されていればNATSに接続したPublisherを返す。
// 接続に失敗した場合は警告を出してイベント送信を無効にする。取り込みはイベントの成否に依存しない。
func connectPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	if cfg.NATSURL == "" {
		return events.NopPublisher{}
	}
	conn, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("NATSに接続できないため、イベント送信を無効にします",
			slog.String("error", err.Error()),
		)
		return events.NopPublisher{}
	}
	return events.NewNATSPublisher(conn, cfg.NATSSubjectPrefix, logger)
}
