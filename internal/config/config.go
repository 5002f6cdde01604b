package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Scraper（データセット提供元）
	ScraperBaseURL string
	ScraperToken   string
	ScraperTimeout time.Duration
	DatasetMaxSize int64

	// Ingest
	IngestInterval      time.Duration
	IngestMaxConcurrent int

	// Regional interest
	TrendsBaseURL      string
	TrendsTimeout      time.Duration
	TrendsSessionDelay time.Duration
	TrendsWidgetDelay  time.Duration
	TrendsKeywordDelay time.Duration
	TrendsProxyURL     string

	// Events
	NATSURL           string
	NATSSubjectPrefix string

	// Scoring
	ScoringConfigPath string
	Scoring           Scoring

	// Retention
	ContentRetentionDays int

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	MetricsPort string // workerモードで/metricsと/healthを公開するポート

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ScraperBaseURL = getEnvString("SCRAPER_BASE_URL", "https://api.apify.com")
	cfg.ScraperToken = getEnvString("SCRAPER_TOKEN", "")
	cfg.ScraperTimeout = getEnvDuration("SCRAPER_TIMEOUT", 30*time.Second)
	cfg.DatasetMaxSize = getEnvInt64("DATASET_MAX_SIZE", 20<<20)
	cfg.IngestInterval = getEnvDuration("INGEST_INTERVAL", time.Minute)
	cfg.IngestMaxConcurrent = getEnvInt("INGEST_MAX_CONCURRENT", 4)
	cfg.TrendsBaseURL = getEnvString("TRENDS_BASE_URL", "https://trends.google.com")
	cfg.TrendsTimeout = getEnvDuration("TRENDS_TIMEOUT", 15*time.Second)
	cfg.TrendsSessionDelay = getEnvDuration("TRENDS_SESSION_DELAY", 1500*time.Millisecond)
	cfg.TrendsWidgetDelay = getEnvDuration("TRENDS_WIDGET_DELAY", 2*time.Second)
	cfg.TrendsKeywordDelay = getEnvDuration("TRENDS_KEYWORD_DELAY", 10*time.Second)
	cfg.TrendsProxyURL = getEnvString("TRENDS_PROXY_URL", "")
	cfg.NATSURL = getEnvString("NATS_URL", "")
	cfg.NATSSubjectPrefix = getEnvString("NATS_SUBJECT_PREFIX", "fandomwatch")
	cfg.ScoringConfigPath = getEnvString("SCORING_CONFIG_PATH", "")
	cfg.ContentRetentionDays = getEnvInt("CONTENT_RETENTION_DAYS", 365)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.IngestMaxConcurrent < 1 {
		cfg.IngestMaxConcurrent = 1
	}

	scoring, err := LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Scoring = scoring

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
