// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fandomwatch"

// Collector はPrometheusメトリクスを収集する。
// ingest・discovery・trendsの各パッケージが必要なメソッドだけをインターフェースとして参照する。
type Collector struct {
	ingestRuns       *prometheus.CounterVec
	ingestDuration   *prometheus.HistogramVec
	contentUpserted  *prometheus.CounterVec
	recordsSkipped   *prometheus.CounterVec
	discoveries      *prometheus.CounterVec
	regionalRequests *prometheus.CounterVec
	regionalLatency  prometheus.Histogram
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "取り込み実行の合計数（source・結果別）",
		}, []string{"source", "result"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "1データセットの取り込み所要時間（秒）",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		contentUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_items_upserted_total",
			Help:      "UPSERTされたコンテンツの合計数（プラットフォーム・新規/更新別）",
		}, []string{"platform", "kind"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "形状不正でスキップしたレコードの合計数",
		}, []string{"platform"}),
		discoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "マイナーが検出・更新したファンダム候補の合計数（状態別）",
		}, []string{"status"}),
		regionalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regional_interest_requests_total",
			Help:      "地域別関心度のキーワード単位の取得数（結果別）",
		}, []string{"result"}),
		regionalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "regional_interest_latency_seconds",
			Help:      "地域別関心度の1キーワードあたりの取得時間（秒、待機を含む）",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "APIのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.ingestRuns,
		c.ingestDuration,
		c.contentUpserted,
		c.recordsSkipped,
		c.discoveries,
		c.regionalRequests,
		c.regionalLatency,
		c.httpStatus,
	)
	return c
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordIngest は取り込み1件の結果と所要時間を記録する。
func (c *Collector) RecordIngest(source string, success bool, duration time.Duration) {
	c.ingestRuns.WithLabelValues(source, resultLabel(success)).Inc()
	c.ingestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordContentUpserts は新規・更新それぞれのコンテンツ件数を記録する。
func (c *Collector) RecordContentUpserts(platform string, inserted, updated, skipped int) {
	c.contentUpserted.WithLabelValues(platform, "inserted").Add(float64(inserted))
	c.contentUpserted.WithLabelValues(platform, "updated").Add(float64(updated))
	if skipped > 0 {
		c.recordsSkipped.WithLabelValues(platform).Add(float64(skipped))
	}
}

// RecordDiscovery は検出・更新された候補を状態別に記録する。
func (c *Collector) RecordDiscovery(status string) {
	c.discoveries.WithLabelValues(status).Inc()
}

// RecordRegionalInterest は地域別関心度の1キーワード分の結果を記録する。
func (c *Collector) RecordRegionalInterest(success bool, duration time.Duration) {
	c.regionalRequests.WithLabelValues(resultLabel(success)).Inc()
	c.regionalLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はAPIレスポンスのステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
