// Package trends は地域別関心度（Google Trendsの地域別スコア）の取得クライアントを提供する。
// セッション取得 → explore → ウィジェット取得の3段階プロトコルを1キーワードずつ実行する。
// このクライアントは呼び出し元にエラーを返さず、失敗はすべて結果のErrorフィールドで表す。
package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"

	"github.com/hitoshi/fandomwatch/internal/model"
)

const (
	// DefaultBaseURL は地域別関心度APIのベースURL。
	DefaultBaseURL = "https://trends.google.com"
	// DefaultGeo は既定の対象地域（フィリピン）。
	DefaultGeo = "PH"
	// DefaultTimeRange は既定の期間（直近3か月）。
	DefaultTimeRange = "today 3-m"
	// DefaultTimeout は1キーワードあたりのネットワークタイムアウト。
	DefaultTimeout = 15 * time.Second

	userAgent   = "Mozilla/5.0 (compatible; FandomWatch/1.0)"
	hostLang    = "en-US"
	tzOffset    = "-480" // UTC+8
	maxBodySize = 5 << 20
)

// Doer はHTTPリクエストを実行するトランスポート。テストでは偽の実装を注入する。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Recorder はキーワード単位の取得結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordRegionalInterest(success bool, duration time.Duration)
}

// Options はClientの生成パラメータ。ゼロ値の項目は既定値で補う。
type Options struct {
	BaseURL string
	// Timeout は1キーワードのネットワーク処理の上限。待機時間は含まない。
	Timeout time.Duration
	Delays  DelayPolicy
	// Cooldown は直前のキーワード完了からこの時間内に次の取得を始める場合に
	// StepBetweenKeywordsの待機を入れる間隔。バッチや呼び出し元をまたいで適用する。
	Cooldown time.Duration
	Recorder Recorder
}

// Client は地域別関心度の取得クライアント。
// セッション状態は保持せず、各キーワードの取得ごとにSessionを生成して引き回す。
// 上流へのアクセスはlaneで1本に直列化され、ワーカーとAPIから同時に呼ばれても並列にならない。
type Client struct {
	doer     Doer
	logger   *slog.Logger
	baseURL  string
	timeout  time.Duration
	delays   DelayPolicy
	cooldown time.Duration
	recorder Recorder
	now      func() time.Time

	lane     chan struct{}
	lastDone time.Time // laneを保持している間のみ読み書きする
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(doer Doer, logger *slog.Logger, opts Options) *Client {
	c := &Client{
		doer:     doer,
		logger:   logger,
		baseURL:  opts.BaseURL,
		timeout:  opts.Timeout,
		delays:   opts.Delays,
		cooldown: opts.Cooldown,
		recorder: opts.Recorder,
		now:      time.Now,
		lane:     make(chan struct{}, 1),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.delays == nil {
		c.delays = DefaultDelays()
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultDelays().Keyword
	}
	return c
}

// acquire は上流アクセスの専有権を取得する。ctxがキャンセルされた場合はctx.Err()を返す。
func (c *Client) acquire(ctx context.Context) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case c.lane <- struct{}{}:
		return func() { <-c.lane }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// waitCooldown は直前のキーワード完了からCooldown以内であればキーワード間の待機を行う。
// laneを保持した状態で呼ぶこと。
func (c *Client) waitCooldown(ctx context.Context) error {
	if c.lastDone.IsZero() || c.now().Sub(c.lastDone) >= c.cooldown {
		return ctx.Err()
	}
	return c.delays.Wait(ctx, StepBetweenKeywords)
}

// NewHTTPClient は地域別関心度の取得用HTTPクライアントを生成する。
// proxyURLが指定された場合はHTTP/HTTPSともにそのプロキシを経由し、
// 未指定の場合は環境変数（HTTPS_PROXY等）の設定に従う。
func NewHTTPClient(proxyURL string) *http.Client {
	cfg := httpproxy.FromEnvironment()
	if proxyURL != "" {
		cfg = &httpproxy.Config{HTTPProxy: proxyURL, HTTPSProxy: proxyURL}
	}
	proxyFunc := cfg.ProxyFunc()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
	return &http.Client{Transport: transport}
}

// FetchRegionalInterest は1キーワードの地域別関心度を取得する。
// geo・timeRangeが空の場合は既定値を使う。失敗時はRegionsが空でErrorに原因が入った結果を返す。
// 他の取得が進行中の場合はその完了を待ち、キーワード間の待機を挟んでから開始する。
func (c *Client) FetchRegionalInterest(ctx context.Context, keyword, geo, timeRange string) model.RegionalInterest {
	geo, timeRange = withDefaults(geo, timeRange)

	release, err := c.acquire(ctx)
	if err != nil {
		return failedResult(keyword, geo, timeRange, err)
	}
	defer release()

	if err := c.waitCooldown(ctx); err != nil {
		return failedResult(keyword, geo, timeRange, err)
	}
	return c.fetchKeyword(ctx, keyword, geo, timeRange)
}

func withDefaults(geo, timeRange string) (string, string) {
	if geo == "" {
		geo = DefaultGeo
	}
	if timeRange == "" {
		timeRange = DefaultTimeRange
	}
	return geo, timeRange
}

func failedResult(keyword, geo, timeRange string, err error) model.RegionalInterest {
	return model.RegionalInterest{
		Keyword:   keyword,
		Geo:       geo,
		TimeRange: timeRange,
		Regions:   []model.RegionInterest{},
		Error:     err.Error(),
	}
}

// fetchKeyword は1キーワードを取得して結果を組み立てる。laneを保持した状態で呼ぶこと。
func (c *Client) fetchKeyword(ctx context.Context, keyword, geo, timeRange string) model.RegionalInterest {
	start := time.Now()
	regions, err := c.fetch(ctx, keyword, geo, timeRange)
	duration := time.Since(start)
	c.lastDone = c.now()

	if c.recorder != nil {
		c.recorder.RecordRegionalInterest(err == nil, duration)
	}
	if err != nil {
		c.logger.Warn("地域別関心度の取得に失敗しました",
			slog.String("keyword", keyword),
			slog.String("geo", geo),
			slog.String("error", err.Error()),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
		return failedResult(keyword, geo, timeRange, err)
	}

	c.logger.Info("地域別関心度を取得しました",
		slog.String("keyword", keyword),
		slog.String("geo", geo),
		slog.Int("region_count", len(regions)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return model.RegionalInterest{
		Keyword:   keyword,
		Geo:       geo,
		TimeRange: timeRange,
		Regions:   regions,
	}
}

// netBudget は1キーワードのネットワーク処理に使える残り時間。待機中は減らない。
type netBudget struct {
	remaining time.Duration
}

// run はfnを残り時間のタイムアウト付きで実行し、使った時間を差し引く。
func (b *netBudget) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.remaining <= 0 {
		return &model.TransientNetworkError{Op: "regional interest", Err: context.DeadlineExceeded}
	}
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, b.remaining)
	defer cancel()
	err := fn(pctx)
	b.remaining -= time.Since(start)
	return err
}

// fetch はセッション取得 → explore → ウィジェット取得を順に実行する。
// タイムアウトは3つのHTTP段階の合計にだけ適用し、段階間の待機には適用しない。
func (c *Client) fetch(ctx context.Context, keyword, geo, timeRange string) ([]model.RegionInterest, error) {
	budget := &netBudget{remaining: c.timeout}

	var session Session
	if err := budget.run(ctx, func(ctx context.Context) (err error) {
		session, err = c.acquireSession(ctx, geo)
		return err
	}); err != nil {
		return nil, err
	}

	if err := c.delays.Wait(ctx, StepAfterSession); err != nil {
		return nil, err
	}

	var w *widget
	if err := budget.run(ctx, func(ctx context.Context) (err error) {
		w, err = c.explore(ctx, session, keyword, geo, timeRange)
		return err
	}); err != nil {
		return nil, err
	}

	if err := c.delays.Wait(ctx, StepBeforeWidget); err != nil {
		return nil, err
	}

	var body []byte
	if err := budget.run(ctx, func(ctx context.Context) (err error) {
		body, err = c.get(ctx, session, "/trends/api/widgetdata/comparedgeo", url.Values{
			"hl":    {hostLang},
			"tz":    {tzOffset},
			"req":   {string(w.Request)},
			"token": {w.Token},
		}, "widget")
		return err
	}); err != nil {
		return nil, err
	}
	return parseGeoMap(body)
}

type comparisonItem struct {
	Keyword string `json:"keyword"`
	Geo     string `json:"geo"`
	Time    string `json:"time"`
}

type exploreRequest struct {
	ComparisonItem []comparisonItem `json:"comparisonItem"`
	Category       int              `json:"category"`
	Property       string           `json:"property"`
}

// explore はキーワード・地域・期間の組み合わせを送り、GEO_MAPウィジェットを取得する。
func (c *Client) explore(ctx context.Context, session Session, keyword, geo, timeRange string) (*widget, error) {
	payload, err := json.Marshal(exploreRequest{
		ComparisonItem: []comparisonItem{{Keyword: keyword, Geo: geo, Time: timeRange}},
	})
	if err != nil {
		return nil, fmt.Errorf("exploreリクエストの組み立てに失敗しました: %w", err)
	}

	body, err := c.get(ctx, session, "/trends/api/explore", url.Values{
		"hl":  {hostLang},
		"tz":  {tzOffset},
		"req": {string(payload)},
	}, "explore")
	if err != nil {
		return nil, err
	}
	return findGeoMapWidget(body)
}

// get はセッションのクッキーを付けてGETし、200の場合のみ本文を返す。
func (c *Client) get(ctx context.Context, session Session, path string, query url.Values, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%sリクエストの作成に失敗しました: %w", op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if session.Cookie != "" {
		req.Header.Set("Cookie", session.Cookie)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, &model.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.TransientNetworkError{Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &model.TransientNetworkError{Op: op, Err: err}
	}
	return body, nil
}
