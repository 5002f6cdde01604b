// Package scraper はスクレイプ提供元（Apify互換API）とYouTubeチャンネルフィードから
// 生のレコードを取得する。レコードの正規化はingestパッケージが行う。
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/fandomwatch/internal/model"
)

const (
	// DefaultBaseURL はスクレイプ提供元APIの既定のベースURL。
	DefaultBaseURL = "https://api.apify.com"
	// DefaultTimeout はデータセット取得の既定タイムアウト。
	DefaultTimeout = 30 * time.Second
	// DefaultMaxSize はデータセット本文の既定の上限（20MiB）。
	DefaultMaxSize int64 = 20 << 20

	userAgent = "FandomWatch/1.0"
)

// RawRecord はデータセット中の1レコード。数値はjson.Numberとして保持する。
type RawRecord map[string]any

// URLValidator はURL形式のデータセットハンドルを検証し、安全なHTTPクライアントを生成する。
type URLValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// Doer はHTTPリクエストを実行するトランスポート。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options はClientの生成パラメータ。
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	MaxSize int64
}

// Client はスクレイプ提供元APIのクライアント。
type Client struct {
	api     Doer
	guard   URLValidator
	logger  *slog.Logger
	baseURL string
	token   string
	timeout time.Duration
	maxSize int64
}

// NewClient はClientの新しいインスタンスを生成する。
// apiは提供元APIへのリクエストに使い、URL形式のハンドルはguardが生成するクライアントで取得する。
func NewClient(api Doer, guard URLValidator, logger *slog.Logger, opts Options) *Client {
	c := &Client{
		api:     api,
		guard:   guard,
		logger:  logger,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		timeout: opts.Timeout,
		maxSize: opts.MaxSize,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxSize <= 0 {
		c.maxSize = DefaultMaxSize
	}
	return c
}

// IsURLHandle はデータセットハンドルがURL形式かどうかを判定する。
func IsURLHandle(handle string) bool {
	h := strings.ToLower(strings.TrimSpace(handle))
	return strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://")
}

// FetchDataset はハンドルが示すデータセットを取得し、レコードの配列として返す。
// URL形式のハンドルはSSRF検証を通したうえで安全なクライアントで取得する。
// それ以外はデータセットIDとして {base}/v2/datasets/{id}/items を取得する。
func (c *Client) FetchDataset(ctx context.Context, handle string) ([]RawRecord, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, &model.MalformedInputError{Op: "fetch dataset", Reason: "empty dataset handle"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		doer   Doer = c.api
		target string
	)
	if IsURLHandle(handle) {
		if c.guard == nil {
			return nil, fmt.Errorf("URL形式のデータセットハンドルは許可されていません")
		}
		if err := c.guard.ValidateURL(handle); err != nil {
			return nil, fmt.Errorf("データセットURLの検証に失敗: %w", err)
		}
		doer = c.guard.NewSafeClient(c.timeout)
		target = handle
	} else {
		q := url.Values{"format": {"json"}, "clean": {"true"}}
		target = c.baseURL + "/v2/datasets/" + url.PathEscape(handle) + "/items?" + q.Encode()
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if !IsURLHandle(handle) {
		c.authorize(req)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return nil, &model.TransientNetworkError{Op: "fetch dataset", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.TransientNetworkError{Op: "fetch dataset", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, &model.TransientNetworkError{Op: "fetch dataset", Err: err}
	}
	if int64(len(body)) > c.maxSize {
		return nil, &model.MalformedInputError{
			Op:     "fetch dataset",
			Reason: fmt.Sprintf("dataset exceeds %d bytes", c.maxSize),
		}
	}

	records, skipped, err := decodeDataset(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("データセットを取得しました",
		slog.String("dataset", redactHandle(handle)),
		slog.Int("record_count", len(records)),
		slog.Int("skipped_count", skipped),
		slog.Int("bytes", len(body)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return records, nil
}

// decodeDataset はJSON配列（または {"items": [...]} 形式）をレコードに変換する。
// オブジェクト以外の要素はスキップし、その件数を返す。
func decodeDataset(body []byte) ([]RawRecord, int, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, &model.MalformedInputError{Op: "decode dataset", Reason: "invalid JSON", Err: err}
	}

	var elems []any
	switch v := doc.(type) {
	case []any:
		elems = v
	case map[string]any:
		items, ok := v["items"].([]any)
		if !ok {
			return nil, 0, &model.MalformedInputError{Op: "decode dataset", Reason: "object without items array"}
		}
		elems = items
	default:
		return nil, 0, &model.MalformedInputError{Op: "decode dataset", Reason: "dataset is not an array"}
	}

	records := make([]RawRecord, 0, len(elems))
	skipped := 0
	for _, e := range elems {
		m, ok := e.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		records = append(records, RawRecord(m))
	}
	return records, skipped, nil
}

// redactHandle はログ出力用にURLハンドルのクエリ（トークン等）を取り除く。
func redactHandle(handle string) string {
	if !IsURLHandle(handle) {
		return handle
	}
	u, err := url.Parse(handle)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// authorize は提供元APIのトークンをヘッダーで付与する。
// URLに含めるとネットワークエラーの文字列に露出するため、クエリには載せない。
func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// Run は提供元で開始されたスクレイプ実行。
type Run struct {
	ID        string `json:"id"`
	ActorID   string `json:"actId"`
	Status    string `json:"status"`
	DatasetID string `json:"defaultDatasetId"`
}

// StartRun はアクターを入力付きで起動し、実行IDとデータセットIDを返す。
// 実行IDは後続の取り込み要求のsourceJobIdとして使われる。
func (c *Client) StartRun(ctx context.Context, actorID string, input map[string]any) (*Run, error) {
	if actorID == "" {
		return nil, &model.MalformedInputError{Op: "start run", Reason: "empty actor id"}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("アクター入力のエンコードに失敗: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// APIのパス上ではアクターIDの "/" を "~" に置き換える
	target := c.baseURL + "/v2/acts/" + url.PathEscape(strings.ReplaceAll(actorID, "/", "~")) + "/runs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, &model.TransientNetworkError{Op: "start run", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &model.TransientNetworkError{Op: "start run", StatusCode: resp.StatusCode}
	}

	var envelope struct {
		Data Run `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return nil, &model.MalformedInputError{Op: "start run", Reason: "invalid response", Err: err}
	}
	if envelope.Data.ID == "" {
		return nil, &model.MalformedInputError{Op: "start run", Reason: "response has no run id"}
	}

	c.logger.Info("スクレイプ実行を開始しました",
		slog.String("actor_id", actorID),
		slog.String("run_id", envelope.Data.ID),
		slog.String("dataset_id", envelope.Data.DatasetID),
	)
	return &envelope.Data, nil
}
