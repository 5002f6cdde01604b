// Package ingest は取り込み要求を処理し、スクレイプ結果を正規化してストアへ書き込む。
// 1データセットの取り込みは正規化 → 永続化 → 候補スキャンの順に逐次実行する。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/fandomwatch/internal/actor"
	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/events"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/repository"
	"github.com/hitoshi/fandomwatch/internal/scraper"
)

// DatasetFetcher はデータセットハンドルから生レコードを取得する。
type DatasetFetcher interface {
	FetchDataset(ctx context.Context, handle string) ([]scraper.RawRecord, error)
}

// ChannelFetcher はYouTubeチャンネルのフィードから生レコードを取得する。
type ChannelFetcher interface {
	FetchChannel(ctx context.Context, channelID string) ([]scraper.RawRecord, error)
}

// RegionalInterestFetcher は複数キーワードの地域別関心度を逐次取得する。
type RegionalInterestFetcher interface {
	FetchRegionalInterestBatch(ctx context.Context, keywords []string, geo, timeRange string) []model.RegionalInterest
}

// DiscoveryScanner は取り込んだコンテンツのタグについて候補を再評価する。
type DiscoveryScanner interface {
	ScanNames(ctx context.Context, names []string) ([]model.FandomDiscovery, error)
}

// Recorder は取り込みのメトリクスを記録する。
type Recorder interface {
	RecordIngest(source string, success bool, duration time.Duration)
	RecordContentUpserts(platform string, inserted, updated, skipped int)
}

// Stores は取り込みが読み書きするリポジトリ群。
type Stores struct {
	Fandoms     repository.FandomRepository
	Content     repository.ContentRepository
	Snapshots   repository.SnapshotRepository
	Influencers repository.InfluencerRepository
	Runs        repository.ScrapeRunRepository
	Trends      repository.TrendRepository
}

// Service は取り込み要求の検証・実行・状態遷移を担う。
type Service struct {
	stores     Stores
	datasets   DatasetFetcher
	channels   ChannelFetcher
	regional   RegionalInterestFetcher
	scanner    DiscoveryScanner
	normalizer *Normalizer
	recorder   Recorder
	publisher  events.Publisher
	scoring    config.InfluencerScoring
	logger     *slog.Logger
	now        func() time.Time
}

// Option はServiceの任意の依存を設定する。
type Option func(*Service)

// WithChannelFetcher はyoutube-feed経路のフェッチャーを設定する。
func WithChannelFetcher(f ChannelFetcher) Option { return func(s *Service) { s.channels = f } }

// WithRegionalInterest はトレンド経路の地域別関心度クライアントを設定する。
func WithRegionalInterest(f RegionalInterestFetcher) Option {
	return func(s *Service) { s.regional = f }
}

// WithDiscoveryScanner は取り込み後の候補スキャンを設定する。
func WithDiscoveryScanner(d DiscoveryScanner) Option { return func(s *Service) { s.scanner = d } }

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithPublisher はイベントの送信先を設定する。
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithClock はテスト用に現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService はServiceの新しいインスタンスを生成する。
func NewService(stores Stores, datasets DatasetFetcher, sanitizer TextSanitizer, scoring config.InfluencerScoring, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		stores:     stores,
		datasets:   datasets,
		normalizer: NewNormalizer(sanitizer, logger),
		publisher:  events.NopPublisher{},
		scoring:    scoring,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate は取り込み要求を検証し、経路の種別を返す。
// fandomId/platformはトレンド系ソース以外で必須。
func (s *Service) Validate(ctx context.Context, req *model.IngestRequest) (actor.SourceKind, error) {
	kind, _ := actor.ResolveSource(req.SourceJobID)

	switch kind {
	case actor.SourceTrends:
		if len(cleanKeywords(req.Keywords)) == 0 {
			return kind, model.NewInvalidRequestError("トレンド系ソースにはキーワードが必要です")
		}
		if req.FandomID == "" {
			return kind, nil
		}
	case actor.SourceYouTubeFeed:
		if req.Platform == "" {
			req.Platform = model.PlatformYouTube
		}
		if req.Platform != model.PlatformYouTube {
			return kind, model.NewInvalidRequestError("youtube-feedソースのプラットフォームはyoutubeのみです")
		}
		if req.FandomID == "" {
			return kind, model.NewInvalidRequestError("fandom_idは必須です")
		}
	default:
		if strings.TrimSpace(req.DatasetHandle) == "" {
			return kind, model.NewInvalidRequestError("dataset_handleは必須です")
		}
		if req.FandomID == "" {
			return kind, model.NewInvalidRequestError("fandom_idは必須です")
		}
		p, ok := model.ParsePlatform(string(req.Platform))
		if !ok {
			return kind, model.NewUnknownPlatformError(string(req.Platform))
		}
		req.Platform = p
	}

	fandom, err := s.stores.Fandoms.FindByID(ctx, req.FandomID)
	if err != nil {
		return kind, &model.PersistenceError{Op: "find fandom", Err: err}
	}
	if fandom == nil {
		return kind, model.NewInvalidRequestError("ファンダムが見つかりません: " + req.FandomID)
	}
	return kind, nil
}

// Submit は要求を検証してpendingのScrapeRunを作成する。処理はワーカーが行う。
func (s *Service) Submit(ctx context.Context, req model.IngestRequest) (*model.ScrapeRun, error) {
	if _, err := s.Validate(ctx, &req); err != nil {
		return nil, err
	}
	run := &model.ScrapeRun{Request: req}
	if err := s.stores.Runs.Create(ctx, run); err != nil {
		return nil, &model.PersistenceError{Op: "create scrape run", Err: err}
	}
	s.logger.Info("取り込み要求を受け付けました",
		slog.String("run_id", run.ID),
		slog.String("source_job_id", req.SourceJobID),
		slog.String("fandom_id", req.FandomID),
		slog.String("platform", string(req.Platform)),
	)
	return run, nil
}

// Ingest は要求を同期的に処理する。ScrapeRunを作成してrunningへ進め、Processを実行する。
func (s *Service) Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	run := &model.ScrapeRun{Request: req}
	if err := s.stores.Runs.Create(ctx, run); err != nil {
		return nil, &model.PersistenceError{Op: "create scrape run", Err: err}
	}
	if err := s.stores.Runs.SetStatus(ctx, run.ID, model.ScrapeRunRunning, 0, ""); err != nil {
		return nil, &model.PersistenceError{Op: "start scrape run", Err: err}
	}
	run.Status = model.ScrapeRunRunning
	return s.Process(ctx, run), nil
}

// Process はrunning状態のScrapeRunを1件処理し、終端状態を書き込む。
// 失敗時はitemsCount=0でfailedにする。結果は常に非nilで、Discoveriesは空でもnilにならない。
func (s *Service) Process(ctx context.Context, run *model.ScrapeRun) *model.IngestResult {
	start := s.now()
	req := run.Request

	kind, err := s.Validate(ctx, &req)
	var result *model.IngestResult
	if err == nil {
		switch kind {
		case actor.SourceTrends:
			result, err = s.ingestTrends(ctx, req)
		case actor.SourceYouTubeFeed:
			result, err = s.ingestChannel(ctx, req)
		default:
			result, err = s.ingestDataset(ctx, req)
		}
	}
	if err != nil {
		var transient *model.TransientNetworkError
		result = &model.IngestResult{
			Success:     false,
			Discoveries: []model.FandomDiscovery{},
			Message:     failureMessage(err),
			Retryable:   errors.As(err, &transient),
		}
	}

	s.finish(ctx, run, result, kind, s.now().Sub(start))
	return result
}

// finish は終端状態の書き込み、メトリクス、イベント、完了ログをまとめて行う。
func (s *Service) finish(ctx context.Context, run *model.ScrapeRun, result *model.IngestResult, kind actor.SourceKind, duration time.Duration) {
	status := model.ScrapeRunSucceeded
	itemsCount := result.ItemsCount
	errMsg := ""
	if !result.Success {
		status = model.ScrapeRunFailed
		itemsCount = 0
		errMsg = result.Message
	}

	if err := s.stores.Runs.SetStatus(ctx, run.ID, status, itemsCount, errMsg); err != nil {
		if errors.Is(err, model.ErrRunTerminal) {
			s.logger.Warn("ScrapeRunは既に終端状態のため結果を書き込みません",
				slog.String("run_id", run.ID),
				slog.String("status", string(status)),
			)
		} else {
			s.logger.Error("ScrapeRunの状態更新に失敗しました",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	} else {
		run.Status = status
		run.ItemsCount = itemsCount
		run.ErrorMessage = errMsg
	}

	if s.recorder != nil {
		s.recorder.RecordIngest(string(kind), result.Success, duration)
	}

	if err := s.publisher.PublishRunCompleted(ctx, events.RunCompleted{
		RunID:        run.ID,
		Status:       status,
		FandomID:     run.Request.FandomID,
		Platform:     run.Request.Platform,
		SourceJobID:  run.Request.SourceJobID,
		ItemsCount:   itemsCount,
		NewItems:     result.NewItems,
		Discoveries:  len(result.Discoveries),
		ErrorMessage: errMsg,
		CompletedAt:  s.now(),
	}); err != nil {
		s.logger.Warn("完了イベントの送信に失敗しました",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("source", string(kind)),
		slog.String("fandom_id", run.Request.FandomID),
		slog.String("platform", string(run.Request.Platform)),
		slog.Int("items_count", itemsCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	}
	if result.Success {
		attrs = append(attrs,
			slog.Int("new_items", result.NewItems),
			slog.Int("influencer_count", result.InfluencerCount),
			slog.Int("discovery_count", len(result.Discoveries)),
		)
		s.logger.Info("取り込みが完了しました", attrs...)
	} else {
		s.logger.Error("取り込みに失敗しました", append(attrs, slog.String("error", errMsg))...)
	}
}

func failureMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// ingestDataset はデータセット経路の取り込みを行う。
func (s *Service) ingestDataset(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	records, err := s.datasets.FetchDataset(ctx, req.DatasetHandle)
	if err != nil {
		return nil, fmt.Errorf("データセットの取得に失敗: %w", err)
	}
	return s.persist(ctx, req.FandomID, req.Platform, records)
}

// ingestChannel はyoutube-feed経路の取り込みを行う。
func (s *Service) ingestChannel(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	if s.channels == nil {
		return nil, model.NewScraperUnavailableError("youtube-feedソースが設定されていません")
	}
	_, channelID := actor.ResolveSource(req.SourceJobID)
	records, err := s.channels.FetchChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("チャンネルフィードの取得に失敗: %w", err)
	}
	return s.persist(ctx, req.FandomID, model.PlatformYouTube, records)
}

// persist はレコードを正規化し、コンテンツ・スナップショット・インフルエンサーを書き込み、
// 最後に候補スキャンを行う。ストアの失敗はPersistenceErrorとして返す。
func (s *Service) persist(ctx context.Context, fandomID string, platform model.Platform, records []scraper.RawRecord) (*model.IngestResult, error) {
	scrapedAt := s.now().UTC()
	batch := s.normalizer.Normalize(records, fandomID, platform, scrapedAt)

	inserted := 0
	names := map[string]bool{}
	for _, item := range batch.Items {
		isNew, err := s.stores.Content.Upsert(ctx, item)
		if err != nil {
			return nil, &model.PersistenceError{Op: "upsert content item", Err: err}
		}
		if isNew {
			inserted++
		}
		for _, tag := range item.Hashtags {
			names[tag] = true
		}
		for _, m := range item.Mentions {
			names[m] = true
		}
	}
	if s.recorder != nil {
		s.recorder.RecordContentUpserts(string(platform), inserted, len(batch.Items)-inserted, batch.Skipped)
	}

	followers, err := s.refreshFollowers(ctx, batch)
	if err != nil {
		return nil, err
	}

	for _, agg := range aggregateDaily(batch.Items) {
		prior, err := s.stores.Snapshots.GetLatestBefore(ctx, fandomID, platform, agg.Date)
		if err != nil {
			return nil, &model.PersistenceError{Op: "get latest snapshot", Err: err}
		}
		snap := buildSnapshot(fandomID, platform, agg, followers, prior)
		if err := s.stores.Snapshots.Replace(ctx, snap); err != nil {
			return nil, &model.PersistenceError{Op: "replace metric snapshot", Err: err}
		}
	}

	influencers := buildInfluencers(batch, s.scoring)
	for _, inf := range influencers {
		if err := s.stores.Influencers.Upsert(ctx, inf); err != nil {
			return nil, &model.PersistenceError{Op: "upsert influencer", Err: err}
		}
	}

	discoveries := []model.FandomDiscovery{}
	if s.scanner != nil && len(names) > 0 {
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		found, err := s.scanner.ScanNames(ctx, list)
		if err != nil {
			return nil, &model.PersistenceError{Op: "discovery scan", Err: err}
		}
		discoveries = append(discoveries, found...)
	}

	msg := fmt.Sprintf("%d件のコンテンツを取り込みました（新規%d件）", len(batch.Items), inserted)
	if batch.Skipped > 0 {
		msg += fmt.Sprintf("。形状不正の%d件をスキップしました", batch.Skipped)
	}
	return &model.IngestResult{
		Success:         true,
		ItemsCount:      len(batch.Items),
		NewItems:        inserted,
		InfluencerCount: len(influencers),
		Discoveries:     discoveries,
		Message:         msg,
	}, nil
}

// refreshFollowers はFandomPlatformのハンドルと一致する投稿者のフォロワー数で
// 登録済みのフォロワー数を更新し、現在のフォロワー数を返す。
// 一致する投稿者がいない場合は登録済みの値（未登録なら0）を返す。
func (s *Service) refreshFollowers(ctx context.Context, batch *Batch) (int64, error) {
	fp, err := s.stores.Fandoms.FindPlatform(ctx, batch.FandomID, batch.Platform)
	if err != nil {
		return 0, &model.PersistenceError{Op: "find fandom platform", Err: err}
	}
	if fp == nil {
		return 0, nil
	}
	latest, ok := batch.AuthorFollowers(fp.Handle)
	if !ok || latest == fp.Followers {
		return fp.Followers, nil
	}

	fp.Followers = latest
	if err := s.stores.Fandoms.UpsertPlatform(ctx, fp); err != nil {
		return 0, &model.PersistenceError{Op: "refresh followers", Err: err}
	}
	s.logger.Info("フォロワー数を更新しました",
		slog.String("fandom_id", batch.FandomID),
		slog.String("platform", string(batch.Platform)),
		slog.Int64("followers", latest),
	)
	return latest, nil
}

// ingestTrends はトレンド経路の取り込みを行う。キーワードを逐次取得し、
// 成功した地域ごとにGoogleTrendを(fandomId, keyword, date, region)でUPSERTする。
// 全キーワードが失敗した場合のみ失敗とする。
func (s *Service) ingestTrends(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	if s.regional == nil {
		return nil, model.NewScraperUnavailableError("地域別関心度クライアントが設定されていません")
	}
	keywords := cleanKeywords(req.Keywords)
	results := s.regional.FetchRegionalInterestBatch(ctx, keywords, req.Geo, req.TimeRange)

	date := model.DateOf(s.now())
	written := 0
	var failed []string
	for i := range results {
		r := &results[i]
		if r.Failed() {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Keyword, r.Error))
			continue
		}
		for _, region := range r.Regions {
			if err := s.stores.Trends.Upsert(ctx, &model.GoogleTrend{
				FandomID:      req.FandomID,
				Keyword:       r.Keyword,
				Date:          date,
				RegionCode:    region.RegionCode,
				RegionName:    region.RegionName,
				InterestValue: region.InterestValue,
			}); err != nil {
				return nil, &model.PersistenceError{Op: "upsert google trend", Err: err}
			}
			written++
		}
	}

	if len(failed) == len(results) {
		return nil, fmt.Errorf("全キーワードの取得に失敗しました: %s", strings.Join(failed, "; "))
	}

	msg := fmt.Sprintf("%d件のキーワードから%d件の地域別関心度を取り込みました", len(results)-len(failed), written)
	if len(failed) > 0 {
		msg += fmt.Sprintf("。失敗: %s", strings.Join(failed, "; "))
	}
	return &model.IngestResult{
		Success:     true,
		ItemsCount:  written,
		Discoveries: []model.FandomDiscovery{},
		Message:     msg,
	}, nil
}

// cleanKeywords は空白を除去し、空と重複を取り除く。
func cleanKeywords(keywords []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, k)
	}
	return out
}
