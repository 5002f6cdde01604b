package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/events"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/repository"
)

// Recorder は候補検出のメトリクスを記録する。
type Recorder interface {
	RecordDiscovery(status string)
}

// Service は候補のマイニング結果をストアへ反映し、オペレーターの操作を受け付ける。
type Service struct {
	content     repository.ContentRepository
	fandoms     repository.FandomRepository
	discoveries repository.DiscoveryRepository
	trends      repository.TrendRepository
	miner       *Miner
	cfg         config.DiscoveryScoring
	recorder    Recorder
	publisher   events.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。trends・recorder・publisherはnilでもよい。
func NewService(
	content repository.ContentRepository,
	fandoms repository.FandomRepository,
	discoveries repository.DiscoveryRepository,
	trends repository.TrendRepository,
	cfg config.DiscoveryScoring,
	recorder Recorder,
	publisher events.Publisher,
	logger *slog.Logger,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		content:     content,
		fandoms:     fandoms,
		discoveries: discoveries,
		trends:      trends,
		miner:       NewMiner(cfg),
		cfg:         cfg,
		recorder:    recorder,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// MineRecent は直近LookbackDays日のコンテンツ全体をマイニングし、候補を反映する。
// 戻り値はdiscovered状態で反映された候補。
func (s *Service) MineRecent(ctx context.Context) ([]model.FandomDiscovery, error) {
	return s.mine(ctx, nil)
}

// ScanNames は直近のコンテンツをマイニングし、namesに含まれる候補だけを反映する。
// 取り込み直後の副次スキャンに使う。出現数は直近全体で数えるため、MineRecentと一致する。
func (s *Service) ScanNames(ctx context.Context, names []string) ([]model.FandomDiscovery, error) {
	only := make(map[string]bool, len(names))
	for _, n := range names {
		if k := NormalizeName(n); k != "" {
			only[k] = true
		}
	}
	if len(only) == 0 {
		return []model.FandomDiscovery{}, nil
	}
	return s.mine(ctx, only)
}

// recentContent は観測期間内のコンテンツを返す。onlyが指定された場合は
// その名前を含むコンテンツだけを読み込む。
func (s *Service) recentContent(ctx context.Context, since time.Time, only map[string]bool) ([]*model.ContentItem, error) {
	if only == nil {
		return s.content.ListSince(ctx, since)
	}
	keys := make([]string, 0, len(only))
	for k := range only {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s.content.ListSinceTagged(ctx, since, keys)
}

func (s *Service) mine(ctx context.Context, only map[string]bool) ([]model.FandomDiscovery, error) {
	start := s.now()
	since := start.AddDate(0, 0, -s.cfg.LookbackDays)

	items, err := s.recentContent(ctx, since, only)
	if err != nil {
		return nil, fmt.Errorf("直近コンテンツの取得に失敗: %w", err)
	}
	exclude, err := s.trackedNames(ctx)
	if err != nil {
		return nil, err
	}

	candidates := s.miner.Mine(items, exclude)
	out := []model.FandomDiscovery{}
	for i := range candidates {
		c := &candidates[i]
		if only != nil && !only[c.NormalizedName] {
			continue
		}
		if err := s.corroborate(ctx, c, since); err != nil {
			return nil, err
		}
		applied, err := s.merge(ctx, c)
		if err != nil {
			return nil, err
		}
		if applied && c.Status == model.DiscoveryStatusDiscovered {
			out = append(out, *c)
			if err := s.publisher.PublishDiscoveryDetected(ctx, events.NewDiscoveryDetected(*c, s.now())); err != nil {
				s.logger.Warn("候補イベントの送信に失敗しました",
					slog.String("name", c.NormalizedName),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.logger.Info("ファンダム候補のマイニングが完了しました",
		slog.Int("content_count", len(items)),
		slog.Int("candidate_count", len(candidates)),
		slog.Int("discovered_count", len(out)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return out, nil
}

// trackedNames は追跡中のファンダムの名前とslugを正規化名の集合で返す。
func (s *Service) trackedNames(ctx context.Context) (map[string]bool, error) {
	fandoms, err := s.fandoms.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ファンダム一覧の取得に失敗: %w", err)
	}
	names := make(map[string]bool, len(fandoms)*2)
	for _, f := range fandoms {
		names[NormalizeName(f.Name)] = true
		names[NormalizeName(f.Slug)] = true
	}
	return names, nil
}

// corroborate は保存済みの地域別関心度で信頼度を補強する。最大関心度100で+20。
func (s *Service) corroborate(ctx context.Context, c *model.FandomDiscovery, since time.Time) error {
	if s.trends == nil {
		return nil
	}
	interest, ok, err := s.trends.MaxInterest(ctx, c.NormalizedName, since)
	if err != nil {
		return fmt.Errorf("関心度の取得に失敗: %w", err)
	}
	if ok && interest > 0 {
		c.Confidence = min(100, c.Confidence+int(math.Round(interest/5)))
	}
	return nil
}

// merge は候補を既存レコードと突き合わせて反映する。
// tracked/clearedの候補は変更しない。dismissedの候補は出現数が
// 却下時の出現数×ResurfaceFactor以上になった場合にdiscoveredへ戻す。
func (s *Service) merge(ctx context.Context, c *model.FandomDiscovery) (bool, error) {
	existing, err := s.discoveries.FindByNormalizedName(ctx, c.NormalizedName)
	if err != nil {
		return false, fmt.Errorf("候補の取得に失敗: %w", err)
	}
	if existing != nil {
		if existing.Status.Frozen() {
			return false, nil
		}
		c.Name = existing.Name
		if existing.Status == model.DiscoveryStatusDismissed {
			threshold := float64(existing.DismissedOccurrences) * s.cfg.ResurfaceFactor
			if float64(c.Occurrences) >= threshold {
				c.Status = model.DiscoveryStatusDiscovered
				c.DismissedOccurrences = 0
				s.logger.Info("却下済みの候補が再浮上しました",
					slog.String("name", c.NormalizedName),
					slog.Int("occurrences", c.Occurrences),
					slog.Int("dismissed_occurrences", existing.DismissedOccurrences),
				)
			} else {
				c.Status = model.DiscoveryStatusDismissed
				c.DismissedOccurrences = existing.DismissedOccurrences
			}
		}
	}

	applied, err := s.discoveries.Upsert(ctx, c)
	if err != nil {
		return false, fmt.Errorf("候補のUPSERTに失敗: %w", err)
	}
	if applied && s.recorder != nil {
		s.recorder.RecordDiscovery(string(c.Status))
	}
	return applied, nil
}

// List は状態で絞り込んだ候補を返す。statusが空の場合は全件。
func (s *Service) List(ctx context.Context, status model.DiscoveryStatus) ([]*model.FandomDiscovery, error) {
	if status != "" && !status.Valid() {
		return nil, model.NewInvalidStatusError(string(status))
	}
	list, err := s.discoveries.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("候補一覧の取得に失敗: %w", err)
	}
	if list == nil {
		list = []*model.FandomDiscovery{}
	}
	return list, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.FandomDiscovery, error) {
	d, err := s.discoveries.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("候補の取得に失敗: %w", err)
	}
	if d == nil {
		return nil, model.NewDiscoveryNotFoundError(id)
	}
	if d.Status.Frozen() {
		return nil, model.NewDiscoveryFrozenError(d.Status)
	}
	return d, nil
}

func (s *Service) updateStatus(ctx context.Context, d *model.FandomDiscovery, status model.DiscoveryStatus, dismissedOccurrences int) error {
	err := s.discoveries.UpdateStatus(ctx, d.ID, status, dismissedOccurrences)
	switch {
	case errors.Is(err, model.ErrDiscoveryFrozen):
		return model.NewDiscoveryFrozenError(d.Status)
	case errors.Is(err, model.ErrNotFound):
		return model.NewDiscoveryNotFoundError(d.ID)
	case err != nil:
		return fmt.Errorf("候補の状態更新に失敗: %w", err)
	}
	d.Status = status
	d.DismissedOccurrences = dismissedOccurrences
	s.logger.Info("候補の状態を更新しました",
		slog.String("discovery_id", d.ID),
		slog.String("name", d.NormalizedName),
		slog.String("status", string(status)),
	)
	return nil
}

// Dismiss は候補を却下する。現在の出現数を再浮上判定の基準として記録する。
func (s *Service) Dismiss(ctx context.Context, id string) (*model.FandomDiscovery, error) {
	d, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.updateStatus(ctx, d, model.DiscoveryStatusDismissed, d.Occurrences); err != nil {
		return nil, err
	}
	return d, nil
}

// Clear は候補を対象外として確定する。以後マイナーからは変更されない。
func (s *Service) Clear(ctx context.Context, id string) (*model.FandomDiscovery, error) {
	d, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.updateStatus(ctx, d, model.DiscoveryStatusCleared, d.DismissedOccurrences); err != nil {
		return nil, err
	}
	return d, nil
}

// Track は候補をtrackedで確定してから、推奨ティアのファンダムとして登録する。
// 状態の確定を先に行うため、同時にClear等で凍結された候補からファンダムは作られない。
func (s *Service) Track(ctx context.Context, id string) (*model.Fandom, error) {
	d, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.updateStatus(ctx, d, model.DiscoveryStatusTracked, d.DismissedOccurrences); err != nil {
		return nil, err
	}

	tier := d.SuggestedTier
	if !tier.Valid() {
		tier = model.TierEmerging
	}
	fandom := &model.Fandom{
		Slug: d.NormalizedName,
		Name: d.Name,
		Tier: tier,
	}
	if err := s.fandoms.Create(ctx, fandom); err != nil {
		s.logger.Error("tracked候補のファンダム登録に失敗しました",
			slog.String("discovery_id", d.ID),
			slog.String("name", d.NormalizedName),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("ファンダムの登録に失敗: %w", err)
	}
	return fandom, nil
}
