package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// MemoryStore は全リポジトリのインメモリ実装をまとめたもの。
// ユニットテストとDBを使わないローカル実行で使用する。
type MemoryStore struct {
	Fandoms     *MemoryFandomRepo
	Content     *MemoryContentRepo
	Snapshots   *MemorySnapshotRepo
	Influencers *MemoryInfluencerRepo
	Discoveries *MemoryDiscoveryRepo
	Runs        *MemoryScrapeRunRepo
	Trends      *MemoryTrendRepo
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Fandoms:     &MemoryFandomRepo{fandoms: map[string]*model.Fandom{}, platforms: map[string]*model.FandomPlatform{}},
		Content:     &MemoryContentRepo{items: map[string]*model.ContentItem{}},
		Snapshots:   &MemorySnapshotRepo{snapshots: map[string]*model.MetricSnapshot{}},
		Influencers: &MemoryInfluencerRepo{influencers: map[string]*model.Influencer{}},
		Discoveries: &MemoryDiscoveryRepo{byName: map[string]*model.FandomDiscovery{}},
		Runs:        &MemoryScrapeRunRepo{runs: map[string]*model.ScrapeRun{}},
		Trends:      &MemoryTrendRepo{trends: map[string]*model.GoogleTrend{}},
	}
}

// ---- Fandom ----

// MemoryFandomRepo はFandomRepositoryのインメモリ実装。
type MemoryFandomRepo struct {
	mu        sync.RWMutex
	fandoms   map[string]*model.Fandom
	order     []string
	platforms map[string]*model.FandomPlatform // key: fandomID|platform
	seq       int
}

func (r *MemoryFandomRepo) FindByID(_ context.Context, id string) (*model.Fandom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fandoms[id]
	if !ok {
		return nil, nil
	}
	c := *f
	return &c, nil
}

func (r *MemoryFandomRepo) ListActive(_ context.Context) ([]*model.Fandom, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Fandom
	for _, id := range r.order {
		f := r.fandoms[id]
		if f.RetiredAt != nil {
			continue
		}
		c := *f
		result = append(result, &c)
	}
	return result, nil
}

// Create はファンダムを作成する。作成順を保つため、CreatedAtは1ナノ秒ずつ単調増加させる。
func (r *MemoryFandomRepo) Create(_ context.Context, f *model.Fandom) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	for _, existing := range r.fandoms {
		if existing.Slug == f.Slug {
			return fmt.Errorf("ファンダムの作成に失敗しました: slug %q は既に存在します", f.Slug)
		}
	}
	r.seq++
	now := time.Now().Add(time.Duration(r.seq))
	f.CreatedAt = now
	f.UpdatedAt = now
	c := *f
	r.fandoms[f.ID] = &c
	r.order = append(r.order, f.ID)
	return nil
}

func (r *MemoryFandomRepo) ListPlatforms(_ context.Context, fandomID string) ([]*model.FandomPlatform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.FandomPlatform
	for _, fp := range r.platforms {
		if fp.FandomID == fandomID {
			c := *fp
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Platform < result[j].Platform })
	return result, nil
}

func (r *MemoryFandomRepo) FindPlatform(_ context.Context, fandomID string, platform model.Platform) (*model.FandomPlatform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fp, ok := r.platforms[fandomID+"|"+string(platform)]
	if !ok {
		return nil, nil
	}
	c := *fp
	return &c, nil
}

func (r *MemoryFandomRepo) UpsertPlatform(_ context.Context, fp *model.FandomPlatform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fp.FandomID + "|" + string(fp.Platform)
	now := time.Now()
	if existing, ok := r.platforms[key]; ok {
		if fp.Handle == "" {
			fp.Handle = existing.Handle
		}
		fp.ID = existing.ID
		fp.CreatedAt = existing.CreatedAt
	} else {
		if fp.ID == "" {
			fp.ID = uuid.NewString()
		}
		fp.CreatedAt = now
	}
	fp.UpdatedAt = now
	c := *fp
	r.platforms[key] = &c
	return nil
}

// ---- Content ----

// MemoryContentRepo はContentRepositoryのインメモリ実装。
type MemoryContentRepo struct {
	mu    sync.RWMutex
	items map[string]*model.ContentItem // key: platform|externalID

	// FailOn が設定されている場合、該当externalIDのUpsertは失敗する（テスト用）。
	FailOn string
}

func (r *MemoryContentRepo) Upsert(_ context.Context, item *model.ContentItem) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailOn != "" && item.ExternalID == r.FailOn {
		return false, fmt.Errorf("コンテンツのUPSERTに失敗しました: injected failure for %s", item.ExternalID)
	}
	key := string(item.Platform) + "|" + item.ExternalID
	now := time.Now()
	existing, ok := r.items[key]
	if ok {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		if item.PublishedAt == nil {
			item.PublishedAt = existing.PublishedAt
		}
	} else {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	c := *item
	c.Hashtags = append([]string(nil), item.Hashtags...)
	c.Mentions = append([]string(nil), item.Mentions...)
	r.items[key] = &c
	return !ok, nil
}

func (r *MemoryContentRepo) ListSince(_ context.Context, since time.Time) ([]*model.ContentItem, error) {
	return r.list(since, nil), nil
}

func (r *MemoryContentRepo) ListSinceTagged(_ context.Context, since time.Time, keys []string) ([]*model.ContentItem, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	return r.list(since, func(item *model.ContentItem) bool {
		for _, list := range [][]string{item.Hashtags, item.Mentions} {
			for _, tag := range list {
				if want[model.NormalizeTag(tag)] {
					return true
				}
			}
		}
		return false
	}), nil
}

func (r *MemoryContentRepo) list(since time.Time, match func(*model.ContentItem) bool) []*model.ContentItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.ContentItem
	for _, item := range r.items {
		if item.ScrapedAt.Before(since) || (match != nil && !match(item)) {
			continue
		}
		c := *item
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ScrapedAt.Equal(result[j].ScrapedAt) {
			return result[i].ScrapedAt.Before(result[j].ScrapedAt)
		}
		return result[i].ExternalID < result[j].ExternalID
	})
	return result
}

func (r *MemoryContentRepo) DeleteScrapedBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, item := range r.items {
		if item.ScrapedAt.Before(before) {
			delete(r.items, key)
			n++
		}
	}
	return n, nil
}

// Get は(platform, externalID)のコンテンツを返す。テストでの検証用。
func (r *MemoryContentRepo) Get(platform model.Platform, externalID string) *model.ContentItem {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[string(platform)+"|"+externalID]
	if !ok {
		return nil
	}
	c := *item
	return &c
}

// Count は保存件数を返す。
func (r *MemoryContentRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// ---- Snapshot ----

// MemorySnapshotRepo はSnapshotRepositoryのインメモリ実装。
type MemorySnapshotRepo struct {
	mu        sync.RWMutex
	snapshots map[string]*model.MetricSnapshot // key: fandomID|platform|date
}

func snapshotKey(fandomID string, platform model.Platform, date time.Time) string {
	return fandomID + "|" + string(platform) + "|" + model.DateOf(date).Format("2006-01-02")
}

func (r *MemorySnapshotRepo) Replace(_ context.Context, s *model.MetricSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Date = model.DateOf(s.Date)
	key := snapshotKey(s.FandomID, s.Platform, s.Date)
	now := time.Now()
	if existing, ok := r.snapshots[key]; ok {
		s.ID = existing.ID
		s.CreatedAt = existing.CreatedAt
	} else {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	c := *s
	r.snapshots[key] = &c
	return nil
}

func (r *MemorySnapshotRepo) GetLatestBefore(_ context.Context, fandomID string, platform model.Platform, date time.Time) (*model.MetricSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := model.DateOf(date)
	var latest *model.MetricSnapshot
	for _, s := range r.snapshots {
		if s.FandomID != fandomID || s.Platform != platform || !s.Date.Before(day) {
			continue
		}
		if latest == nil || s.Date.After(latest.Date) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (r *MemorySnapshotRepo) ListSince(_ context.Context, since time.Time) ([]*model.MetricSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := model.DateOf(since)
	var result []*model.MetricSnapshot
	for _, s := range r.snapshots {
		if s.Date.Before(day) {
			continue
		}
		c := *s
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.FandomID != b.FandomID {
			return a.FandomID < b.FandomID
		}
		return a.Platform < b.Platform
	})
	return result, nil
}

// ---- Influencer ----

// MemoryInfluencerRepo はInfluencerRepositoryのインメモリ実装。
type MemoryInfluencerRepo struct {
	mu          sync.RWMutex
	influencers map[string]*model.Influencer // key: fandomID|platform|username
}

func (r *MemoryInfluencerRepo) Upsert(_ context.Context, inf *model.Influencer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := inf.FandomID + "|" + string(inf.Platform) + "|" + inf.Username
	now := time.Now()
	if existing, ok := r.influencers[key]; ok {
		inf.ID = existing.ID
		inf.CreatedAt = existing.CreatedAt
	} else {
		if inf.ID == "" {
			inf.ID = uuid.NewString()
		}
		inf.CreatedAt = now
	}
	inf.UpdatedAt = now
	c := *inf
	r.influencers[key] = &c
	return nil
}

func (r *MemoryInfluencerRepo) ListByFandom(_ context.Context, fandomID string) ([]*model.Influencer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.Influencer
	for _, inf := range r.influencers {
		if inf.FandomID == fandomID {
			c := *inf
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RelevanceScore != result[j].RelevanceScore {
			return result[i].RelevanceScore > result[j].RelevanceScore
		}
		return result[i].Username < result[j].Username
	})
	return result, nil
}

// ---- Discovery ----

// MemoryDiscoveryRepo はDiscoveryRepositoryのインメモリ実装。
type MemoryDiscoveryRepo struct {
	mu     sync.RWMutex
	byName map[string]*model.FandomDiscovery
}

func copyDiscovery(d *model.FandomDiscovery) *model.FandomDiscovery {
	c := *d
	c.Platforms = append([]model.Platform(nil), d.Platforms...)
	c.SampleExternalIDs = append([]string(nil), d.SampleExternalIDs...)
	return &c
}

func (r *MemoryDiscoveryRepo) FindByID(_ context.Context, id string) (*model.FandomDiscovery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.byName {
		if d.ID == id {
			return copyDiscovery(d), nil
		}
	}
	return nil, nil
}

func (r *MemoryDiscoveryRepo) FindByNormalizedName(_ context.Context, normalizedName string) (*model.FandomDiscovery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[normalizedName]
	if !ok {
		return nil, nil
	}
	return copyDiscovery(d), nil
}

func (r *MemoryDiscoveryRepo) Upsert(_ context.Context, d *model.FandomDiscovery) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if existing, ok := r.byName[d.NormalizedName]; ok {
		if existing.Status.Frozen() {
			return false, nil
		}
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		if existing.FirstSeenAt.Before(d.FirstSeenAt) {
			d.FirstSeenAt = existing.FirstSeenAt
		}
		if existing.LastSeenAt.After(d.LastSeenAt) {
			d.LastSeenAt = existing.LastSeenAt
		}
	} else {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	r.byName[d.NormalizedName] = copyDiscovery(d)
	return true, nil
}

func (r *MemoryDiscoveryRepo) List(_ context.Context, status model.DiscoveryStatus) ([]*model.FandomDiscovery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*model.FandomDiscovery
	for _, d := range r.byName {
		if status != "" && d.Status != status {
			continue
		}
		result = append(result, copyDiscovery(d))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OverallScore != result[j].OverallScore {
			return result[i].OverallScore > result[j].OverallScore
		}
		return strings.Compare(result[i].NormalizedName, result[j].NormalizedName) < 0
	})
	return result, nil
}

func (r *MemoryDiscoveryRepo) UpdateStatus(_ context.Context, id string, status model.DiscoveryStatus, dismissedOccurrences int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byName {
		if d.ID != id {
			continue
		}
		if d.Status.Frozen() {
			return model.ErrDiscoveryFrozen
		}
		d.Status = status
		d.DismissedOccurrences = dismissedOccurrences
		d.UpdatedAt = time.Now()
		return nil
	}
	return model.ErrNotFound
}

// ---- ScrapeRun ----

// MemoryScrapeRunRepo はScrapeRunRepositoryのインメモリ実装。
type MemoryScrapeRunRepo struct {
	mu    sync.Mutex
	runs  map[string]*model.ScrapeRun
	order []string
}

func (r *MemoryScrapeRunRepo) Create(_ context.Context, run *model.ScrapeRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = model.ScrapeRunPending
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	c := *run
	r.runs[run.ID] = &c
	r.order = append(r.order, run.ID)
	return nil
}

func (r *MemoryScrapeRunRepo) FindByID(_ context.Context, id string) (*model.ScrapeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, nil
	}
	c := *run
	return &c, nil
}

func (r *MemoryScrapeRunRepo) SetStatus(_ context.Context, id string, status model.ScrapeRunStatus, itemsCount int, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return model.ErrNotFound
	}
	if !run.Status.CanTransitionTo(status) {
		return fmt.Errorf("%s から %s への遷移は拒否されました: %w", run.Status, status, model.ErrRunTerminal)
	}
	now := time.Now()
	run.Status = status
	run.ItemsCount = itemsCount
	run.ErrorMessage = errorMessage
	run.UpdatedAt = now
	if status == model.ScrapeRunRunning || run.StartedAt == nil {
		run.StartedAt = &now
	}
	if status.Terminal() {
		run.FinishedAt = &now
	}
	return nil
}

func (r *MemoryScrapeRunRepo) ClaimPending(_ context.Context, limit int) ([]*model.ScrapeRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []*model.ScrapeRun
	for _, id := range r.order {
		if len(claimed) >= limit {
			break
		}
		run := r.runs[id]
		if run.Status != model.ScrapeRunPending {
			continue
		}
		now := time.Now()
		run.Status = model.ScrapeRunRunning
		run.StartedAt = &now
		run.UpdatedAt = now
		c := *run
		claimed = append(claimed, &c)
	}
	return claimed, nil
}

// ---- Trend ----

// MemoryTrendRepo はTrendRepositoryのインメモリ実装。
type MemoryTrendRepo struct {
	mu     sync.RWMutex
	trends map[string]*model.GoogleTrend
}

func (r *MemoryTrendRepo) Upsert(_ context.Context, t *model.GoogleTrend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Date = model.DateOf(t.Date)
	key := t.FandomID + "|" + t.Keyword + "|" + t.Date.Format("2006-01-02") + "|" + t.RegionCode
	now := time.Now()
	if existing, ok := r.trends[key]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
	} else {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	c := *t
	r.trends[key] = &c
	return nil
}

func (r *MemoryTrendRepo) MaxInterest(_ context.Context, keyword string, since time.Time) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	day := model.DateOf(since)
	var max float64
	found := false
	for _, t := range r.trends {
		if !strings.EqualFold(t.Keyword, keyword) || t.Date.Before(day) {
			continue
		}
		if !found || t.InterestValue > max {
			max = t.InterestValue
			found = true
		}
	}
	return max, found, nil
}

// Count は保存件数を返す。
func (r *MemoryTrendRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trends)
}

// コンパイル時にインターフェースの実装を検証する。
var (
	_ FandomRepository     = (*MemoryFandomRepo)(nil)
	_ ContentRepository    = (*MemoryContentRepo)(nil)
	_ SnapshotRepository   = (*MemorySnapshotRepo)(nil)
	_ InfluencerRepository = (*MemoryInfluencerRepo)(nil)
	_ DiscoveryRepository  = (*MemoryDiscoveryRepo)(nil)
	_ ScrapeRunRepository  = (*MemoryScrapeRunRepo)(nil)
	_ TrendRepository      = (*MemoryTrendRepo)(nil)
)
