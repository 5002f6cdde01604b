package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/events"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/repository"
)

type recordingPublisher struct {
	events.NopPublisher
	detected []events.DiscoveryDetected
}

func (p *recordingPublisher) PublishDiscoveryDetected(_ context.Context, ev events.DiscoveryDetected) error {
	p.detected = append(p.detected, ev)
	return nil
}

type countingRecorder struct {
	byStatus map[string]int
}

func (r *countingRecorder) RecordDiscovery(status string) {
	if r.byStatus == nil {
		r.byStatus = map[string]int{}
	}
	r.byStatus[status]++
}

type serviceFixture struct {
	store     *repository.MemoryStore
	svc       *Service
	publisher *recordingPublisher
	recorder  *countingRecorder
	seq       int
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	cfg := config.DefaultScoring().Discovery
	f := &serviceFixture{
		store:     store,
		publisher: &recordingPublisher{},
		recorder:  &countingRecorder{},
	}
	f.svc = NewService(store.Content, store.Fandoms, store.Discoveries, store.Trends,
		cfg, f.recorder, f.publisher, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	return f
}

// seed はtagsを含むn件のコンテンツを直近の時刻で保存する。
func (f *serviceFixture) seed(t *testing.T, n int, tags ...string) {
	t.Helper()
	now := time.Now()
	for i := 0; i < n; i++ {
		f.seq++
		_, err := f.store.Content.Upsert(context.Background(), &model.ContentItem{
			Platform:       model.PlatformTikTok,
			ExternalID:     fmt.Sprintf("v%d", f.seq),
			AuthorUsername: fmt.Sprintf("user%d", f.seq),
			Views:          100,
			Hashtags:       tags,
			ScrapedAt:      now,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func (f *serviceFixture) candidate(t *testing.T, name string) *model.FandomDiscovery {
	t.Helper()
	d, err := f.store.Discoveries.FindByNormalizedName(context.Background(), name)
	if err != nil || d == nil {
		t.Fatalf("candidate %q not found: %v", name, err)
	}
	return d
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError %s", err, code)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %s, want %s", apiErr.Code, code)
	}
}

func TestService_MineRecent_StoresAndPublishes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	if err := f.store.Fandoms.Create(ctx, &model.Fandom{Slug: "bini", Name: "BINI", Tier: model.TierTrending}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.seed(t, 5, "BINI", "SB19")

	got, err := f.svc.MineRecent(ctx)
	if err != nil {
		t.Fatalf("MineRecent: %v", err)
	}
	if len(got) != 1 || got[0].NormalizedName != "sb19" {
		t.Fatalf("got %+v, want only sb19 (bini is tracked)", got)
	}
	if got[0].ID == "" {
		t.Error("stored candidate should have an ID")
	}
	if len(f.publisher.detected) != 1 || f.publisher.detected[0].Name != "sb19" {
		t.Errorf("published = %+v", f.publisher.detected)
	}
	if f.recorder.byStatus["discovered"] != 1 {
		t.Errorf("recorded = %v", f.recorder.byStatus)
	}

	list, err := f.svc.List(ctx, model.DiscoveryStatusDiscovered)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
}

func TestService_ScanNames_OnlyTouchesGivenNames(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, 5, "sb19", "bini")

	got, err := f.svc.ScanNames(context.Background(), []string{"#SB19"})
	if err != nil {
		t.Fatalf("ScanNames: %v", err)
	}
	if len(got) != 1 || got[0].NormalizedName != "sb19" {
		t.Fatalf("got %+v, want only sb19", got)
	}
	if d, _ := f.store.Discoveries.FindByNormalizedName(context.Background(), "bini"); d != nil {
		t.Errorf("bini should not be stored by a scan for sb19: %+v", d)
	}

	none, err := f.svc.ScanNames(context.Background(), nil)
	if err != nil || len(none) != 0 {
		t.Errorf("ScanNames(nil) = %v, %v", none, err)
	}
}

// taggedOnlyContent は全件読み込みを禁止し、絞り込み読み込みのキーを記録する。
type taggedOnlyContent struct {
	repository.ContentRepository
	t    *testing.T
	keys []string
}

func (c *taggedOnlyContent) ListSince(context.Context, time.Time) ([]*model.ContentItem, error) {
	c.t.Error("ScanNames should not read the whole lookback window")
	return nil, nil
}

func (c *taggedOnlyContent) ListSinceTagged(ctx context.Context, since time.Time, keys []string) ([]*model.ContentItem, error) {
	c.keys = keys
	return c.ContentRepository.ListSinceTagged(ctx, since, keys)
}

func TestService_ScanNames_ReadsOnlyMatchingContent(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t, 5, "sb19")
	f.seed(t, 50, "unrelated")
	content := &taggedOnlyContent{ContentRepository: f.store.Content, t: t}
	f.svc.content = content

	got, err := f.svc.ScanNames(context.Background(), []string{"#SB19", "@sb19", "bini"})
	if err != nil {
		t.Fatalf("ScanNames: %v", err)
	}
	if len(content.keys) != 2 || content.keys[0] != "bini" || content.keys[1] != "sb19" {
		t.Errorf("keys = %v, want [bini sb19]", content.keys)
	}
	if len(got) != 1 || got[0].NormalizedName != "sb19" || got[0].Occurrences != 5 {
		t.Fatalf("got %+v, want sb19 with 5 occurrences", got)
	}
}

func TestService_DismissedCandidateResurfaces(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seed(t, 5, "sb19")
	if _, err := f.svc.MineRecent(ctx); err != nil {
		t.Fatalf("MineRecent: %v", err)
	}

	d, err := f.svc.Dismiss(ctx, f.candidate(t, "sb19").ID)
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if d.Status != model.DiscoveryStatusDismissed || d.DismissedOccurrences != 5 {
		t.Fatalf("dismissed = %+v", d)
	}

	// 9件では基準の2倍(10)に届かない
	f.seed(t, 4, "sb19")
	got, err := f.svc.MineRecent(ctx)
	if err != nil {
		t.Fatalf("MineRecent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("below resurface threshold: got %+v", got)
	}
	stored := f.candidate(t, "sb19")
	if stored.Status != model.DiscoveryStatusDismissed || stored.Occurrences != 9 || stored.DismissedOccurrences != 5 {
		t.Errorf("stored = status %s occ %d baseline %d", stored.Status, stored.Occurrences, stored.DismissedOccurrences)
	}

	f.seed(t, 1, "sb19")
	got, err = f.svc.MineRecent(ctx)
	if err != nil {
		t.Fatalf("MineRecent: %v", err)
	}
	if len(got) != 1 || got[0].Status != model.DiscoveryStatusDiscovered {
		t.Fatalf("at resurface threshold: got %+v", got)
	}
	if f.candidate(t, "sb19").DismissedOccurrences != 0 {
		t.Error("baseline should be reset on resurface")
	}
}

func TestService_ClearedCandidateIsFrozen(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seed(t, 5, "sb19")
	f.svc.MineRecent(ctx)
	id := f.candidate(t, "sb19").ID

	if _, err := f.svc.Clear(ctx, id); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	f.seed(t, 20, "sb19")
	got, err := f.svc.MineRecent(ctx)
	if err != nil {
		t.Fatalf("MineRecent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("cleared candidate returned: %+v", got)
	}
	if stored := f.candidate(t, "sb19"); stored.Status != model.DiscoveryStatusCleared || stored.Occurrences != 5 {
		t.Errorf("cleared candidate changed: %+v", stored)
	}

	_, err = f.svc.Dismiss(ctx, id)
	assertAPIError(t, err, model.ErrCodeDiscoveryFrozen)
}

func TestService_Track_CreatesFandom(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seed(t, 5, "SB19")
	f.svc.MineRecent(ctx)
	c := f.candidate(t, "sb19")

	fandom, err := f.svc.Track(ctx, c.ID)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if fandom.ID == "" || fandom.Slug != "sb19" || fandom.Tier != c.SuggestedTier {
		t.Errorf("fandom = %+v", fandom)
	}
	if f.candidate(t, "sb19").Status != model.DiscoveryStatusTracked {
		t.Error("candidate should be tracked")
	}

	_, err = f.svc.Track(ctx, c.ID)
	assertAPIError(t, err, model.ErrCodeDiscoveryFrozen)

	active, _ := f.store.Fandoms.ListActive(ctx)
	if len(active) != 1 {
		t.Errorf("active fandoms = %d, want 1", len(active))
	}
}

// clearingDiscoveries は状態更新の直前に別の操作で候補がclearedになった状況を再現する。
type clearingDiscoveries struct {
	repository.DiscoveryRepository
}

func (r clearingDiscoveries) UpdateStatus(ctx context.Context, id string, status model.DiscoveryStatus, dismissed int) error {
	if err := r.DiscoveryRepository.UpdateStatus(ctx, id, model.DiscoveryStatusCleared, dismissed); err != nil {
		return err
	}
	return r.DiscoveryRepository.UpdateStatus(ctx, id, status, dismissed)
}

func TestService_Track_ConcurrentClear_CreatesNoFandom(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seed(t, 5, "SB19")
	f.svc.MineRecent(ctx)
	c := f.candidate(t, "sb19")

	f.svc.discoveries = clearingDiscoveries{f.store.Discoveries}
	_, err := f.svc.Track(ctx, c.ID)
	assertAPIError(t, err, model.ErrCodeDiscoveryFrozen)

	active, _ := f.store.Fandoms.ListActive(ctx)
	if len(active) != 0 {
		t.Errorf("active fandoms = %d, want 0 after losing the race to Clear", len(active))
	}
	if got := f.candidate(t, "sb19").Status; got != model.DiscoveryStatusCleared {
		t.Errorf("status = %s, want cleared", got)
	}
}

func TestService_TrendInterestRaisesConfidence(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.seed(t, 5, "sb19")
	f.store.Trends.Upsert(ctx, &model.GoogleTrend{
		Keyword: "SB19", Date: time.Now(), RegionCode: "PH-00", InterestValue: 100,
	})

	got, err := f.svc.MineRecent(ctx)
	if err != nil {
		t.Fatalf("MineRecent: %v", err)
	}
	// 5件×2 + 5人×5 = 35、関心度100で+20
	if len(got) != 1 || got[0].Confidence != 55 {
		t.Errorf("got %+v, want confidence 55", got)
	}
}

func TestService_Errors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, model.DiscoveryStatus("archived"))
	assertAPIError(t, err, model.ErrCodeInvalidStatus)

	_, err = f.svc.Dismiss(ctx, "missing")
	assertAPIError(t, err, model.ErrCodeDiscoveryNotFound)

	list, err := f.svc.List(ctx, "")
	if err != nil || list == nil || len(list) != 0 {
		t.Errorf("List(empty store) = %#v, %v", list, err)
	}
}
