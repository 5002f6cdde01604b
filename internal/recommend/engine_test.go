package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/repository"
)

var testNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type engineFixture struct {
	store  *repository.MemoryStore
	engine *Engine
	a, b   *model.Fandom
	idle   *model.Fandom
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()

	a := &model.Fandom{Slug: "bini", Name: "BINI", Tier: model.TierTrending,
		DemographicTags: []model.DemographicTag{model.TagGenZ, model.TagCDE}}
	b := &model.Fandom{Slug: "sb19", Name: "SB19", Tier: model.TierTrending,
		DemographicTags: []model.DemographicTag{model.TagGenY}}
	idle := &model.Fandom{Slug: "idle", Name: "Idle", Tier: model.TierEmerging}
	for _, f := range []*model.Fandom{a, b, idle} {
		if err := store.Fandoms.Create(ctx, f); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	day := model.DateOf(testNow)
	snaps := []*model.MetricSnapshot{
		{FandomID: a.ID, Platform: model.PlatformTikTok, Date: day, Followers: 1000, EngagementRate: 0.2, GrowthRate: 0.05},
		{FandomID: a.ID, Platform: model.PlatformInstagram, Date: day, Followers: 800, EngagementRate: 0.05, GrowthRate: 0.05},
		{FandomID: b.ID, Platform: model.PlatformTikTok, Date: day, Followers: 5000, EngagementRate: 0.1, GrowthRate: 0.2},
	}
	for _, s := range snaps {
		if err := store.Snapshots.Replace(ctx, s); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}
	store.Fandoms.UpsertPlatform(ctx, &model.FandomPlatform{
		FandomID: a.ID, Platform: model.PlatformTikTok, Handle: "bini_ph", Followers: 1200,
	})

	e := NewEngine(store.Fandoms, store.Snapshots, config.DefaultScoring().Recommendation)
	e.now = func() time.Time { return testNow }
	return &engineFixture{store: store, engine: e, a: a, b: b, idle: idle}
}

func TestRecommend_Prepaid(t *testing.T) {
	f := newEngineFixture(t)

	recs, err := f.engine.Recommend(context.Background(), model.SegmentPrepaid)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("recommendations = %d, want 2 (fandom without recent metrics excluded)", len(recs))
	}

	a := recs[0]
	if a.FandomID != f.a.ID {
		t.Fatalf("first = %s, want BINI (creation order)", a.FandomName)
	}
	if a.GrowthScore != 50 || a.EngagementScore != 75 || a.DemographicScore != 100 {
		t.Errorf("BINI components = %v/%v/%v, want 50/75/100", a.GrowthScore, a.EngagementScore, a.DemographicScore)
	}
	if a.Score != 73.75 {
		t.Errorf("BINI score = %v, want 73.75", a.Score)
	}
	if a.Driver != model.DriverDemographic {
		t.Errorf("BINI driver = %s, want demographic_fit", a.Driver)
	}
	if a.SuggestedPlatform != model.PlatformTikTok || a.EstimatedReach != 1200 {
		t.Errorf("BINI platform = %s reach = %d, want tiktok/1200", a.SuggestedPlatform, a.EstimatedReach)
	}
	if a.SuggestedAction == "" || a.Rationale == "" {
		t.Error("action and rationale should be filled")
	}

	b := recs[1]
	if b.GrowthScore != 100 || b.EngagementScore != 25 || b.DemographicScore != 20 {
		t.Errorf("SB19 components = %v/%v/%v, want 100/25/20", b.GrowthScore, b.EngagementScore, b.DemographicScore)
	}
	if b.Score != 49.75 || b.Driver != model.DriverGrowth {
		t.Errorf("SB19 score = %v driver = %s, want 49.75/growth", b.Score, b.Driver)
	}
	if b.EstimatedReach != 5000 {
		t.Errorf("SB19 reach = %d, want snapshot followers 5000", b.EstimatedReach)
	}
}

func TestRecommend_AllExpandsSegments(t *testing.T) {
	f := newEngineFixture(t)

	recs, err := f.engine.Recommend(context.Background(), model.SegmentAll)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	want := []struct {
		fandom  string
		segment model.MarketSegment
	}{
		{f.a.ID, model.SegmentPostpaid},
		{f.a.ID, model.SegmentPrepaid},
		{f.b.ID, model.SegmentPostpaid},
		{f.b.ID, model.SegmentPrepaid},
	}
	if len(recs) != len(want) {
		t.Fatalf("recommendations = %d, want %d", len(recs), len(want))
	}
	for i, w := range want {
		if recs[i].FandomID != w.fandom || recs[i].Segment != w.segment {
			t.Errorf("recs[%d] = %s/%s, want %s/%s", i, recs[i].FandomName, recs[i].Segment, w.fandom, w.segment)
		}
	}

	// BINIのpostpaidは属性一致なしで下限値
	if recs[0].DemographicScore != 20 || recs[0].Driver != model.DriverEngagement {
		t.Errorf("BINI postpaid = %+v", recs[0])
	}
	// SB19のpostpaidはgen_yのみ一致
	if recs[2].DemographicScore != 50 {
		t.Errorf("SB19 postpaid demographic = %v, want 50", recs[2].DemographicScore)
	}
}

func TestRecommend_StaleFandomUsesLatestSnapshot(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	day := model.DateOf(testNow)
	for _, s := range []*model.MetricSnapshot{
		{FandomID: f.idle.ID, Platform: model.PlatformTikTok, Date: day.AddDate(0, 0, -60), Followers: 10, EngagementRate: 0.3},
		{FandomID: f.idle.ID, Platform: model.PlatformTikTok, Date: day.AddDate(0, 0, -45), Followers: 25, EngagementRate: 0.4, GrowthRate: 1.5},
	} {
		if err := f.store.Snapshots.Replace(ctx, s); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}

	recs, err := f.engine.Recommend(ctx, model.SegmentPrepaid)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("recommendations = %d, want 3 (stale fandom scored from its latest snapshot)", len(recs))
	}
	if recs[0].FandomID != f.a.ID || recs[1].FandomID != f.b.ID {
		t.Errorf("recent fandoms should keep creation order: %s, %s", recs[0].FandomName, recs[1].FandomName)
	}
	idle := recs[2]
	if idle.FandomID != f.idle.ID {
		t.Fatalf("third = %s, want Idle", idle.FandomName)
	}
	if idle.SuggestedPlatform != model.PlatformTikTok || idle.EstimatedReach != 25 {
		t.Errorf("Idle platform = %s reach = %d, want tiktok/25 from the latest stale snapshot", idle.SuggestedPlatform, idle.EstimatedReach)
	}
	if recs[0].Score != 73.75 {
		t.Errorf("BINI score = %v, want 73.75 (other tier unaffected)", recs[0].Score)
	}
}

func TestRecommend_InvalidSegment(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Recommend(context.Background(), model.MarketSegment("enterprise"))
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidSegment {
		t.Errorf("error = %v, want INVALID_SEGMENT", err)
	}
}

func TestRecommend_EmptyStore(t *testing.T) {
	store := repository.NewMemoryStore()
	e := NewEngine(store.Fandoms, store.Snapshots, config.DefaultScoring().Recommendation)

	recs, err := e.Recommend(context.Background(), model.SegmentPostpaid)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if recs == nil || len(recs) != 0 {
		t.Errorf("recs = %#v, want empty slice", recs)
	}
}

func TestMedianExcluding(t *testing.T) {
	values := map[string]float64{"a": 1, "b": 3, "c": 2, "d": 10}
	if got, ok := medianExcluding(values, "d"); !ok || got != 2 {
		t.Errorf("median excluding d = %v (%v), want 2", got, ok)
	}
	if got, ok := medianExcluding(values, "a"); !ok || got != 3 {
		t.Errorf("median excluding a = %v (%v), want 3", got, ok)
	}
	if _, ok := medianExcluding(map[string]float64{"a": 1}, "a"); ok {
		t.Error("no peers should report false")
	}
}
