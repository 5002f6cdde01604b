package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/scraper"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestNormalize_DedupByExternalID_LaterWins(t *testing.T) {
	records := []scraper.RawRecord{
		{"id": "v1", "diggCount": json.Number("10"), "createTimeISO": "2024-05-01T10:00:00Z"},
		{"id": "v2", "diggCount": json.Number("5")},
		{"id": "v1", "diggCount": json.Number("25")},
		{"text": "id missing"},
	}

	b := newTestNormalizer().Normalize(records, "f1", model.PlatformTikTok, testScrapedAt)

	if len(b.Items) != 2 {
		t.Fatalf("Items = %d, want 2", len(b.Items))
	}
	if b.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", b.Skipped)
	}
	first := b.Items[0]
	if first.ExternalID != "v1" || first.Likes != 25 {
		t.Errorf("first item = %s likes %d, want v1 likes 25", first.ExternalID, first.Likes)
	}
	if first.PublishedAt == nil || !first.PublishedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("earlier publishedAt should be kept, got %v", first.PublishedAt)
	}
	if first.FandomID != "f1" {
		t.Errorf("FandomID = %q", first.FandomID)
	}
}

func TestNormalize_AuthorFollowersLatestValue(t *testing.T) {
	records := []scraper.RawRecord{
		{"id": "v1", "authorMeta": map[string]any{"name": "BINI_Official", "fans": json.Number("100")}},
		{"id": "v2", "authorMeta": map[string]any{"name": "bini_official", "fans": json.Number("150")}},
		{"id": "v3", "authorMeta": map[string]any{"name": "nofans"}},
	}
	b := newTestNormalizer().Normalize(records, "f1", model.PlatformTikTok, testScrapedAt)

	if f, ok := b.AuthorFollowers("@BINI_Official"); !ok || f != 150 {
		t.Errorf("AuthorFollowers = (%d, %v), want (150, true)", f, ok)
	}
	if _, ok := b.AuthorFollowers("nofans"); ok {
		t.Error("author without follower count should not resolve")
	}
}

func TestAggregateDaily_UsesActivityDate(t *testing.T) {
	published := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	items := []*model.ContentItem{
		{ExternalID: "a", Likes: 10, Comments: 2, PublishedAt: &published, ScrapedAt: testScrapedAt},
		{ExternalID: "b", Likes: 4, Shares: 1, ScrapedAt: testScrapedAt},
		{ExternalID: "c", Likes: 6, ScrapedAt: testScrapedAt},
	}

	aggs := aggregateDaily(items)
	if len(aggs) != 2 {
		t.Fatalf("aggregates = %d, want 2", len(aggs))
	}
	if !aggs[0].Date.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) || aggs[0].PostsCount != 1 || aggs[0].EngagementTotal != 12 {
		t.Errorf("first = %+v", aggs[0])
	}
	if !aggs[1].Date.Equal(model.DateOf(testScrapedAt)) || aggs[1].PostsCount != 2 || aggs[1].EngagementTotal != 11 {
		t.Errorf("second = %+v", aggs[1])
	}
}

func TestBuildSnapshot(t *testing.T) {
	agg := &dailyAggregate{Date: model.DateOf(testScrapedAt), PostsCount: 2, EngagementTotal: 30, likes: 30}

	t.Run("zero followers guards the rate", func(t *testing.T) {
		s := buildSnapshot("f1", model.PlatformTikTok, agg, 0, nil)
		if s.EngagementRate != 30 {
			t.Errorf("EngagementRate = %v, want 30", s.EngagementRate)
		}
		if s.GrowthRate != 0 {
			t.Errorf("GrowthRate = %v, want 0 for the first snapshot", s.GrowthRate)
		}
		if s.AvgLikes != 15 {
			t.Errorf("AvgLikes = %v, want 15", s.AvgLikes)
		}
	})

	t.Run("growth against prior", func(t *testing.T) {
		prior := &model.MetricSnapshot{Followers: 100}
		s := buildSnapshot("f1", model.PlatformTikTok, agg, 150, prior)
		if s.GrowthRate != 0.5 {
			t.Errorf("GrowthRate = %v, want 0.5", s.GrowthRate)
		}
		if s.EngagementRate != 0.2 {
			t.Errorf("EngagementRate = %v, want 0.2", s.EngagementRate)
		}
	})

	t.Run("prior with zero followers", func(t *testing.T) {
		s := buildSnapshot("f1", model.PlatformTikTok, agg, 40, &model.MetricSnapshot{})
		if s.GrowthRate != 40 {
			t.Errorf("GrowthRate = %v, want 40", s.GrowthRate)
		}
	})
}

func TestRelevanceScore(t *testing.T) {
	w := config.DefaultScoring().Influencer
	tests := []struct {
		name      string
		rate      float64
		followers int64
		want      float64
	}{
		{"half engagement, ceiling reach", 0.05, 10_000_000, 70},
		{"capped engagement, small reach", 0.2, 1000, 77.14},
		{"no followers", 0, 0, 0},
		{"above every ceiling", 5, 50_000_000, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RelevanceScore(tt.rate, tt.followers, w)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RelevanceScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildInfluencers_OnlyResolvableAuthors(t *testing.T) {
	records := []scraper.RawRecord{
		{"id": "v1", "diggCount": json.Number("100"), "authorMeta": map[string]any{"name": "b", "fans": json.Number("1000")}},
		{"id": "v2", "diggCount": json.Number("300"), "authorMeta": map[string]any{"name": "b", "fans": json.Number("1000")}},
		{"id": "v3", "diggCount": json.Number("50"), "authorMeta": map[string]any{"name": "a", "fans": json.Number("0")}},
		{"id": "v4", "diggCount": json.Number("999"), "authorMeta": map[string]any{"name": "anon"}},
	}
	b := newTestNormalizer().Normalize(records, "f1", model.PlatformTikTok, testScrapedAt)

	infs := buildInfluencers(b, config.DefaultScoring().Influencer)
	if len(infs) != 2 {
		t.Fatalf("influencers = %d, want 2", len(infs))
	}
	if infs[0].Username != "a" || infs[1].Username != "b" {
		t.Errorf("order = [%s %s], want [a b]", infs[0].Username, infs[1].Username)
	}
	if infs[0].EngagementRate != 50 {
		t.Errorf("zero-follower rate = %v, want 50", infs[0].EngagementRate)
	}
	if infs[1].PostsCount != 2 || infs[1].EngagementRate != 0.2 {
		t.Errorf("b = posts %d rate %v, want 2 / 0.2", infs[1].PostsCount, infs[1].EngagementRate)
	}
}
