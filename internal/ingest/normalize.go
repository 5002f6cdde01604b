package ingest

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/scraper"
)

// Batch は1データセットを正規化した結果。
type Batch struct {
	FandomID string
	Platform model.Platform
	// Items は外部IDで重複排除済みのコンテンツ。入力で最初に現れた順。
	Items []*model.ContentItem
	// Skipped は形状不正でスキップしたレコード数。
	Skipped int
	// authorFollowers はフォロワー数が解決できた投稿者ごとの最新値。
	authorFollowers map[string]int64
}

// Normalizer は生レコードを正規化済みエンティティに変換する。ストアにはアクセスしない。
type Normalizer struct {
	sanitizer TextSanitizer
	logger    *slog.Logger
}

// NewNormalizer はNormalizerを生成する。
func NewNormalizer(sanitizer TextSanitizer, logger *slog.Logger) *Normalizer {
	return &Normalizer{sanitizer: sanitizer, logger: logger}
}

// Normalize はレコードを順に解析し、同じ外部IDのレコードは後勝ちで1件にまとめる。
// 後のレコードに公開日時が無い場合は先のレコードの値を残す。
func (n *Normalizer) Normalize(records []scraper.RawRecord, fandomID string, platform model.Platform, scrapedAt time.Time) *Batch {
	b := &Batch{
		FandomID:        fandomID,
		Platform:        platform,
		Items:           make([]*model.ContentItem, 0, len(records)),
		authorFollowers: map[string]int64{},
	}
	index := map[string]int{}

	for i, raw := range records {
		rec, err := parseRecord(platform, raw, scrapedAt, n.sanitizer)
		if err != nil {
			b.Skipped++
			n.logger.Warn("レコードの形状が不正なためスキップしました",
				slog.String("fandom_id", fandomID),
				slog.String("platform", string(platform)),
				slog.Int("record_index", i),
				slog.String("error", err.Error()),
			)
			continue
		}

		item := rec.item
		item.FandomID = fandomID
		if rec.hasFollowers {
			b.authorFollowers[item.AuthorUsername] = item.AuthorFollowers
		}

		if pos, dup := index[item.ExternalID]; dup {
			if item.PublishedAt == nil {
				item.PublishedAt = b.Items[pos].PublishedAt
			}
			b.Items[pos] = item
			continue
		}
		index[item.ExternalID] = len(b.Items)
		b.Items = append(b.Items, item)
	}
	return b
}

// AuthorFollowers は投稿者のフォロワー数を返す。解決できなかった場合はfalse。
func (b *Batch) AuthorFollowers(username string) (int64, bool) {
	f, ok := b.authorFollowers[normalizeUsername(username)]
	return f, ok
}

// dailyAggregate は1日分の集計値。
type dailyAggregate struct {
	Date            time.Time
	PostsCount      int
	EngagementTotal int64
	likes           int64
	comments        int64
	shares          int64
}

// aggregateDaily はコンテンツを活動日（公開日時が取得日時より前ならその日、なければ取得日）で
// まとめ、日付の昇順で返す。
func aggregateDaily(items []*model.ContentItem) []*dailyAggregate {
	byDate := map[time.Time]*dailyAggregate{}
	for _, it := range items {
		d := model.DateOf(it.ActivityTime())
		agg, ok := byDate[d]
		if !ok {
			agg = &dailyAggregate{Date: d}
			byDate[d] = agg
		}
		agg.PostsCount++
		agg.EngagementTotal += it.Engagement()
		agg.likes += it.Likes
		agg.comments += it.Comments
		agg.shares += it.Shares
	}

	out := make([]*dailyAggregate, 0, len(byDate))
	for _, agg := range byDate {
		out = append(out, agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// buildSnapshot は日次集計と現在のフォロワー数からスナップショットを作る。
// priorがnilの場合（初回）の成長率は0。
func buildSnapshot(fandomID string, platform model.Platform, agg *dailyAggregate, followers int64, prior *model.MetricSnapshot) *model.MetricSnapshot {
	s := &model.MetricSnapshot{
		FandomID:        fandomID,
		Platform:        platform,
		Date:            agg.Date,
		Followers:       followers,
		PostsCount:      agg.PostsCount,
		EngagementTotal: agg.EngagementTotal,
		EngagementRate:  float64(agg.EngagementTotal) / float64(max(followers, 1)),
	}
	if agg.PostsCount > 0 {
		n := float64(agg.PostsCount)
		s.AvgLikes = float64(agg.likes) / n
		s.AvgComments = float64(agg.comments) / n
		s.AvgShares = float64(agg.shares) / n
	}
	if prior != nil {
		s.GrowthRate = float64(followers-prior.Followers) / float64(max(prior.Followers, 1))
	}
	return s
}

// buildInfluencers はフォロワー数が解決できた投稿者ごとにインフルエンサーを作る。
// 投稿者名の昇順で返す。
func buildInfluencers(b *Batch, weights config.InfluencerScoring) []*model.Influencer {
	type stats struct {
		posts      int
		engagement int64
	}
	byAuthor := map[string]*stats{}
	for _, it := range b.Items {
		if it.AuthorUsername == "" {
			continue
		}
		if _, ok := b.authorFollowers[it.AuthorUsername]; !ok {
			continue
		}
		s, ok := byAuthor[it.AuthorUsername]
		if !ok {
			s = &stats{}
			byAuthor[it.AuthorUsername] = s
		}
		s.posts++
		s.engagement += it.Engagement()
	}

	out := make([]*model.Influencer, 0, len(byAuthor))
	for username, s := range byAuthor {
		followers := b.authorFollowers[username]
		rate := float64(s.engagement) / float64(s.posts) / float64(max(followers, 1))
		out = append(out, &model.Influencer{
			FandomID:       b.FandomID,
			Platform:       b.Platform,
			Username:       username,
			Followers:      followers,
			PostsCount:     s.posts,
			EngagementRate: rate,
			RelevanceScore: RelevanceScore(rate, followers, weights),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// RelevanceScore はエンゲージメント率とフォロワー数を正規化して重み付けし、0〜100で返す。
// エンゲージメント率はEngagementCeilingで、フォロワー数はReachCeilingを上限とする対数で正規化する。
func RelevanceScore(engagementRate float64, followers int64, w config.InfluencerScoring) float64 {
	eng := 0.0
	if w.EngagementCeiling > 0 {
		eng = math.Min(engagementRate/w.EngagementCeiling, 1)
	}
	reach := 0.0
	if followers > 1 && w.ReachCeiling > 1 {
		reach = math.Min(math.Log10(float64(followers))/math.Log10(float64(w.ReachCeiling)), 1)
	}
	score := 100 * (w.EngagementWeight*math.Max(eng, 0) + w.ReachWeight*reach)
	return math.Round(math.Max(0, math.Min(100, score))*100) / 100
}
