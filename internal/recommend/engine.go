// Package recommend は追跡中ファンダムをキャンペーン対象としてスコアリングし、
// 市場区分ごとの推薦を生成する。
package recommend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/repository"
)

// Engine は保存済みのスナップショットから推薦を計算する。結果は永続化もキャッシュもしない。
type Engine struct {
	fandoms   repository.FandomRepository
	snapshots repository.SnapshotRepository
	cfg       config.RecommendationScoring
	now       func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(fandoms repository.FandomRepository, snapshots repository.SnapshotRepository, cfg config.RecommendationScoring) *Engine {
	return &Engine{fandoms: fandoms, snapshots: snapshots, cfg: cfg, now: time.Now}
}

// platformStats は直近期間の1プラットフォーム分の集計。
type platformStats struct {
	rateSum   float64
	count     int
	followers int64 // 最新スナップショットの値
}

func (p *platformStats) avgRate() float64 {
	if p.count == 0 {
		return 0
	}
	return p.rateSum / float64(p.count)
}

// fandomStats は1ファンダムの直近期間の集計。
type fandomStats struct {
	fandom      *model.Fandom
	growthSum   float64
	snapshots   int
	byPlatform  map[model.Platform]*platformStats
	preferences []model.Platform // 平均エンゲージメント率の降順
}

// Recommend は区分に対する推薦をファンダムの作成順で返す。allはpostpaid・prepaidの両方を返す。
// 直近期間にスナップショットが無いファンダムはプラットフォームごとの最新スナップショットで評価し、
// スナップショットが1件も無いファンダムだけを除外する。並び替えは呼び出し側で行う。
func (e *Engine) Recommend(ctx context.Context, segment model.MarketSegment) ([]model.Recommendation, error) {
	if !segment.Valid() {
		return nil, model.NewInvalidSegmentError(string(segment))
	}

	fandoms, err := e.fandoms.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ファンダム一覧の取得に失敗: %w", err)
	}
	since := model.DateOf(e.now()).AddDate(0, 0, -e.cfg.RecentDays)
	snaps, err := e.snapshots.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("スナップショットの取得に失敗: %w", err)
	}
	older, err := e.latestForStale(ctx, fandoms, snaps, since)
	if err != nil {
		return nil, err
	}

	stats := collect(fandoms, append(snaps, older...))
	peers := peerRates(stats)

	out := []model.Recommendation{}
	for _, f := range fandoms {
		st, ok := stats[f.ID]
		if !ok {
			continue
		}
		platforms, err := e.fandoms.ListPlatforms(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("プラットフォームの取得に失敗: %w", err)
		}
		for _, seg := range segment.Expand() {
			out = append(out, e.score(st, seg, peers, platforms))
		}
	}
	return out, nil
}

// latestForStale は直近期間にスナップショットが無いファンダムについて、
// since より前の最新スナップショットをプラットフォームごとに集める。
func (e *Engine) latestForStale(ctx context.Context, fandoms []*model.Fandom, recent []*model.MetricSnapshot, since time.Time) ([]*model.MetricSnapshot, error) {
	seen := make(map[string]bool, len(recent))
	for _, s := range recent {
		seen[s.FandomID] = true
	}

	var out []*model.MetricSnapshot
	for _, f := range fandoms {
		if seen[f.ID] {
			continue
		}
		for _, p := range model.Platforms {
			s, err := e.snapshots.GetLatestBefore(ctx, f.ID, p, since)
			if err != nil {
				return nil, fmt.Errorf("最新スナップショットの取得に失敗: %w", err)
			}
			if s != nil {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func collect(fandoms []*model.Fandom, snaps []*model.MetricSnapshot) map[string]*fandomStats {
	byID := make(map[string]*model.Fandom, len(fandoms))
	for _, f := range fandoms {
		byID[f.ID] = f
	}

	stats := map[string]*fandomStats{}
	for _, s := range snaps {
		f, ok := byID[s.FandomID]
		if !ok {
			continue
		}
		st, ok := stats[f.ID]
		if !ok {
			st = &fandomStats{fandom: f, byPlatform: map[model.Platform]*platformStats{}}
			stats[f.ID] = st
		}
		st.growthSum += s.GrowthRate
		st.snapshots++

		ps, ok := st.byPlatform[s.Platform]
		if !ok {
			ps = &platformStats{}
			st.byPlatform[s.Platform] = ps
		}
		ps.rateSum += s.EngagementRate
		ps.count++
		// ListSinceは日付昇順
		ps.followers = s.Followers
	}

	for _, st := range stats {
		for _, p := range model.Platforms {
			if _, ok := st.byPlatform[p]; ok {
				st.preferences = append(st.preferences, p)
			}
		}
		sort.SliceStable(st.preferences, func(i, j int) bool {
			return st.byPlatform[st.preferences[i]].avgRate() > st.byPlatform[st.preferences[j]].avgRate()
		})
	}
	return stats
}

type peerKey struct {
	platform model.Platform
	tier     model.Tier
}

// peerRates は(プラットフォーム, ティア)ごとにファンダム別の平均エンゲージメント率を集める。
// 中央値は比較対象の自分自身を除いて計算するため、ここでは値の一覧のみ保持する。
func peerRates(stats map[string]*fandomStats) map[peerKey]map[string]float64 {
	peers := map[peerKey]map[string]float64{}
	for id, st := range stats {
		for p, ps := range st.byPlatform {
			k := peerKey{platform: p, tier: st.fandom.Tier}
			if peers[k] == nil {
				peers[k] = map[string]float64{}
			}
			peers[k][id] = ps.avgRate()
		}
	}
	return peers
}

// medianExcluding はselfを除いた値の中央値を返す。比較対象がいない場合はfalse。
func medianExcluding(values map[string]float64, self string) (float64, bool) {
	var xs []float64
	for id, v := range values {
		if id != self {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return 0, false
	}
	sort.Float64s(xs)
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2], true
	}
	return (xs[n/2-1] + xs[n/2]) / 2, true
}

func (e *Engine) score(st *fandomStats, seg model.MarketSegment, peers map[peerKey]map[string]float64, platforms []*model.FandomPlatform) model.Recommendation {
	growth := e.growthScore(st)
	engagement := engagementScore(st, peers)
	demographic := e.demographicScore(st.fandom, seg)

	gw, ew, dw := e.cfg.GrowthWeight, e.cfg.EngagementWeight, e.cfg.DemographicWeight
	total := gw + ew + dw
	if total <= 0 {
		gw, ew, dw, total = 1, 1, 1, 3
	}
	score := (gw*growth + ew*engagement + dw*demographic) / total

	driver := model.DriverGrowth
	best := gw * growth
	if v := ew * engagement; v > best {
		driver, best = model.DriverEngagement, v
	}
	if v := dw * demographic; v > best {
		driver = model.DriverDemographic
	}

	platform := st.preferences[0]
	reach := st.byPlatform[platform].followers
	for _, fp := range platforms {
		if fp.Platform == platform && fp.Followers > 0 {
			reach = fp.Followers
		}
	}

	rec := model.Recommendation{
		FandomID:          st.fandom.ID,
		FandomName:        st.fandom.Name,
		Tier:              st.fandom.Tier,
		Segment:           seg,
		Score:             round2(score),
		GrowthScore:       round2(growth),
		EngagementScore:   round2(engagement),
		DemographicScore:  round2(demographic),
		Driver:            driver,
		SuggestedPlatform: platform,
		EstimatedReach:    reach,
	}
	rec.SuggestedAction, rec.Rationale = describe(rec)
	return rec
}

// growthScore は直近の平均成長率をGrowthCeilingで正規化して0〜100にする。
func (e *Engine) growthScore(st *fandomStats) float64 {
	if st.snapshots == 0 || e.cfg.GrowthCeiling <= 0 {
		return 0
	}
	avg := st.growthSum / float64(st.snapshots)
	return clamp(avg/e.cfg.GrowthCeiling, 0, 1) * 100
}

// engagementScore は同じプラットフォーム・ティアの他ファンダムの中央値に対する比率を
// プラットフォーム間で平均し、中央値と同等を50とする。比較対象がいなければ50。
func engagementScore(st *fandomStats, peers map[peerKey]map[string]float64) float64 {
	var sum float64
	for _, p := range st.preferences {
		own := st.byPlatform[p].avgRate()
		ratio := 1.0
		if median, ok := medianExcluding(peers[peerKey{platform: p, tier: st.fandom.Tier}], st.fandom.ID); ok {
			switch {
			case median > 0:
				ratio = own / median
			case own > 0:
				ratio = 2
			}
		}
		sum += ratio
	}
	return clamp(50*sum/float64(len(st.preferences)), 0, 100)
}

// demographicScore は区分の狙う属性タグとの一致率を0〜100で返す。一致が無い場合も下限値を下回らない。
func (e *Engine) demographicScore(f *model.Fandom, seg model.MarketSegment) float64 {
	targets := seg.TargetTags()
	hits := 0
	for _, tag := range targets {
		if f.HasTag(tag) {
			hits++
		}
	}
	return math.Max(100*float64(hits)/float64(len(targets)), e.cfg.DemographicFloor)
}

func describe(r model.Recommendation) (action, rationale string) {
	switch r.Driver {
	case model.DriverGrowth:
		action = fmt.Sprintf("%sで%s向けの早期タイアップを実施する", r.SuggestedPlatform, r.Segment)
		rationale = fmt.Sprintf("%sは直近のフォロワー成長が顕著です（成長スコア%.0f）", r.FandomName, r.GrowthScore)
	case model.DriverEngagement:
		action = fmt.Sprintf("%sで%s向けの参加型キャンペーンを実施する", r.SuggestedPlatform, r.Segment)
		rationale = fmt.Sprintf("%sは同じティアの他ファンダムより反応が高いです（エンゲージメントスコア%.0f）", r.FandomName, r.EngagementScore)
	default:
		action = fmt.Sprintf("%sで%s向けの定番プロモーションを実施する", r.SuggestedPlatform, r.Segment)
		rationale = fmt.Sprintf("%sの属性が%sの狙う層と一致しています（属性スコア%.0f）", r.FandomName, r.Segment, r.DemographicScore)
	}
	return action, rationale
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
