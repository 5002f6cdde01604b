// Package discovery は未追跡のファンダム候補をコンテンツのハッシュタグ・メンションから検出し、
// スコアリングして候補ストアへ反映する。
package discovery

import (
	"math"
	"sort"
	"time"

	"github.com/hitoshi/fandomwatch/internal/config"
	"github.com/hitoshi/fandomwatch/internal/model"
)

const maxSampleIDs = 5

// Miner はコンテンツ群から候補を抽出するスコアラー。ストアにはアクセスしない。
type Miner struct {
	cfg  config.DiscoveryScoring
	stop map[string]bool
}

// NewMiner はMinerを生成する。
func NewMiner(cfg config.DiscoveryScoring) *Miner {
	stop := make(map[string]bool, len(cfg.StopTags))
	for _, t := range cfg.StopTags {
		stop[NormalizeName(t)] = true
	}
	return &Miner{cfg: cfg, stop: stop}
}

// NormalizeName は候補名のグルーピングキーを返す。コンテンツ側のタグ照合と同じ規則を使う。
func NormalizeName(s string) string { return model.NormalizeTag(s) }

type group struct {
	key       string
	items     int
	authors   map[string]int64 // 投稿者ごとのリーチ（最大値）
	dates     map[time.Time]bool
	times     []time.Time
	platforms map[model.Platform]bool
	samples   []string
	firstSeen time.Time
	lastSeen  time.Time
}

// Mine はコンテンツをタグ・メンション単位でまとめ、閾値以上の候補をスコア付きで返す。
// excludeに含まれる正規化名（追跡済みファンダム等）は候補にしない。
// 結果は総合スコアの降順、同点は出現数の降順、名前の昇順。
func (m *Miner) Mine(items []*model.ContentItem, exclude map[string]bool) []model.FandomDiscovery {
	if len(items) == 0 {
		return []model.FandomDiscovery{}
	}

	groups := map[string]*group{}
	var windowStart, windowEnd time.Time
	for _, it := range items {
		at := it.ActivityTime()
		if windowStart.IsZero() || at.Before(windowStart) {
			windowStart = at
		}
		if at.After(windowEnd) {
			windowEnd = at
		}

		for _, key := range m.keysOf(it, exclude) {
			g, ok := groups[key]
			if !ok {
				g = &group{
					key:       key,
					authors:   map[string]int64{},
					dates:     map[time.Time]bool{},
					platforms: map[model.Platform]bool{},
					firstSeen: at,
					lastSeen:  at,
				}
				groups[key] = g
			}
			g.add(it, at)
		}
	}

	var kept []*group
	maxOcc := 0
	for _, g := range groups {
		if g.items < m.cfg.MinOccurrences {
			continue
		}
		kept = append(kept, g)
		maxOcc = max(maxOcc, g.items)
	}

	window := observationDays(windowStart, windowEnd, m.cfg.MinWindowDays)
	mid := windowStart.Add(windowEnd.Sub(windowStart) / 2)

	out := make([]model.FandomDiscovery, 0, len(kept))
	for _, g := range kept {
		out = append(out, m.score(g, maxOcc, window, mid, windowEnd.Sub(windowStart) > 0))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OverallScore != out[j].OverallScore {
			return out[i].OverallScore > out[j].OverallScore
		}
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].NormalizedName < out[j].NormalizedName
	})
	return out
}

// keysOf は1コンテンツから候補キーを重複なく取り出す。
func (m *Miner) keysOf(it *model.ContentItem, exclude map[string]bool) []string {
	seen := map[string]bool{}
	var keys []string
	for _, list := range [][]string{it.Hashtags, it.Mentions} {
		for _, raw := range list {
			k := NormalizeName(raw)
			if k == "" || seen[k] || m.stop[k] || exclude[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

func (g *group) add(it *model.ContentItem, at time.Time) {
	g.items++

	author := it.AuthorUsername
	if author == "" {
		author = string(it.Platform) + ":" + it.ExternalID
	}
	reach := it.Views
	if reach == 0 {
		reach = it.AuthorFollowers
	}
	if prev, ok := g.authors[author]; !ok || reach > prev {
		g.authors[author] = reach
	}

	g.dates[model.DateOf(at)] = true
	g.times = append(g.times, at)
	g.platforms[it.Platform] = true
	if len(g.samples) < maxSampleIDs {
		g.samples = append(g.samples, it.ExternalID)
	}
	if at.Before(g.firstSeen) {
		g.firstSeen = at
	}
	if at.After(g.lastSeen) {
		g.lastSeen = at
	}
}

// observationDays は観測窓の日数（両端を含む）を返す。minDays未満にはしない。
func observationDays(start, end time.Time, minDays int) int {
	days := int(model.DateOf(end).Sub(model.DateOf(start)).Hours()/24) + 1
	return max(days, minDays, 1)
}

func (m *Miner) score(g *group, maxOcc, window int, mid time.Time, hasSpan bool) model.FandomDiscovery {
	size := 0.0
	if maxOcc > 0 {
		size = 100 * math.Log1p(float64(g.items)) / math.Log1p(float64(maxOcc))
	}

	sustainability := 100 * float64(min(len(g.dates), window)) / float64(window)

	// 観測窓の後半と前半の出現数の差。窓に幅が無い場合は中立の50。
	growth := 50.0
	if hasSpan {
		recent := 0
		for _, t := range g.times {
			if t.After(mid) {
				recent++
			}
		}
		earlier := g.items - recent
		growth = 50 + 50*float64(recent-earlier)/float64(g.items)
	}

	var reach int64
	for _, r := range g.authors {
		reach += r
	}

	sizeScore := int(math.Floor(size))
	return model.FandomDiscovery{
		Name:                g.key,
		NormalizedName:      g.key,
		Status:              model.DiscoveryStatusDiscovered,
		Occurrences:         g.items,
		DistinctAuthors:     len(g.authors),
		EstimatedReach:      reach,
		SizeScore:           sizeScore,
		SustainabilityScore: int(math.Round(sustainability)),
		GrowthScore:         int(math.Round(growth)),
		OverallScore:        int(math.Round(m.overall(size, sustainability, growth))),
		Confidence:          Confidence(g.items, len(g.authors)),
		SuggestedTier:       TierForSize(sizeScore),
		Platforms:           sortedPlatforms(g.platforms),
		SampleExternalIDs:   g.samples,
		FirstSeenAt:         g.firstSeen,
		LastSeenAt:          g.lastSeen,
	}
}

func (m *Miner) overall(size, sustainability, growth float64) float64 {
	ws, wu, wg := m.cfg.SizeWeight, m.cfg.SustainabilityWeight, m.cfg.GrowthWeight
	total := ws + wu + wg
	if total <= 0 {
		ws, wu, wg, total = 1, 1, 1, 3
	}
	return (ws*size + wu*sustainability + wg*growth) / total
}

// Confidence は出現数と独立した投稿者数から信頼度を返す。上限は100。
func Confidence(occurrences, authors int) int {
	return min(100, occurrences*2+authors*5)
}

// TierForSize はsizeスコアから推奨ティアを返す。境界値は上位側に含める
// （33はtrending、67はexisting）。
func TierForSize(size int) model.Tier {
	switch {
	case size < 33:
		return model.TierEmerging
	case size < 67:
		return model.TierTrending
	default:
		return model.TierExisting
	}
}

func sortedPlatforms(set map[model.Platform]bool) []model.Platform {
	out := make([]model.Platform, 0, len(set))
	for _, p := range model.Platforms {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}
