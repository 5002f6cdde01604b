package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scoring はスコアリングの重みと閾値を保持する。
// 既定値はコード内で定義し、SCORING_CONFIG_PATHのYAMLで部分的に上書きできる。
type Scoring struct {
	Discovery      DiscoveryScoring      `yaml:"discovery"`
	Influencer     InfluencerScoring     `yaml:"influencer"`
	Recommendation RecommendationScoring `yaml:"recommendation"`
}

// DiscoveryScoring はファンダム候補マイナーの設定。
type DiscoveryScoring struct {
	MinOccurrences       int     `yaml:"min_occurrences"`
	SizeWeight           float64 `yaml:"size_weight"`
	SustainabilityWeight float64 `yaml:"sustainability_weight"`
	GrowthWeight         float64 `yaml:"growth_weight"`
	// ResurfaceFactor は却下時の出現数に対する倍率。これ以上に増えた候補はdiscoveredに戻る。
	ResurfaceFactor float64 `yaml:"resurface_factor"`
	// MinWindowDays はsustainability算出時の観測窓の最小日数。
	MinWindowDays int `yaml:"min_window_days"`
	// LookbackDays はマイナーが走査する直近コンテンツの日数。
	LookbackDays int `yaml:"lookback_days"`
	// StopTags は候補にしない汎用ハッシュタグ。
	StopTags []string `yaml:"stop_tags"`
}

// InfluencerScoring はインフルエンサーのrelevanceScore算出の設定。
type InfluencerScoring struct {
	EngagementWeight  float64 `yaml:"engagement_weight"`
	ReachWeight       float64 `yaml:"reach_weight"`
	EngagementCeiling float64 `yaml:"engagement_ceiling"` // この率で正規化値が1になる
	ReachCeiling      int64   `yaml:"reach_ceiling"`      // このフォロワー数で正規化値が1になる
}

// RecommendationScoring はレコメンドエンジンの設定。
type RecommendationScoring struct {
	GrowthWeight      float64 `yaml:"growth_weight"`
	EngagementWeight  float64 `yaml:"engagement_weight"`
	DemographicWeight float64 `yaml:"demographic_weight"`
	GrowthCeiling     float64 `yaml:"growth_ceiling"`
	DemographicFloor  float64 `yaml:"demographic_floor"`
	RecentDays        int     `yaml:"recent_days"`
}

// DefaultScoring は組み込みのスコアリング設定を返す。
func DefaultScoring() Scoring {
	return Scoring{
		Discovery: DiscoveryScoring{
			MinOccurrences:       5,
			SizeWeight:           1,
			SustainabilityWeight: 1,
			GrowthWeight:         1,
			ResurfaceFactor:      2.0,
			MinWindowDays:        7,
			LookbackDays:         30,
			StopTags: []string{
				"fyp", "foryou", "foryoupage", "fypage", "viral", "trending",
				"explore", "reels", "tiktok", "instagram", "youtube", "shorts",
				"love", "instagood", "follow", "like",
			},
		},
		Influencer: InfluencerScoring{
			EngagementWeight:  0.6,
			ReachWeight:       0.4,
			EngagementCeiling: 0.10,
			ReachCeiling:      10_000_000,
		},
		Recommendation: RecommendationScoring{
			GrowthWeight:      0.35,
			EngagementWeight:  0.35,
			DemographicWeight: 0.30,
			GrowthCeiling:     0.10,
			DemographicFloor:  20,
			RecentDays:        30,
		},
	}
}

// LoadScoring はYAMLファイルからスコアリング設定を読み込む。
// pathが空の場合は既定値を返す。ファイルに無い項目は既定値のまま残る。
func LoadScoring(path string) (Scoring, error) {
	s := DefaultScoring()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Scoring{}, fmt.Errorf("failed to read scoring config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scoring{}, fmt.Errorf("failed to parse scoring config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scoring{}, err
	}
	return s, nil
}

// Validate は重みと閾値が計算可能な範囲にあるかを検証する。
func (s Scoring) Validate() error {
	d := s.Discovery
	if d.MinOccurrences < 1 {
		return fmt.Errorf("invalid scoring config: discovery.min_occurrences must be >= 1")
	}
	if d.SizeWeight < 0 || d.SustainabilityWeight < 0 || d.GrowthWeight < 0 ||
		d.SizeWeight+d.SustainabilityWeight+d.GrowthWeight == 0 {
		return fmt.Errorf("invalid scoring config: discovery weights must be non-negative and not all zero")
	}
	if d.ResurfaceFactor < 1 {
		return fmt.Errorf("invalid scoring config: discovery.resurface_factor must be >= 1")
	}
	if d.MinWindowDays < 1 || d.LookbackDays < 1 {
		return fmt.Errorf("invalid scoring config: discovery.min_window_days and lookback_days must be >= 1")
	}
	i := s.Influencer
	if i.EngagementCeiling <= 0 || i.ReachCeiling <= 1 {
		return fmt.Errorf("invalid scoring config: influencer ceilings must be positive")
	}
	r := s.Recommendation
	if r.GrowthWeight < 0 || r.EngagementWeight < 0 || r.DemographicWeight < 0 ||
		r.GrowthWeight+r.EngagementWeight+r.DemographicWeight == 0 {
		return fmt.Errorf("invalid scoring config: recommendation weights must be non-negative and not all zero")
	}
	if r.GrowthCeiling <= 0 {
		return fmt.Errorf("invalid scoring config: recommendation.growth_ceiling must be positive")
	}
	if r.DemographicFloor < 0 || r.DemographicFloor > 100 {
		return fmt.Errorf("invalid scoring config: recommendation.demographic_floor must be within 0-100")
	}
	return nil
}
