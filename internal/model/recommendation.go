package model

// MarketSegment はマーケティング上のオーディエンス区分を表す。
type MarketSegment string

const (
	SegmentPostpaid MarketSegment = "postpaid"
	SegmentPrepaid  MarketSegment = "prepaid"
	SegmentAll      MarketSegment = "all"
)

// Valid は定義済みの区分かどうかを返す。
func (s MarketSegment) Valid() bool {
	return s == SegmentPostpaid || s == SegmentPrepaid || s == SegmentAll
}

// TargetTags は区分が狙う属性タグを返す。
func (s MarketSegment) TargetTags() []DemographicTag {
	switch s {
	case SegmentPostpaid:
		return []DemographicTag{TagGenY, TagABC}
	case SegmentPrepaid:
		return []DemographicTag{TagGenZ, TagCDE}
	default:
		return []DemographicTag{TagGenY, TagGenZ, TagABC, TagCDE}
	}
}

// Expand は推薦計算の対象となる具体的な区分を返す。allはpostpaidとprepaidに展開する。
func (s MarketSegment) Expand() []MarketSegment {
	if s == SegmentAll {
		return []MarketSegment{SegmentPostpaid, SegmentPrepaid}
	}
	return []MarketSegment{s}
}

// ScoreDriver は推薦スコアの主要因を表す。
type ScoreDriver string

const (
	DriverGrowth      ScoreDriver = "growth"
	DriverEngagement  ScoreDriver = "engagement"
	DriverDemographic ScoreDriver = "demographic_fit"
)

// Recommendation は(Fandom, MarketSegment)に対するキャンペーン推薦。永続化しない。
type Recommendation struct {
	FandomID          string        `json:"fandom_id"`
	FandomName        string        `json:"fandom_name"`
	Tier              Tier          `json:"tier"`
	Segment           MarketSegment `json:"segment"`
	Score             float64       `json:"score"`
	GrowthScore       float64       `json:"growth_score"`
	EngagementScore   float64       `json:"engagement_score"`
	DemographicScore  float64       `json:"demographic_score"`
	Driver            ScoreDriver   `json:"driver"`
	SuggestedPlatform Platform      `json:"suggested_platform"`
	SuggestedAction   string        `json:"suggested_action"`
	Rationale         string        `json:"rationale"`
	EstimatedReach    int64         `json:"estimated_reach"`
}
