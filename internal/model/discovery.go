package model

import "time"

// DiscoveryStatus はファンダム候補の状態を表す。
type DiscoveryStatus string

const (
	// DiscoveryStatusDiscovered はマイナーが検出した未処理の候補。
	DiscoveryStatusDiscovered DiscoveryStatus = "discovered"
	// DiscoveryStatusDismissed はオペレーターが却下した候補。出現数が増えれば再浮上する。
	DiscoveryStatusDismissed DiscoveryStatus = "dismissed"
	// DiscoveryStatusTracked はファンダムとして登録済みの候補（終端）。
	DiscoveryStatusTracked DiscoveryStatus = "tracked"
	// DiscoveryStatusCleared は対象外として確定した候補（終端）。
	DiscoveryStatusCleared DiscoveryStatus = "cleared"
)

// Valid は定義済みの状態かどうかを返す。
func (s DiscoveryStatus) Valid() bool {
	switch s {
	case DiscoveryStatusDiscovered, DiscoveryStatusDismissed, DiscoveryStatusTracked, DiscoveryStatusCleared:
		return true
	}
	return false
}

// Frozen はマイナーによる更新を受け付けない終端状態かどうかを返す。
func (s DiscoveryStatus) Frozen() bool {
	return s == DiscoveryStatusTracked || s == DiscoveryStatusCleared
}

// FandomDiscovery は未追跡のファンダム候補を表す。NormalizedNameで一意。
type FandomDiscovery struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	NormalizedName       string          `json:"normalized_name"`
	Status               DiscoveryStatus `json:"status"`
	Occurrences          int             `json:"occurrences"`
	DistinctAuthors      int             `json:"distinct_authors"`
	EstimatedReach       int64           `json:"estimated_reach"`
	SizeScore            int             `json:"size_score"`
	SustainabilityScore  int             `json:"sustainability_score"`
	GrowthScore          int             `json:"growth_score"`
	OverallScore         int             `json:"overall_score"`
	Confidence           int             `json:"confidence"`
	SuggestedTier        Tier            `json:"suggested_tier"`
	Platforms            []Platform      `json:"platforms"`
	SampleExternalIDs    []string        `json:"sample_external_ids"`
	DismissedOccurrences int             `json:"dismissed_occurrences"` // 却下時点の出現数。再浮上判定の基準
	FirstSeenAt          time.Time       `json:"first_seen_at"`
	LastSeenAt           time.Time       `json:"last_seen_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
