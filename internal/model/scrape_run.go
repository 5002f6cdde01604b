package model

import "time"

// ScrapeRunStatus はスクレイプ実行（取り込み試行）の状態を表す。
type ScrapeRunStatus string

const (
	ScrapeRunPending   ScrapeRunStatus = "pending"
	ScrapeRunRunning   ScrapeRunStatus = "running"
	ScrapeRunSucceeded ScrapeRunStatus = "succeeded"
	ScrapeRunFailed    ScrapeRunStatus = "failed"
)

// Terminal は終端状態かどうかを返す。
func (s ScrapeRunStatus) Terminal() bool {
	return s == ScrapeRunSucceeded || s == ScrapeRunFailed
}

// CanTransitionTo は状態遷移が単調（pending→running→succeeded|failed）かを返す。
// pendingから直接終端へ進むこと（取り込み前の検証失敗など）は許可する。
// 終端からの遷移は一切許可しない。
func (s ScrapeRunStatus) CanTransitionTo(next ScrapeRunStatus) bool {
	switch s {
	case ScrapeRunPending:
		return next == ScrapeRunRunning || next.Terminal()
	case ScrapeRunRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Predecessors は指定状態へ遷移可能な直前の状態一覧を返す。
func (s ScrapeRunStatus) Predecessors() []ScrapeRunStatus {
	switch s {
	case ScrapeRunRunning:
		return []ScrapeRunStatus{ScrapeRunPending}
	case ScrapeRunSucceeded, ScrapeRunFailed:
		return []ScrapeRunStatus{ScrapeRunPending, ScrapeRunRunning}
	default:
		return nil
	}
}

// ScrapeRun は1回の取り込み試行の監査レコード。
type ScrapeRun struct {
	ID           string
	Request      IngestRequest
	Status       ScrapeRunStatus
	ItemsCount   int
	ErrorMessage string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IngestRequest は取り込み要求を表す。
// FandomID/Platformはトレンド系ソース以外では必須。
type IngestRequest struct {
	DatasetHandle string   `json:"dataset_handle"`
	FandomID      string   `json:"fandom_id,omitempty"`
	Platform      Platform `json:"platform,omitempty"`
	SourceJobID   string   `json:"source_job_id"`
	Keywords      []string `json:"keywords,omitempty"` // トレンド系ソースのみ
	Geo           string   `json:"geo,omitempty"`
	TimeRange     string   `json:"time_range,omitempty"`
}

// IngestResult は1回の取り込み結果を表す。Discoveriesは空でもnilにしない。
type IngestResult struct {
	Success         bool              `json:"success"`
	ItemsCount      int               `json:"items_count"`
	NewItems        int               `json:"new_items"`
	InfluencerCount int               `json:"influencer_count"`
	Discoveries     []FandomDiscovery `json:"discoveries"`
	Message         string            `json:"message,omitempty"`
	// Retryable は失敗が一時的なネットワーク障害によるもので、再実行の余地があることを表す。
	Retryable bool `json:"-"`
}
