// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// FandomRepository は追跡中ファンダムとプラットフォーム紐付けの永続化インターフェース。
type FandomRepository interface {
	// FindByID は指定IDのファンダムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Fandom, error)

	// ListActive は引退していないファンダムを作成日時の昇順で返す。
	ListActive(ctx context.Context) ([]*model.Fandom, error)

	// Create はファンダムを作成する。
	Create(ctx context.Context, fandom *model.Fandom) error

	// ListPlatforms はファンダムのプラットフォーム紐付けを返す。
	ListPlatforms(ctx context.Context, fandomID string) ([]*model.FandomPlatform, error)

	// FindPlatform は(fandomID, platform)の紐付けを取得する。見つからない場合はnilを返す。
	FindPlatform(ctx context.Context, fandomID string, platform model.Platform) (*model.FandomPlatform, error)

	// UpsertPlatform は(fandomID, platform)で紐付けをUPSERTする。
	UpsertPlatform(ctx context.Context, fp *model.FandomPlatform) error
}

// ContentRepository はコンテンツの永続化インターフェース。
type ContentRepository interface {
	// Upsert は(platform, external_id)でコンテンツをUPSERTする。
	// 衝突時はエンゲージメント指標とscraped_atを上書きし、
	// 新しいレコードにpublished_atが無ければ既存の値を保持する。
	// 新規挿入だった場合はtrueを返す。
	Upsert(ctx context.Context, item *model.ContentItem) (bool, error)

	// ListSince はscraped_atが指定日時以降のコンテンツを返す。マイナーの入力に使う。
	ListSince(ctx context.Context, since time.Time) ([]*model.ContentItem, error)

	// ListSinceTagged はscraped_atが指定日時以降で、ハッシュタグかメンションの
	// 正規化名（model.NormalizeTag）がkeysのいずれかに一致するコンテンツを返す。
	ListSinceTagged(ctx context.Context, since time.Time, keys []string) ([]*model.ContentItem, error)

	// DeleteScrapedBefore は指定日時より前に取得されたコンテンツを削除し、削除件数を返す。
	DeleteScrapedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotRepository は日次メトリクススナップショットの永続化インターフェース。
type SnapshotRepository interface {
	// Replace は(fandom_id, platform, snapshot_date)でスナップショットを置き換える。
	Replace(ctx context.Context, snapshot *model.MetricSnapshot) error

	// GetLatestBefore は指定日より前の最新スナップショットを返す。無ければnilを返す。
	GetLatestBefore(ctx context.Context, fandomID string, platform model.Platform, date time.Time) (*model.MetricSnapshot, error)

	// ListSince は指定日以降の全ファンダムのスナップショットを日付昇順で返す。
	ListSince(ctx context.Context, since time.Time) ([]*model.MetricSnapshot, error)
}

// InfluencerRepository はインフルエンサーの永続化インターフェース。
type InfluencerRepository interface {
	// Upsert は(fandom_id, platform, username)でUPSERTする。後勝ち。
	Upsert(ctx context.Context, influencer *model.Influencer) error

	// ListByFandom はファンダムのインフルエンサーをrelevance_score降順で返す。
	ListByFandom(ctx context.Context, fandomID string) ([]*model.Influencer, error)
}

// DiscoveryRepository はファンダム候補の永続化インターフェース。
type DiscoveryRepository interface {
	// FindByID は指定IDの候補を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.FandomDiscovery, error)

	// FindByNormalizedName は正規化名で候補を取得する。見つからない場合はnilを返す。
	FindByNormalizedName(ctx context.Context, normalizedName string) (*model.FandomDiscovery, error)

	// Upsert は正規化名で候補をUPSERTする。
	// 既存がtracked/clearedの場合は何も変更せずfalseを返す。
	Upsert(ctx context.Context, d *model.FandomDiscovery) (bool, error)

	// List は候補をoverall_score降順で返す。statusが空の場合は全件を返す。
	List(ctx context.Context, status model.DiscoveryStatus) ([]*model.FandomDiscovery, error)

	// UpdateStatus はオペレーター操作による状態変更を行う。
	// 既存がtracked/clearedの場合はmodel.ErrDiscoveryFrozen、存在しない場合はmodel.ErrNotFoundを返す。
	UpdateStatus(ctx context.Context, id string, status model.DiscoveryStatus, dismissedOccurrences int) error
}

// ScrapeRunRepository はスクレイプ実行の監査レコードの永続化インターフェース。
type ScrapeRunRepository interface {
	// Create はpendingの実行を作成する。
	Create(ctx context.Context, run *model.ScrapeRun) error

	// FindByID は指定IDの実行を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ScrapeRun, error)

	// SetStatus は実行の状態を単調に進める。
	// 終端状態からの遷移や逆行はmodel.ErrRunTerminal、存在しない場合はmodel.ErrNotFoundを返す。
	SetStatus(ctx context.Context, id string, status model.ScrapeRunStatus, itemsCount int, errorMessage string) error

	// ClaimPending はpendingの実行を最大limit件、排他的に取得してrunningに遷移させる。
	ClaimPending(ctx context.Context, limit int) ([]*model.ScrapeRun, error)
}

// TrendRepository は地域別関心度の永続化インターフェース。
type TrendRepository interface {
	// Upsert は(fandom_id, keyword, trend_date, region_code)でUPSERTする。
	Upsert(ctx context.Context, trend *model.GoogleTrend) error

	// MaxInterest はキーワードの指定日以降の最大関心度を返す。記録が無い場合はfalseを返す。
	MaxInterest(ctx context.Context, keyword string, since time.Time) (float64, bool, error)
}
