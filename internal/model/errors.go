package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, ingest, discovery, system
	Action   string // オペレーター向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeRunNotFound        = "RUN_NOT_FOUND"
	ErrCodeDiscoveryNotFound  = "DISCOVERY_NOT_FOUND"
	ErrCodeDiscoveryFrozen    = "DISCOVERY_FROZEN"
	ErrCodeInvalidSegment     = "INVALID_SEGMENT"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeUnknownPlatform    = "UNKNOWN_PLATFORM"
	ErrCodeScraperUnavailable = "SCRAPER_UNAVAILABLE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// 層をまたいで判定に使う番兵エラー。
var (
	// ErrNotFound は対象エンティティが存在しないことを表す。
	ErrNotFound = errors.New("not found")
	// ErrRunTerminal は終端状態のScrapeRunへの書き込みが拒否されたことを表す。
	ErrRunTerminal = errors.New("scrape run is already terminal")
	// ErrDiscoveryFrozen はtracked/clearedの候補を変更しようとしたことを表す。
	ErrDiscoveryFrozen = errors.New("discovery is frozen")
)

// TransientNetworkError はタイムアウトや外部エンドポイントの非200応答を表す。
// コア内部では再試行せず、呼び出し側（スケジューラ）に委ねる。
type TransientNetworkError struct {
	Op         string
	StatusCode int // HTTP応答を得られなかった場合は0
	Err        error
}

func (e *TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// MalformedInputError は想定外のレコード形状や解析不能な応答本文を表す。
type MalformedInputError struct {
	Op     string
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// PersistenceError はストアへの書き込み失敗を表す。取り込み呼び出し元まで伝播させる。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewInvalidRequestError はリクエスト検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を指定してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているデータセットのURLを指定してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewRunNotFoundError はスクレイプ実行未検出エラーを生成する。
func NewRunNotFoundError(runID string) *APIError {
	return &APIError{
		Code:     ErrCodeRunNotFound,
		Message:  fmt.Sprintf("指定された実行が見つかりません: %s", runID),
		Category: "ingest",
		Action:   "実行IDを確認してください。",
	}
}

// NewDiscoveryNotFoundError は候補未検出エラーを生成する。
func NewDiscoveryNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeDiscoveryNotFound,
		Message:  fmt.Sprintf("指定された候補が見つかりません: %s", id),
		Category: "discovery",
		Action:   "候補IDを確認してください。",
	}
}

// NewDiscoveryFrozenError は終端状態の候補への操作エラーを生成する。
func NewDiscoveryFrozenError(status DiscoveryStatus) *APIError {
	return &APIError{
		Code:     ErrCodeDiscoveryFrozen,
		Message:  fmt.Sprintf("この候補は既に確定しています（%s）。", status),
		Category: "discovery",
		Action:   "tracked または cleared の候補は変更できません。",
	}
}

// NewInvalidSegmentError は無効な区分エラーを生成する。
func NewInvalidSegmentError(segment string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSegment,
		Message:  fmt.Sprintf("無効な区分です: %s", segment),
		Category: "validation",
		Action:   "区分には postpaid、prepaid、all のいずれかを指定してください。",
	}
}

// NewInvalidStatusError は無効な候補状態エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効な状態です: %s", status),
		Category: "validation",
		Action:   "状態には discovered、dismissed、tracked、cleared のいずれかを指定してください。",
	}
}

// NewUnknownPlatformError は未対応プラットフォームエラーを生成する。
func NewUnknownPlatformError(platform string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownPlatform,
		Message:  fmt.Sprintf("未対応のプラットフォームです: %s", platform),
		Category: "validation",
		Action:   "tiktok、instagram、twitter、facebook、youtube のいずれかを指定してください。",
	}
}

// NewScraperUnavailableError はスクレイプ提供元の呼び出し失敗エラーを生成する。
func NewScraperUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeScraperUnavailable,
		Message:  fmt.Sprintf("スクレイプ実行を開始できませんでした: %s", reason),
		Category: "ingest",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   fmt.Sprintf("%d秒ほど待ってから再度お試しください。", retryAfterSec),
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに残し、メッセージには含めない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
