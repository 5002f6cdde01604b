package trends

import (
	"context"
	"time"
)

// Step はプロトコル中の待機ポイントを表す。
type Step int

const (
	// StepAfterSession はセッション取得後、exploreリクエスト前の待機。
	StepAfterSession Step = iota
	// StepBeforeWidget はexploreリクエスト後、ウィジェット取得前の待機。
	StepBeforeWidget
	// StepBetweenKeywords はバッチ処理で2件目以降のキーワードの前に入る待機。
	StepBetweenKeywords
)

// DelayPolicy はレート制限回避のための待機方針。
// テストではゼロ待機の実装に差し替える。
type DelayPolicy interface {
	// Wait は指定ステップの待機を行う。ctxがキャンセルされた場合はctx.Err()を返す。
	Wait(ctx context.Context, step Step) error
}

// FixedDelays はステップごとに固定時間待機するDelayPolicy。
type FixedDelays struct {
	Session time.Duration
	Widget  time.Duration
	Keyword time.Duration
}

// DefaultDelays は上流のレート制限に合わせた既定の待機時間（1.5秒/2秒/10秒）を返す。
func DefaultDelays() FixedDelays {
	return FixedDelays{
		Session: 1500 * time.Millisecond,
		Widget:  2 * time.Second,
		Keyword: 10 * time.Second,
	}
}

// Wait は指定ステップの待機を行う。
func (d FixedDelays) Wait(ctx context.Context, step Step) error {
	var dur time.Duration
	switch step {
	case StepAfterSession:
		dur = d.Session
	case StepBeforeWidget:
		dur = d.Widget
	case StepBetweenKeywords:
		dur = d.Keyword
	}
	if dur <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoDelay は待機しないDelayPolicy。
type NoDelay struct{}

// Wait はctxがキャンセル済みの場合のみエラーを返す。
func (NoDelay) Wait(ctx context.Context, _ Step) error {
	return ctx.Err()
}
