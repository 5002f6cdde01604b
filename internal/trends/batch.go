package trends

import (
	"context"
	"log/slog"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// FetchRegionalInterestBatch は複数キーワードの地域別関心度を順に取得する。
// 上流のレート制限を避けるため並列化は行わず、2件目以降の各キーワードの前に待機を入れる。
// バッチ全体で上流アクセスを専有し、直前の取得からCooldown以内なら1件目の前にも待機する。
// 1件の失敗はバッチを中断せず、結果は入力と同じ順序・同じ件数で返る。
// ctxがキャンセルされた場合、未処理のキーワードはエラー付きの結果になる。
func (c *Client) FetchRegionalInterestBatch(ctx context.Context, keywords []string, geo, timeRange string) []model.RegionalInterest {
	geo, timeRange = withDefaults(geo, timeRange)

	results := make([]model.RegionalInterest, 0, len(keywords))
	release, err := c.acquire(ctx)
	if err != nil {
		for _, kw := range keywords {
			results = append(results, failedResult(kw, geo, timeRange, err))
		}
		return results
	}
	defer release()

	var failed int
	for i, kw := range keywords {
		wait := c.waitCooldown
		if i > 0 {
			wait = func(ctx context.Context) error { return c.delays.Wait(ctx, StepBetweenKeywords) }
		}
		if err := wait(ctx); err != nil {
			results = append(results, failedResult(kw, geo, timeRange, err))
			failed++
			continue
		}

		r := c.fetchKeyword(ctx, kw, geo, timeRange)
		if r.Failed() {
			failed++
		}
		results = append(results, r)
	}

	c.logger.Info("地域別関心度のバッチ取得が完了しました",
		slog.Int("keyword_count", len(keywords)),
		slog.Int("failed_count", failed),
	)
	return results
}
