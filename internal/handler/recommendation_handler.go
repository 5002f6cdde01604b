package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// Recommender は推薦エンジンのインターフェース。
type Recommender interface {
	Recommend(ctx context.Context, segment model.MarketSegment) ([]model.Recommendation, error)
}

// RecommendationHandler はキャンペーン推薦のHTTPハンドラー。
type RecommendationHandler struct {
	engine Recommender
	logger *slog.Logger
}

// NewRecommendationHandler はRecommendationHandlerを生成する。
func NewRecommendationHandler(engine Recommender, logger *slog.Logger) *RecommendationHandler {
	return &RecommendationHandler{engine: engine, logger: logger}
}

// ListRecommendations は区分に対する推薦をスコアの降順で返す。segment省略時はall。
// ストアの読み出しに失敗した場合はログに記録し、空の一覧を返す。
// GET /api/recommendations?segment=postpaid|prepaid|all
func (h *RecommendationHandler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	segment := model.MarketSegment(r.URL.Query().Get("segment"))
	if segment == "" {
		segment = model.SegmentAll
	}

	recs, err := h.engine.Recommend(r.Context(), segment)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			handleServiceError(w, apiErr)
			return
		}
		h.logger.Error("推薦の計算に失敗しました",
			slog.String("segment", string(segment)),
			slog.String("error", err.Error()),
		)
		recs = nil
	}
	if recs == nil {
		recs = []model.Recommendation{}
	}

	// 同点はエンジンの出力順（ファンダム作成順・区分展開順）を保つ
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})

	writeJSON(w, http.StatusOK, recs)
}
