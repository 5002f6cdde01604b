package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// RegionalInterestFetcher は1キーワードの地域別関心度を取得するインターフェース。
// 失敗は戻り値のErrorフィールドで表す。
type RegionalInterestFetcher interface {
	FetchRegionalInterest(ctx context.Context, keyword, geo, timeRange string) model.RegionalInterest
}

// TrendsHandler は地域別関心度のHTTPハンドラー。
type TrendsHandler struct {
	fetcher RegionalInterestFetcher
}

// NewTrendsHandler はTrendsHandlerを生成する。
func NewTrendsHandler(fetcher RegionalInterestFetcher) *TrendsHandler {
	return &TrendsHandler{fetcher: fetcher}
}

// GetRegionalInterest は1キーワードの地域別関心度を返す。
// 取得に失敗した場合も200で、regionsが空・errorに原因が入った結果を返す。
// GET /api/regional-interest?keyword=&geo=&time=
func (h *TrendsHandler) GetRegionalInterest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := strings.TrimSpace(q.Get("keyword"))
	if keyword == "" {
		handleServiceError(w, model.NewInvalidRequestError("keywordは必須です"))
		return
	}

	result := h.fetcher.FetchRegionalInterest(r.Context(), keyword, strings.TrimSpace(q.Get("geo")), strings.TrimSpace(q.Get("time")))
	if result.Regions == nil {
		result.Regions = []model.RegionInterest{}
	}
	writeJSON(w, http.StatusOK, result)
}
