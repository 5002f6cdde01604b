package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// DiscoveryServiceInterface は候補ハンドラーが必要とするサービスインターフェース。
type DiscoveryServiceInterface interface {
	List(ctx context.Context, status model.DiscoveryStatus) ([]*model.FandomDiscovery, error)
	MineRecent(ctx context.Context) ([]model.FandomDiscovery, error)
	Dismiss(ctx context.Context, id string) (*model.FandomDiscovery, error)
	Clear(ctx context.Context, id string) (*model.FandomDiscovery, error)
	Track(ctx context.Context, id string) (*model.Fandom, error)
}

// DiscoveryHandler はファンダム候補のHTTPハンドラー。
type DiscoveryHandler struct {
	service DiscoveryServiceInterface
}

// NewDiscoveryHandler はDiscoveryHandlerを生成する。
func NewDiscoveryHandler(service DiscoveryServiceInterface) *DiscoveryHandler {
	return &DiscoveryHandler{service: service}
}

// fandomResponse は候補から登録されたファンダムのAPIレスポンス。
type fandomResponse struct {
	ID              string    `json:"id"`
	Slug            string    `json:"slug"`
	Name            string    `json:"name"`
	Tier            string    `json:"tier"`
	DemographicTags []string  `json:"demographic_tags"`
	CreatedAt       time.Time `json:"created_at"`
}

func toFandomResponse(f *model.Fandom) fandomResponse {
	tags := make([]string, len(f.DemographicTags))
	for i, t := range f.DemographicTags {
		tags[i] = string(t)
	}
	return fandomResponse{
		ID:              f.ID,
		Slug:            f.Slug,
		Name:            f.Name,
		Tier:            string(f.Tier),
		DemographicTags: tags,
		CreatedAt:       f.CreatedAt,
	}
}

// ListDiscoveries は候補一覧を返す。statusを省略した場合は全件。
// GET /api/discoveries?status=
func (h *DiscoveryHandler) ListDiscoveries(w http.ResponseWriter, r *http.Request) {
	status := model.DiscoveryStatus(r.URL.Query().Get("status"))

	list, err := h.service.List(r.Context(), status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// MineDiscoveries は直近のコンテンツに対してマイナーを実行し、検出・更新された候補を返す。
// POST /api/discoveries/mine
func (h *DiscoveryHandler) MineDiscoveries(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.MineRecent(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if found == nil {
		found = []model.FandomDiscovery{}
	}

	writeJSON(w, http.StatusOK, found)
}

// DismissDiscovery は候補を却下する。
// POST /api/discoveries/{id}/dismiss
func (h *DiscoveryHandler) DismissDiscovery(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dismiss(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ClearDiscovery は候補を対象外として確定する。
// POST /api/discoveries/{id}/clear
func (h *DiscoveryHandler) ClearDiscovery(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Clear(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// TrackDiscovery は候補をファンダムとして登録する。
// POST /api/discoveries/{id}/track
func (h *DiscoveryHandler) TrackDiscovery(w http.ResponseWriter, r *http.Request) {
	f, err := h.service.Track(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFandomResponse(f))
}
