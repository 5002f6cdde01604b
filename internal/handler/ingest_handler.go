package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fandomwatch/internal/actor"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/scraper"
)

// IngestServiceInterface は取り込みハンドラーが必要とするサービスインターフェース。
type IngestServiceInterface interface {
	// Submit は要求を検証してpendingのScrapeRunを作成する。
	Submit(ctx context.Context, req model.IngestRequest) (*model.ScrapeRun, error)
}

// RunFinder はScrapeRunの参照に使うインターフェース。
type RunFinder interface {
	FindByID(ctx context.Context, id string) (*model.ScrapeRun, error)
}

// ScrapeStarter はスクレイプ提供元でアクターを起動するインターフェース。
type ScrapeStarter interface {
	StartRun(ctx context.Context, actorID string, input map[string]any) (*scraper.Run, error)
}

// IngestHandler は取り込み要求・スクレイプ開始・実行状態のHTTPハンドラー。
type IngestHandler struct {
	service IngestServiceInterface
	runs    RunFinder
	starter ScrapeStarter
}

// NewIngestHandler はIngestHandlerを生成する。
func NewIngestHandler(service IngestServiceInterface, runs RunFinder, starter ScrapeStarter) *IngestHandler {
	return &IngestHandler{service: service, runs: runs, starter: starter}
}

// runResponse はScrapeRunのAPIレスポンス。
type runResponse struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	ItemsCount   int                 `json:"items_count"`
	ErrorMessage string              `json:"error_message,omitempty"`
	Request      model.IngestRequest `json:"request"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

func toRunResponse(run *model.ScrapeRun) runResponse {
	status := run.Status
	if status == "" {
		status = model.ScrapeRunPending
	}
	return runResponse{
		ID:           run.ID,
		Status:       string(status),
		ItemsCount:   run.ItemsCount,
		ErrorMessage: run.ErrorMessage,
		Request:      run.Request,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		CreatedAt:    run.CreatedAt,
	}
}

// SubmitIngest は取り込み要求を受け付け、pendingのScrapeRunを返す。処理はワーカーが行う。
// POST /api/ingest
func (h *IngestHandler) SubmitIngest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	run, err := h.service.Submit(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, toRunResponse(run))
}

// GetRun は実行状態を返す。
// GET /api/runs/{id}
func (h *IngestHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	run, err := h.runs.FindByID(r.Context(), runID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if run == nil {
		handleServiceError(w, model.NewRunNotFoundError(runID))
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// startScrapeRequest はスクレイプ開始リクエストのボディ。
// platformを指定した場合はhandleが必須。keywordsのみの場合は地域別関心度アクターを起動する。
type startScrapeRequest struct {
	Platform  string   `json:"platform"`
	Handle    string   `json:"handle"`
	Limit     int      `json:"limit"`
	Keywords  []string `json:"keywords"`
	Geo       string   `json:"geo"`
	TimeRange string   `json:"time_range"`
}

// startScrapeResponse はスクレイプ開始のAPIレスポンス。
// run_idを後続の取り込み要求のsource_job_id、dataset_idをdataset_handleとして使う。
type startScrapeResponse struct {
	RunID     string `json:"run_id"`
	ActorID   string `json:"actor_id"`
	DatasetID string `json:"dataset_id"`
	Status    string `json:"status"`
}

// StartScrape はアクター定義から入力を組み立て、提供元でスクレイプ実行を開始する。
// POST /api/scrapes
func (h *IngestHandler) StartScrape(w http.ResponseWriter, r *http.Request) {
	var req startScrapeRequest
	if apiErr := decodeJSONBody(r, &req); apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	var (
		actorID string
		input   map[string]any
	)
	if strings.TrimSpace(req.Platform) == "" {
		keywords := nonEmpty(req.Keywords)
		if len(keywords) == 0 {
			handleServiceError(w, model.NewInvalidRequestError("platformまたはkeywordsを指定してください"))
			return
		}
		actorID = actor.TrendsActorID
		input = actor.TrendsInput(keywords, req.Geo, req.TimeRange)
	} else {
		platform, ok := model.ParsePlatform(req.Platform)
		if !ok {
			handleServiceError(w, model.NewUnknownPlatformError(req.Platform))
			return
		}
		if strings.TrimSpace(req.Handle) == "" {
			handleServiceError(w, model.NewInvalidRequestError("handleは必須です"))
			return
		}
		tmpl, err := actor.Lookup(platform)
		if err != nil {
			handleServiceError(w, model.NewUnknownPlatformError(req.Platform))
			return
		}
		actorID = tmpl.ActorID
		input = tmpl.BuildInput(req.Handle, req.Limit)
	}

	run, err := h.starter.StartRun(r.Context(), actorID, input)
	if err != nil {
		handleServiceError(w, model.NewScraperUnavailableError(err.Error()))
		return
	}

	writeJSON(w, http.StatusCreated, startScrapeResponse{
		RunID:     run.ID,
		ActorID:   actorID,
		DatasetID: run.DatasetID,
		Status:    run.Status,
	})
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
