package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// PostgresScrapeRunRepo はPostgreSQLを使用したスクレイプ実行リポジトリ。
type PostgresScrapeRunRepo struct {
	db *sql.DB
}

// NewPostgresScrapeRunRepo はPostgresScrapeRunRepoを生成する。
func NewPostgresScrapeRunRepo(db *sql.DB) *PostgresScrapeRunRepo {
	return &PostgresScrapeRunRepo{db: db}
}

const scrapeRunColumns = `id, request, status, items_count, error_message, started_at, finished_at, created_at, updated_at`

func scanScrapeRun(row rowScanner) (*model.ScrapeRun, error) {
	run := &model.ScrapeRun{}
	var request []byte
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&run.ID, &request, &run.Status, &run.ItemsCount, &run.ErrorMessage,
		&startedAt, &finishedAt, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &run.Request); err != nil {
		return nil, fmt.Errorf("取り込み要求の復元に失敗しました: %w", err)
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

// Create はpendingの実行を作成する。
func (r *PostgresScrapeRunRepo) Create(ctx context.Context, run *model.ScrapeRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = model.ScrapeRunPending
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now

	request, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("取り込み要求のシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, request, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		run.ID, request, run.Status, now,
	)
	if err != nil {
		return fmt.Errorf("スクレイプ実行の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの実行を取得する。見つからない場合はnilを返す。
func (r *PostgresScrapeRunRepo) FindByID(ctx context.Context, id string) (*model.ScrapeRun, error) {
	run, err := scanScrapeRun(r.db.QueryRowContext(ctx,
		`SELECT `+scrapeRunColumns+` FROM scrape_runs WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("スクレイプ実行の取得に失敗しました: %w", err)
	}
	return run, nil
}

// SetStatus は実行の状態を単調に進める。
// 遷移元として許可された状態の行だけを更新し、0件なら拒否として扱う。
func (r *PostgresScrapeRunRepo) SetStatus(ctx context.Context, id string, status model.ScrapeRunStatus, itemsCount int, errorMessage string) error {
	allowed := status.Predecessors()
	if len(allowed) == 0 {
		return fmt.Errorf("状態 %s への遷移はできません: %w", status, model.ErrRunTerminal)
	}
	from := make([]string, 0, len(allowed))
	for _, s := range allowed {
		from = append(from, string(s))
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE scrape_runs SET
		     status = $2,
		     items_count = $3,
		     error_message = $4,
		     started_at = CASE WHEN $2 = 'running' THEN now() ELSE COALESCE(started_at, now()) END,
		     finished_at = CASE WHEN $2 IN ('succeeded', 'failed') THEN now() ELSE finished_at END,
		     updated_at = now()
		 WHERE id = $1 AND status = ANY($5)`,
		id, status, itemsCount, errorMessage, pq.Array(from),
	)
	if err != nil {
		return fmt.Errorf("スクレイプ実行の状態更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n > 0 {
		return nil
	}

	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return model.ErrNotFound
	}
	return fmt.Errorf("%s から %s への遷移は拒否されました: %w", existing.Status, status, model.ErrRunTerminal)
}

// ClaimPending はpendingの実行を最大limit件、FOR UPDATE SKIP LOCKEDで排他的に取得し、
// 同一トランザクション内でrunningに遷移させる。
func (r *PostgresScrapeRunRepo) ClaimPending(ctx context.Context, limit int) ([]*model.ScrapeRun, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+scrapeRunColumns+` FROM scrape_runs
		 WHERE status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending実行の取得に失敗しました: %w", err)
	}

	var runs []*model.ScrapeRun
	for rows.Next() {
		run, err := scanScrapeRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("pending実行の読み取りに失敗しました: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("pending実行の走査に失敗しました: %w", err)
	}
	rows.Close()

	if len(runs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scrape_runs SET status = 'running', started_at = now(), updated_at = now()
		 WHERE id = ANY($1::uuid[])`,
		pq.Array(ids),
	); err != nil {
		return nil, fmt.Errorf("実行のrunning遷移に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	now := time.Now()
	for _, run := range runs {
		run.Status = model.ScrapeRunRunning
		run.StartedAt = &now
	}
	return runs, nil
}

// コンパイル時にインターフェースの実装を検証する。
var _ ScrapeRunRepository = (*PostgresScrapeRunRepo)(nil)
