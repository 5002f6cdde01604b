package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// PostgresDiscoveryRepo はPostgreSQLを使用したファンダム候補リポジトリ。
type PostgresDiscoveryRepo struct {
	db *sql.DB
}

// NewPostgresDiscoveryRepo はPostgresDiscoveryRepoを生成する。
func NewPostgresDiscoveryRepo(db *sql.DB) *PostgresDiscoveryRepo {
	return &PostgresDiscoveryRepo{db: db}
}

const discoveryColumns = `id, name, normalized_name, status, occurrences, distinct_authors, estimated_reach,
	size_score, sustainability_score, growth_score, overall_score, confidence, suggested_tier,
	platforms, sample_external_ids, dismissed_occurrences, first_seen_at, last_seen_at,
	created_at, updated_at`

func scanDiscovery(row rowScanner) (*model.FandomDiscovery, error) {
	d := &model.FandomDiscovery{}
	var platforms []string
	if err := row.Scan(
		&d.ID, &d.Name, &d.NormalizedName, &d.Status, &d.Occurrences, &d.DistinctAuthors, &d.EstimatedReach,
		&d.SizeScore, &d.SustainabilityScore, &d.GrowthScore, &d.OverallScore, &d.Confidence, &d.SuggestedTier,
		pq.Array(&platforms), pq.Array(&d.SampleExternalIDs), &d.DismissedOccurrences,
		&d.FirstSeenAt, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, p := range platforms {
		d.Platforms = append(d.Platforms, model.Platform(p))
	}
	return d, nil
}

// FindByID は指定IDの候補を取得する。見つからない場合はnilを返す。
func (r *PostgresDiscoveryRepo) FindByID(ctx context.Context, id string) (*model.FandomDiscovery, error) {
	d, err := scanDiscovery(r.db.QueryRowContext(ctx,
		`SELECT `+discoveryColumns+` FROM fandom_discoveries WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("候補の取得に失敗しました: %w", err)
	}
	return d, nil
}

// FindByNormalizedName は正規化名で候補を取得する。見つからない場合はnilを返す。
func (r *PostgresDiscoveryRepo) FindByNormalizedName(ctx context.Context, normalizedName string) (*model.FandomDiscovery, error) {
	d, err := scanDiscovery(r.db.QueryRowContext(ctx,
		`SELECT `+discoveryColumns+` FROM fandom_discoveries WHERE normalized_name = $1`, normalizedName,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("候補の取得に失敗しました: %w", err)
	}
	return d, nil
}

// Upsert は正規化名で候補をUPSERTする。
// 既存がtracked/clearedの行はWHERE句で更新対象から外れ、RETURNINGが空になる。
func (r *PostgresDiscoveryRepo) Upsert(ctx context.Context, d *model.FandomDiscovery) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now()

	platforms := make([]string, 0, len(d.Platforms))
	for _, p := range d.Platforms {
		platforms = append(platforms, string(p))
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO fandom_discoveries (
		     id, name, normalized_name, status, occurrences, distinct_authors, estimated_reach,
		     size_score, sustainability_score, growth_score, overall_score, confidence, suggested_tier,
		     platforms, sample_external_ids, dismissed_occurrences, first_seen_at, last_seen_at,
		     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
		 ON CONFLICT (normalized_name) DO UPDATE SET
		     name = EXCLUDED.name,
		     status = EXCLUDED.status,
		     occurrences = EXCLUDED.occurrences,
		     distinct_authors = EXCLUDED.distinct_authors,
		     estimated_reach = EXCLUDED.estimated_reach,
		     size_score = EXCLUDED.size_score,
		     sustainability_score = EXCLUDED.sustainability_score,
		     growth_score = EXCLUDED.growth_score,
		     overall_score = EXCLUDED.overall_score,
		     confidence = EXCLUDED.confidence,
		     suggested_tier = EXCLUDED.suggested_tier,
		     platforms = EXCLUDED.platforms,
		     sample_external_ids = EXCLUDED.sample_external_ids,
		     dismissed_occurrences = EXCLUDED.dismissed_occurrences,
		     first_seen_at = LEAST(fandom_discoveries.first_seen_at, EXCLUDED.first_seen_at),
		     last_seen_at = GREATEST(fandom_discoveries.last_seen_at, EXCLUDED.last_seen_at),
		     updated_at = EXCLUDED.updated_at
		 WHERE fandom_discoveries.status NOT IN ('tracked', 'cleared')
		 RETURNING id, first_seen_at, last_seen_at, created_at, updated_at`,
		d.ID, d.Name, d.NormalizedName, d.Status, d.Occurrences, d.DistinctAuthors, d.EstimatedReach,
		d.SizeScore, d.SustainabilityScore, d.GrowthScore, d.OverallScore, d.Confidence, d.SuggestedTier,
		pq.Array(platforms), pq.Array(d.SampleExternalIDs), d.DismissedOccurrences,
		d.FirstSeenAt, d.LastSeenAt, now,
	).Scan(&d.ID, &d.FirstSeenAt, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("候補のUPSERTに失敗しました: %w", err)
	}
	return true, nil
}

// List は候補をoverall_score降順で返す。statusが空の場合は全件を返す。
func (r *PostgresDiscoveryRepo) List(ctx context.Context, status model.DiscoveryStatus) ([]*model.FandomDiscovery, error) {
	query := `SELECT ` + discoveryColumns + ` FROM fandom_discoveries`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY overall_score DESC, normalized_name ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("候補一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []*model.FandomDiscovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("候補の読み取りに失敗しました: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("候補一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// UpdateStatus はオペレーター操作による状態変更を行う。
func (r *PostgresDiscoveryRepo) UpdateStatus(ctx context.Context, id string, status model.DiscoveryStatus, dismissedOccurrences int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE fandom_discoveries
		 SET status = $2, dismissed_occurrences = $3, updated_at = now()
		 WHERE id = $1 AND status NOT IN ('tracked', 'cleared')`,
		id, status, dismissedOccurrences,
	)
	if err != nil {
		return fmt.Errorf("候補の状態更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if n > 0 {
		return nil
	}

	// 0件の場合は存在しないのか終端状態なのかを判別する
	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return model.ErrNotFound
	}
	return model.ErrDiscoveryFrozen
}

// コンパイル時にインターフェースの実装を検証する。
var _ DiscoveryRepository = (*PostgresDiscoveryRepo)(nil)
