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

// PostgresFandomRepo はPostgreSQLを使用したファンダムリポジトリ。
type PostgresFandomRepo struct {
	db *sql.DB
}

// NewPostgresFandomRepo はPostgresFandomRepoを生成する。
func NewPostgresFandomRepo(db *sql.DB) *PostgresFandomRepo {
	return &PostgresFandomRepo{db: db}
}

const fandomColumns = `id, slug, name, tier, demographic_tags, fandom_group, retired_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFandom(row rowScanner) (*model.Fandom, error) {
	f := &model.Fandom{}
	var tags []string
	var retiredAt sql.NullTime
	if err := row.Scan(
		&f.ID, &f.Slug, &f.Name, &f.Tier, pq.Array(&tags), &f.FandomGroup,
		&retiredAt, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, t := range tags {
		f.DemographicTags = append(f.DemographicTags, model.DemographicTag(t))
	}
	if retiredAt.Valid {
		f.RetiredAt = &retiredAt.Time
	}
	return f, nil
}

// FindByID は指定IDのファンダムを取得する。見つからない場合はnilを返す。
func (r *PostgresFandomRepo) FindByID(ctx context.Context, id string) (*model.Fandom, error) {
	f, err := scanFandom(r.db.QueryRowContext(ctx,
		`SELECT `+fandomColumns+` FROM fandoms WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ファンダムの取得に失敗しました: %w", err)
	}
	return f, nil
}

// ListActive は引退していないファンダムを作成日時の昇順で返す。
func (r *PostgresFandomRepo) ListActive(ctx context.Context) ([]*model.Fandom, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fandomColumns+` FROM fandoms
		 WHERE retired_at IS NULL
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ファンダム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var fandoms []*model.Fandom
	for rows.Next() {
		f, err := scanFandom(rows)
		if err != nil {
			return nil, fmt.Errorf("ファンダムの読み取りに失敗しました: %w", err)
		}
		fandoms = append(fandoms, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ファンダム一覧の走査に失敗しました: %w", err)
	}
	return fandoms, nil
}

// Create はファンダムを作成する。IDが空の場合は採番する。
func (r *PostgresFandomRepo) Create(ctx context.Context, f *model.Fandom) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now

	tags := make([]string, 0, len(f.DemographicTags))
	for _, t := range f.DemographicTags {
		tags = append(tags, string(t))
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO fandoms (id, slug, name, tier, demographic_tags, fandom_group, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.Slug, f.Name, f.Tier, pq.Array(tags), f.FandomGroup, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ファンダムの作成に失敗しました: %w", err)
	}
	return nil
}

// ListPlatforms はファンダムのプラットフォーム紐付けを返す。
func (r *PostgresFandomRepo) ListPlatforms(ctx context.Context, fandomID string) ([]*model.FandomPlatform, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fandom_id, platform, handle, followers, created_at, updated_at
		 FROM fandom_platforms WHERE fandom_id = $1
		 ORDER BY platform ASC`,
		fandomID,
	)
	if err != nil {
		return nil, fmt.Errorf("プラットフォーム紐付けの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var platforms []*model.FandomPlatform
	for rows.Next() {
		fp := &model.FandomPlatform{}
		if err := rows.Scan(&fp.ID, &fp.FandomID, &fp.Platform, &fp.Handle, &fp.Followers, &fp.CreatedAt, &fp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("プラットフォーム紐付けの読み取りに失敗しました: %w", err)
		}
		platforms = append(platforms, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プラットフォーム紐付けの走査に失敗しました: %w", err)
	}
	return platforms, nil
}

// FindPlatform は(fandomID, platform)の紐付けを取得する。見つからない場合はnilを返す。
func (r *PostgresFandomRepo) FindPlatform(ctx context.Context, fandomID string, platform model.Platform) (*model.FandomPlatform, error) {
	fp := &model.FandomPlatform{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, fandom_id, platform, handle, followers, created_at, updated_at
		 FROM fandom_platforms WHERE fandom_id = $1 AND platform = $2`,
		fandomID, platform,
	).Scan(&fp.ID, &fp.FandomID, &fp.Platform, &fp.Handle, &fp.Followers, &fp.CreatedAt, &fp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プラットフォーム紐付けの取得に失敗しました: %w", err)
	}
	return fp, nil
}

// UpsertPlatform は(fandom_id, platform)で紐付けをUPSERTする。
// handleが空の場合は既存のhandleを保持する。
func (r *PostgresFandomRepo) UpsertPlatform(ctx context.Context, fp *model.FandomPlatform) error {
	if fp.ID == "" {
		fp.ID = uuid.NewString()
	}
	now := time.Now()

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO fandom_platforms (id, fandom_id, platform, handle, followers, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (fandom_id, platform) DO UPDATE SET
		     handle = COALESCE(NULLIF(EXCLUDED.handle, ''), fandom_platforms.handle),
		     followers = EXCLUDED.followers,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		fp.ID, fp.FandomID, fp.Platform, fp.Handle, fp.Followers, now,
	).Scan(&fp.ID, &fp.CreatedAt, &fp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("プラットフォーム紐付けのUPSERTに失敗しました: %w", err)
	}
	return nil
}

// nullTime はnilの場合にNULLとなるsql.NullTimeを返す。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// コンパイル時にインターフェースの実装を検証する。
var _ FandomRepository = (*PostgresFandomRepo)(nil)
