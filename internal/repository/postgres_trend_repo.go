package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// PostgresTrendRepo はPostgreSQLを使用した地域別関心度リポジトリ。
type PostgresTrendRepo struct {
	db *sql.DB
}

// NewPostgresTrendRepo はPostgresTrendRepoを生成する。
func NewPostgresTrendRepo(db *sql.DB) *PostgresTrendRepo {
	return &PostgresTrendRepo{db: db}
}

// Upsert は(fandom_id, keyword, trend_date, region_code)でUPSERTする。
// fandom_idが空の行はNULLとして保存し、一意インデックス側でCOALESCEして比較する。
func (r *PostgresTrendRepo) Upsert(ctx context.Context, t *model.GoogleTrend) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()

	var fandomID sql.NullString
	if t.FandomID != "" {
		fandomID = sql.NullString{String: t.FandomID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO google_trends (
		     id, fandom_id, keyword, trend_date, region_code, region_name, interest_value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (COALESCE(fandom_id, '00000000-0000-0000-0000-000000000000'::uuid), keyword, trend_date, region_code)
		 DO UPDATE SET
		     region_name = EXCLUDED.region_name,
		     interest_value = EXCLUDED.interest_value,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		t.ID, fandomID, t.Keyword, model.DateOf(t.Date), t.RegionCode, t.RegionName, t.InterestValue, now,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("地域別関心度のUPSERTに失敗しました: %w", err)
	}
	return nil
}

// MaxInterest はキーワードの指定日以降の最大関心度を返す。記録が無い場合はfalseを返す。
// キーワードは大文字小文字を区別せずに比較する。
func (r *PostgresTrendRepo) MaxInterest(ctx context.Context, keyword string, since time.Time) (float64, bool, error) {
	var max sql.NullFloat64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(interest_value) FROM google_trends
		 WHERE lower(keyword) = lower($1) AND trend_date >= $2`,
		keyword, model.DateOf(since),
	).Scan(&max)
	if err != nil {
		return 0, false, fmt.Errorf("最大関心度の取得に失敗しました: %w", err)
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Float64, true, nil
}

// コンパイル時にインターフェースの実装を検証する。
var _ TrendRepository = (*PostgresTrendRepo)(nil)
