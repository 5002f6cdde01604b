package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// PostgresInfluencerRepo はPostgreSQLを使用したインフルエンサーリポジトリ。
type PostgresInfluencerRepo struct {
	db *sql.DB
}

// NewPostgresInfluencerRepo はPostgresInfluencerRepoを生成する。
func NewPostgresInfluencerRepo(db *sql.DB) *PostgresInfluencerRepo {
	return &PostgresInfluencerRepo{db: db}
}

// Upsert は(fandom_id, platform, username)でUPSERTする。後勝ち。
func (r *PostgresInfluencerRepo) Upsert(ctx context.Context, inf *model.Influencer) error {
	if inf.ID == "" {
		inf.ID = uuid.NewString()
	}
	now := time.Now()

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO influencers (
		     id, fandom_id, platform, username, followers, posts_count,
		     engagement_rate, relevance_score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 ON CONFLICT (fandom_id, platform, username) DO UPDATE SET
		     followers = EXCLUDED.followers,
		     posts_count = EXCLUDED.posts_count,
		     engagement_rate = EXCLUDED.engagement_rate,
		     relevance_score = EXCLUDED.relevance_score,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		inf.ID, inf.FandomID, inf.Platform, inf.Username, inf.Followers, inf.PostsCount,
		inf.EngagementRate, inf.RelevanceScore, now,
	).Scan(&inf.ID, &inf.CreatedAt, &inf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("インフルエンサーのUPSERTに失敗しました: %w", err)
	}
	return nil
}

// ListByFandom はファンダムのインフルエンサーをrelevance_score降順で返す。
func (r *PostgresInfluencerRepo) ListByFandom(ctx context.Context, fandomID string) ([]*model.Influencer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fandom_id, platform, username, followers, posts_count,
		        engagement_rate, relevance_score, created_at, updated_at
		 FROM influencers WHERE fandom_id = $1
		 ORDER BY relevance_score DESC, username ASC`,
		fandomID,
	)
	if err != nil {
		return nil, fmt.Errorf("インフルエンサー一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []*model.Influencer
	for rows.Next() {
		inf := &model.Influencer{}
		if err := rows.Scan(
			&inf.ID, &inf.FandomID, &inf.Platform, &inf.Username, &inf.Followers, &inf.PostsCount,
			&inf.EngagementRate, &inf.RelevanceScore, &inf.CreatedAt, &inf.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("インフルエンサーの読み取りに失敗しました: %w", err)
		}
		result = append(result, inf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("インフルエンサー一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// コンパイル時にインターフェースの実装を検証する。
var _ InfluencerRepository = (*PostgresInfluencerRepo)(nil)
