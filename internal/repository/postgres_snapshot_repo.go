package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// PostgresSnapshotRepo はPostgreSQLを使用したメトリクススナップショットリポジトリ。
type PostgresSnapshotRepo struct {
	db *sql.DB
}

// NewPostgresSnapshotRepo はPostgresSnapshotRepoを生成する。
func NewPostgresSnapshotRepo(db *sql.DB) *PostgresSnapshotRepo {
	return &PostgresSnapshotRepo{db: db}
}

const snapshotColumns = `id, fandom_id, platform, snapshot_date, followers, posts_count, engagement_total,
	avg_likes, avg_comments, avg_shares, engagement_rate, growth_rate, created_at, updated_at`

func scanSnapshot(row rowScanner) (*model.MetricSnapshot, error) {
	s := &model.MetricSnapshot{}
	if err := row.Scan(
		&s.ID, &s.FandomID, &s.Platform, &s.Date, &s.Followers, &s.PostsCount, &s.EngagementTotal,
		&s.AvgLikes, &s.AvgComments, &s.AvgShares, &s.EngagementRate, &s.GrowthRate,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Date = model.DateOf(s.Date)
	return s, nil
}

// Replace は(fandom_id, platform, snapshot_date)でスナップショットを置き換える。
func (r *PostgresSnapshotRepo) Replace(ctx context.Context, s *model.MetricSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now()

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO metric_snapshots (
		     id, fandom_id, platform, snapshot_date, followers, posts_count, engagement_total,
		     avg_likes, avg_comments, avg_shares, engagement_rate, growth_rate, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		 ON CONFLICT (fandom_id, platform, snapshot_date) DO UPDATE SET
		     followers = EXCLUDED.followers,
		     posts_count = EXCLUDED.posts_count,
		     engagement_total = EXCLUDED.engagement_total,
		     avg_likes = EXCLUDED.avg_likes,
		     avg_comments = EXCLUDED.avg_comments,
		     avg_shares = EXCLUDED.avg_shares,
		     engagement_rate = EXCLUDED.engagement_rate,
		     growth_rate = EXCLUDED.growth_rate,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		s.ID, s.FandomID, s.Platform, model.DateOf(s.Date), s.Followers, s.PostsCount, s.EngagementTotal,
		s.AvgLikes, s.AvgComments, s.AvgShares, s.EngagementRate, s.GrowthRate, now,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("スナップショットの保存に失敗しました: %w", err)
	}
	return nil
}

// GetLatestBefore は指定日より前の最新スナップショットを返す。無ければnilを返す。
func (r *PostgresSnapshotRepo) GetLatestBefore(ctx context.Context, fandomID string, platform model.Platform, date time.Time) (*model.MetricSnapshot, error) {
	s, err := scanSnapshot(r.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM metric_snapshots
		 WHERE fandom_id = $1 AND platform = $2 AND snapshot_date < $3
		 ORDER BY snapshot_date DESC
		 LIMIT 1`,
		fandomID, platform, model.DateOf(date),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("直前スナップショットの取得に失敗しました: %w", err)
	}
	return s, nil
}

// ListSince は指定日以降の全ファンダムのスナップショットを日付昇順で返す。
func (r *PostgresSnapshotRepo) ListSince(ctx context.Context, since time.Time) ([]*model.MetricSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM metric_snapshots
		 WHERE snapshot_date >= $1
		 ORDER BY snapshot_date ASC, fandom_id ASC, platform ASC`,
		model.DateOf(since),
	)
	if err != nil {
		return nil, fmt.Errorf("スナップショット一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var snapshots []*model.MetricSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("スナップショットの読み取りに失敗しました: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スナップショット一覧の走査に失敗しました: %w", err)
	}
	return snapshots, nil
}

// コンパイル時にインターフェースの実装を検証する。
var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)
