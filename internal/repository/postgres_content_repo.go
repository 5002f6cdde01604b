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

// PostgresContentRepo はPostgreSQLを使用したコンテンツリポジトリ。
type PostgresContentRepo struct {
	db *sql.DB
}

// NewPostgresContentRepo はPostgresContentRepoを生成する。
func NewPostgresContentRepo(db *sql.DB) *PostgresContentRepo {
	return &PostgresContentRepo{db: db}
}

// Upsert は(platform, external_id)でコンテンツをUPSERTする。
// xmax = 0 は今回のINSERTで作られた行であることを示す。
func (r *PostgresContentRepo) Upsert(ctx context.Context, item *model.ContentItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now()

	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO content_items (
		     id, fandom_id, platform, external_id, url, text, author_username, author_followers,
		     likes, comments, shares, views, hashtags, mentions, published_at, scraped_at,
		     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		 ON CONFLICT (platform, external_id) DO UPDATE SET
		     fandom_id = EXCLUDED.fandom_id,
		     url = EXCLUDED.url,
		     text = EXCLUDED.text,
		     author_username = EXCLUDED.author_username,
		     author_followers = EXCLUDED.author_followers,
		     likes = EXCLUDED.likes,
		     comments = EXCLUDED.comments,
		     shares = EXCLUDED.shares,
		     views = EXCLUDED.views,
		     hashtags = EXCLUDED.hashtags,
		     mentions = EXCLUDED.mentions,
		     published_at = COALESCE(EXCLUDED.published_at, content_items.published_at),
		     scraped_at = EXCLUDED.scraped_at,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, published_at, created_at, updated_at, (xmax = 0)`,
		item.ID, item.FandomID, item.Platform, item.ExternalID, item.URL, item.Text,
		item.AuthorUsername, item.AuthorFollowers,
		item.Likes, item.Comments, item.Shares, item.Views,
		pq.Array(item.Hashtags), pq.Array(item.Mentions),
		nullTime(item.PublishedAt), item.ScrapedAt, now,
	).Scan(&item.ID, scanNullTime(&item.PublishedAt), &item.CreatedAt, &item.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("コンテンツのUPSERTに失敗しました: %w", err)
	}
	return inserted, nil
}

const contentColumns = `id, fandom_id, platform, external_id, url, text, author_username, author_followers,
		        likes, comments, shares, views, hashtags, mentions, published_at, scraped_at,
		        created_at, updated_at`

// ListSince はscraped_atが指定日時以降のコンテンツを返す。
func (r *PostgresContentRepo) ListSince(ctx context.Context, since time.Time) ([]*model.ContentItem, error) {
	return r.list(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items
		 WHERE scraped_at >= $1
		 ORDER BY scraped_at ASC, id ASC`,
		since,
	)
}

// ListSinceTagged はタグ・メンションの正規化名がkeysに一致するコンテンツに絞って返す。
// 正規化は小文字化と英数字以外の除去でmodel.NormalizeTagと揃える。
func (r *PostgresContentRepo) ListSinceTagged(ctx context.Context, since time.Time, keys []string) ([]*model.ContentItem, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return r.list(ctx,
		`SELECT `+contentColumns+`
		 FROM content_items
		 WHERE scraped_at >= $1
		   AND EXISTS (
		       SELECT 1 FROM unnest(hashtags || mentions) AS tag
		       WHERE regexp_replace(lower(tag), '[^[:alnum:]]', '', 'g') = ANY($2)
		   )
		 ORDER BY scraped_at ASC, id ASC`,
		since, pq.Array(keys),
	)
}

func (r *PostgresContentRepo) list(ctx context.Context, query string, args ...any) ([]*model.ContentItem, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("コンテンツ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.ContentItem
	for rows.Next() {
		c := &model.ContentItem{}
		var publishedAt sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.FandomID, &c.Platform, &c.ExternalID, &c.URL, &c.Text,
			&c.AuthorUsername, &c.AuthorFollowers,
			&c.Likes, &c.Comments, &c.Shares, &c.Views,
			pq.Array(&c.Hashtags), pq.Array(&c.Mentions), &publishedAt, &c.ScrapedAt,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("コンテンツの読み取りに失敗しました: %w", err)
		}
		if publishedAt.Valid {
			c.PublishedAt = &publishedAt.Time
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コンテンツ一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// DeleteScrapedBefore は指定日時より前に取得されたコンテンツを削除し、削除件数を返す。
func (r *PostgresContentRepo) DeleteScrapedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM content_items WHERE scraped_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("古いコンテンツの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// nullTimeScanner はNULL許容の日時カラムを*time.Timeに読み込む。
type nullTimeScanner struct {
	dst **time.Time
}

func (s nullTimeScanner) Scan(src any) error {
	var nt sql.NullTime
	if err := nt.Scan(src); err != nil {
		return err
	}
	if nt.Valid {
		t := nt.Time
		*s.dst = &t
	} else {
		*s.dst = nil
	}
	return nil
}

func scanNullTime(dst **time.Time) nullTimeScanner {
	return nullTimeScanner{dst: dst}
}

// コンパイル時にインターフェースの実装を検証する。
var _ ContentRepository = (*PostgresContentRepo)(nil)
