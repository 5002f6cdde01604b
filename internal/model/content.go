package model

import (
	"strings"
	"time"
	"unicode"
)

// ContentItem はスクレイプされた投稿・動画・ツイート1件を表す。
// (Platform, ExternalID)で一意であり、再取り込み時は上書き更新される。
type ContentItem struct {
	ID              string
	FandomID        string
	Platform        Platform
	ExternalID      string
	URL             string
	Text            string // サニタイズ済み
	AuthorUsername  string
	AuthorFollowers int64 // 不明な場合は0
	Likes           int64
	Comments        int64
	Shares          int64
	Views           int64
	Hashtags        []string
	Mentions        []string
	PublishedAt     *time.Time
	ScrapedAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Engagement はいいね・コメント・シェアの合計を返す。
func (c *ContentItem) Engagement() int64 {
	return c.Likes + c.Comments + c.Shares
}

// ActivityTime は集計に使う日時を返す。
// PublishedAtがScrapedAtより前であればPublishedAt、それ以外はScrapedAt。
func (c *ContentItem) ActivityTime() time.Time {
	if c.PublishedAt != nil && c.PublishedAt.Before(c.ScrapedAt) {
		return *c.PublishedAt
	}
	return c.ScrapedAt
}

// MetricSnapshot は(FandomID, Platform, Date)単位の日次集計を表す。
// 同じ日付への再取り込みはスナップショットを置き換える。
type MetricSnapshot struct {
	ID              string
	FandomID        string
	Platform        Platform
	Date            time.Time // UTCの0時
	Followers       int64
	PostsCount      int
	EngagementTotal int64
	AvgLikes        float64
	AvgComments     float64
	AvgShares       float64
	EngagementRate  float64
	GrowthRate      float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Influencer は(FandomID, Platform, Username)単位のインフルエンサーを表す。
type Influencer struct {
	ID             string
	FandomID       string
	Platform       Platform
	Username       string
	Followers      int64
	PostsCount     int
	EngagementRate float64
	RelevanceScore float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DateOf は日時をUTCの暦日（0時）に切り詰める。
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NormalizeTag はハッシュタグ・メンションの比較キーを返す。
// 大文字小文字を区別せず、文字・数字以外を取り除く。
func NormalizeTag(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
