// Package actor はプラットフォームごとのスクレイプジョブ定義（アクター）を提供する。
// データセットがどの形状を持つべきかを記述するための静的なテーブルであり、
// 取り込み時の正規化ロジックは持たない。
package actor

import (
	"fmt"
	"strings"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// SourceKind はsourceJobIdが示す取り込み経路の種別。
type SourceKind string

const (
	// SourceDataset はスクレイプ提供元のデータセットを取り込む通常経路。
	SourceDataset SourceKind = "dataset"
	// SourceTrends は地域別関心度を取得してGoogleTrendを書き込む経路。
	SourceTrends SourceKind = "trends"
	// SourceYouTubeFeed はYouTubeチャンネルのフィードから直接取り込む経路。
	SourceYouTubeFeed SourceKind = "youtube_feed"
)

const (
	trendsPrefix      = "trends:"
	youtubeFeedPrefix = "youtube-feed:"
)

// デフォルトの取得件数上限
const DefaultResultsLimit = 50

// Template は1つのスクレイプアクターの定義。
type Template struct {
	ActorID  string
	Platform model.Platform
	build    func(handle string, limit int) map[string]any
}

// BuildInput はハンドルと件数上限からアクター入力を組み立てる。
// limitが0以下の場合はDefaultResultsLimitを使う。
func (t Template) BuildInput(handle string, limit int) map[string]any {
	if limit <= 0 {
		limit = DefaultResultsLimit
	}
	return t.build(strings.TrimPrefix(strings.TrimSpace(handle), "@"), limit)
}

var templates = map[model.Platform]Template{
	model.PlatformTikTok: {
		ActorID:  "clockworks/tiktok-scraper",
		Platform: model.PlatformTikTok,
		build: func(handle string, limit int) map[string]any {
			return map[string]any{
				"hashtags":              []string{handle},
				"resultsPerPage":        limit,
				"shouldDownloadVideos":  false,
				"shouldDownloadCovers":  false,
				"shouldDownloadAvatars": false,
			}
		},
	},
	model.PlatformInstagram: {
		ActorID:  "apify/instagram-scraper",
		Platform: model.PlatformInstagram,
		build: func(handle string, limit int) map[string]any {
			return map[string]any{
				"directUrls":   []string{"https://www.instagram.com/" + handle + "/"},
				"resultsType":  "posts",
				"resultsLimit": limit,
			}
		},
	},
	model.PlatformTwitter: {
		ActorID:  "apidojo/tweet-scraper",
		Platform: model.PlatformTwitter,
		build: func(handle string, limit int) map[string]any {
			return map[string]any{
				"searchTerms": []string{handle},
				"maxItems":    limit,
				"sort":        "Latest",
			}
		},
	},
	model.PlatformFacebook: {
		ActorID:  "apify/facebook-posts-scraper",
		Platform: model.PlatformFacebook,
		build: func(handle string, limit int) map[string]any {
			return map[string]any{
				"startUrls":    []map[string]string{{"url": "https://www.facebook.com/" + handle}},
				"resultsLimit": limit,
			}
		},
	},
	model.PlatformYouTube: {
		ActorID:  "streamers/youtube-scraper",
		Platform: model.PlatformYouTube,
		build: func(handle string, limit int) map[string]any {
			return map[string]any{
				"searchKeywords":   handle,
				"maxResults":       limit,
				"maxResultsShorts": 0,
			}
		},
	},
}

// TrendsActorID は地域別関心度スクレイパーのアクターID。
const TrendsActorID = "emastra/google-trends-scraper"

// Lookup はプラットフォームのアクター定義を返す。
func Lookup(platform model.Platform) (Template, error) {
	t, ok := templates[platform]
	if !ok {
		return Template{}, fmt.Errorf("no actor registered for platform %q", platform)
	}
	return t, nil
}

// TrendsInput は地域別関心度アクターの入力を組み立てる。
func TrendsInput(keywords []string, geo, timeRange string) map[string]any {
	return map[string]any{
		"searchTerms":     keywords,
		"geo":             geo,
		"timeRange":       timeRange,
		"isMultiple":      false,
		"viewedFrom":      strings.ToLower(geo),
		"skipDebugScreen": true,
	}
}

// ResolveSource はsourceJobIdから取り込み経路を判定する。
// youtube-feed経路の場合はチャンネルIDも返す。
func ResolveSource(sourceJobID string) (SourceKind, string) {
	id := strings.TrimSpace(sourceJobID)
	switch {
	case strings.HasPrefix(id, trendsPrefix), id == TrendsActorID, strings.HasPrefix(id, TrendsActorID+"/"):
		return SourceTrends, ""
	case strings.HasPrefix(id, youtubeFeedPrefix):
		return SourceYouTubeFeed, strings.TrimPrefix(id, youtubeFeedPrefix)
	default:
		return SourceDataset, ""
	}
}
