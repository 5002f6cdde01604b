package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// DefaultFeedBaseURL はYouTubeチャンネルフィードの既定のベースURL。
const DefaultFeedBaseURL = "https://www.youtube.com"

const maxFeedSize = 5 << 20

// FeedSource はYouTubeチャンネルのAtomフィードを読み、
// スクレイプデータセットと同じ形のレコードに変換する。
type FeedSource struct {
	doer    Doer
	logger  *slog.Logger
	baseURL string
}

// NewFeedSource はFeedSourceを生成する。baseURLが空の場合は既定値を使う。
func NewFeedSource(doer Doer, logger *slog.Logger, baseURL string) *FeedSource {
	if baseURL == "" {
		baseURL = DefaultFeedBaseURL
	}
	return &FeedSource{doer: doer, logger: logger, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchChannel はチャンネルの最新動画をレコードとして返す。
func (s *FeedSource) FetchChannel(ctx context.Context, channelID string) ([]RawRecord, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, &model.MalformedInputError{Op: "fetch channel feed", Reason: "empty channel id"}
	}

	target := s.baseURL + "/feeds/videos.xml?" + url.Values{"channel_id": {channelID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/xml, text/xml, */*")

	resp, err := s.doer.Do(req)
	if err != nil {
		return nil, &model.TransientNetworkError{Op: "fetch channel feed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.TransientNetworkError{Op: "fetch channel feed", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, &model.TransientNetworkError{Op: "fetch channel feed", Err: err}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &model.MalformedInputError{Op: "parse channel feed", Reason: "invalid feed", Err: err}
	}

	channelName := feed.Title
	if feed.Author != nil && feed.Author.Name != "" {
		channelName = feed.Author.Name
	}

	records := make([]RawRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if rec := convertFeedItem(item, channelName); rec != nil {
			records = append(records, rec)
		}
	}

	s.logger.Info("チャンネルフィードを取得しました",
		slog.String("channel_id", channelID),
		slog.Int("record_count", len(records)),
	)
	return records, nil
}

// convertFeedItem はフィードの1エントリをYouTube形式のレコードに変換する。
// 動画IDが得られないエントリはnilを返す。
func convertFeedItem(item *gofeed.Item, channelName string) RawRecord {
	id := extensionValue(item.Extensions, "yt", "videoId")
	if id == "" {
		id = strings.TrimPrefix(item.GUID, "yt:video:")
	}
	if id == "" {
		return nil
	}

	rec := RawRecord{
		"id":          id,
		"title":       item.Title,
		"url":         item.Link,
		"channelName": channelName,
	}
	if item.Author != nil && item.Author.Name != "" {
		rec["channelName"] = item.Author.Name
	}

	switch {
	case item.PublishedParsed != nil:
		rec["date"] = item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		rec["date"] = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	// media:group > media:community > media:statistics@views / media:starRating@count
	if group := firstExtension(item.Extensions, "media", "group"); group != nil {
		if community := firstChild(group, "community"); community != nil {
			if stats := firstChild(community, "statistics"); stats != nil {
				if v := stats.Attrs["views"]; v != "" {
					rec["viewCount"] = json.Number(v)
				}
			}
			if rating := firstChild(community, "starRating"); rating != nil {
				if v := rating.Attrs["count"]; v != "" {
					rec["likes"] = json.Number(v)
				}
			}
		}
		if desc := firstChild(group, "description"); desc != nil && desc.Value != "" {
			rec["description"] = desc.Value
		}
	}
	return rec
}

func firstExtension(exts ext.Extensions, ns, name string) *ext.Extension {
	if exts == nil {
		return nil
	}
	list := exts[ns][name]
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func firstChild(e *ext.Extension, name string) *ext.Extension {
	list := e.Children[name]
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func extensionValue(exts ext.Extensions, ns, name string) string {
	if e := firstExtension(exts, ns, name); e != nil {
		return strings.TrimSpace(e.Value)
	}
	return ""
}
