package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/fandomwatch/internal/discovery"
	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/scraper"
)

// TextSanitizer はキャプションからマークアップを除去する。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// parsedRecord は1レコードから取り出した正規化前の値。
type parsedRecord struct {
	item         *model.ContentItem
	hasFollowers bool
}

// parseRecord はプラットフォームの別名テーブルに従ってレコードをContentItemに変換する。
// 外部IDが得られないレコードはMalformedInputErrorを返す。
func parseRecord(platform model.Platform, raw scraper.RawRecord, scrapedAt time.Time, sanitizer TextSanitizer) (*parsedRecord, error) {
	aliases, ok := aliasTables[platform]
	if !ok {
		return nil, &model.MalformedInputError{Op: "parse record", Reason: fmt.Sprintf("unknown platform %q", platform)}
	}

	externalID := lookupString(raw, aliases.ExternalID)
	if externalID == "" {
		return nil, &model.MalformedInputError{Op: "parse record", Reason: "record has no external id"}
	}

	text := lookupString(raw, aliases.Text)
	if sanitizer != nil {
		text = sanitizer.Sanitize(text)
	}

	item := &model.ContentItem{
		Platform:       platform,
		ExternalID:     externalID,
		URL:            lookupString(raw, aliases.URL),
		Text:           text,
		AuthorUsername: normalizeUsername(lookupString(raw, aliases.Author)),
		Likes:          lookupInt(raw, aliases.Likes),
		Comments:       lookupInt(raw, aliases.Comments),
		Shares:         lookupInt(raw, aliases.Shares),
		Views:          lookupInt(raw, aliases.Views),
		ScrapedAt:      scrapedAt,
	}

	followers, hasFollowers := lookupNumber(raw, aliases.Followers)
	item.AuthorFollowers = followers

	if t, ok := lookupTime(raw, aliases.PublishedAt); ok {
		item.PublishedAt = &t
	}

	scanText := text
	for _, f := range secondaryText[platform] {
		if extra := lookupString(raw, []string{f}); extra != "" && extra != text {
			if sanitizer != nil {
				extra = sanitizer.Sanitize(extra)
			}
			scanText += "\n" + extra
		}
	}

	item.Hashtags = mergeTags(lookupTags(raw, aliases.Hashtags), extractTokens(scanText, '#'))
	item.Mentions = mergeTags(lookupTags(raw, aliases.Mentions), extractTokens(scanText, '@'))

	return &parsedRecord{item: item, hasFollowers: hasFollowers && item.AuthorUsername != ""}, nil
}

// lookup はドット区切りのパスをたどって値を返す。
func lookup(raw map[string]any, path string) (any, bool) {
	var cur any = raw
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(raw map[string]any, paths []string) string {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		case json.Number:
			return s.String()
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}

// lookupInt は数値フィールドを解決する。存在しない場合は0。
func lookupInt(raw map[string]any, paths []string) int64 {
	n, _ := lookupNumber(raw, paths)
	return n
}

// lookupNumber は最初に数値として解釈できたフィールドの値を返す。
func lookupNumber(raw map[string]any, paths []string) (int64, bool) {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

// toInt はjson.Number・float64・数値文字列（"1,234" "12.5K" "3M" を含む）を整数に変換する。
// 負の値は0に丸める。
func toInt(v any) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return clampNonNegative(float64(i)), true
		}
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		x, ok := parseHumanNumber(n)
		if !ok {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return clampNonNegative(f), true
}

func clampNonNegative(f float64) int64 {
	if f < 0 {
		return 0
	}
	return int64(math.Round(f))
}

func parseHumanNumber(s string) (float64, bool) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	if s == "" {
		return 0, false
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K':
		mult, s = 1e3, s[:len(s)-1]
	case 'M':
		mult, s = 1e6, s[:len(s)-1]
	case 'B':
		mult, s = 1e9, s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RubyDate, // Twitter: "Mon Jan 02 15:04:05 -0700 2006"
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// lookupTime は日時フィールドを解決する。文字列はtimeLayoutsの順に解釈し、
// 数値はUNIX秒（13桁以上はミリ秒）として扱う。
func lookupTime(raw map[string]any, paths []string) (time.Time, bool) {
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			s := strings.TrimSpace(x)
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), true
				}
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return unixTime(n), true
			}
		default:
			if n, ok := toInt(x); ok && n > 0 {
				return unixTime(n), true
			}
		}
	}
	return time.Time{}, false
}

func unixTime(n int64) time.Time {
	if n >= 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// lookupTags は文字列配列、またはname/text/username等を持つオブジェクト配列を読み取る。
func lookupTags(raw map[string]any, paths []string) []string {
	var out []string
	for _, p := range paths {
		v, ok := lookup(raw, p)
		if !ok {
			continue
		}
		list, ok := v.([]any)
		if !ok {
			continue
		}
		for _, e := range list {
			switch x := e.(type) {
			case string:
				out = append(out, x)
			case map[string]any:
				if s := lookupString(x, []string{"name", "text", "tag", "username", "screen_name", "userName"}); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return out
}

var tokenPattern = map[rune]*regexp.Regexp{
	'#': regexp.MustCompile(`#([\p{L}\p{N}_]+)`),
	'@': regexp.MustCompile(`@([\p{L}\p{N}_.]+)`),
}

// extractTokens は本文中の #tag または @name トークンを取り出す。
func extractTokens(text string, marker rune) []string {
	if text == "" {
		return nil
	}
	matches := tokenPattern[marker].FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// mergeTags は構造化フィールドと本文抽出の結果を正規化・重複排除して結合する。
func mergeTags(lists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			n := discovery.NormalizeName(s)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
