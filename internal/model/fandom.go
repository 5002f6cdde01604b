// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Platform はファンダムを追跡するソーシャルプラットフォームを表す。
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformFacebook  Platform = "facebook"
	PlatformYouTube   Platform = "youtube"
)

// Platforms は対応プラットフォームの一覧。タイブレーク時の優先順序も兼ねる。
var Platforms = []Platform{
	PlatformTikTok,
	PlatformInstagram,
	PlatformTwitter,
	PlatformFacebook,
	PlatformYouTube,
}

// Valid は対応プラットフォームかどうかを返す。
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePlatform は文字列をPlatformに変換する。"x"はtwitterとして扱う。
func ParsePlatform(s string) (Platform, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "x" {
		v = string(PlatformTwitter)
	}
	p := Platform(v)
	return p, p.Valid()
}

// Tier はファンダムのライフサイクル段階を表す。
type Tier string

const (
	TierEmerging Tier = "emerging"
	TierTrending Tier = "trending"
	TierExisting Tier = "existing"
)

// Valid は定義済みのTierかどうかを返す。
func (t Tier) Valid() bool {
	return t == TierEmerging || t == TierTrending || t == TierExisting
}

// DemographicTag はファンダムの属性タグ（世代・社会経済クラス）を表す。
type DemographicTag string

const (
	TagGenY DemographicTag = "gen_y"
	TagGenZ DemographicTag = "gen_z"
	TagABC  DemographicTag = "abc"
	TagCDE  DemographicTag = "cde"
)

// Valid は定義済みの属性タグかどうかを返す。
func (t DemographicTag) Valid() bool {
	switch t {
	case TagGenY, TagGenZ, TagABC, TagCDE:
		return true
	}
	return false
}

// Fandom は追跡対象のファンコミュニティを表す。
// 削除はされず、RetiredAtの設定によって論理的に引退する。
type Fandom struct {
	ID              string
	Slug            string
	Name            string
	Tier            Tier
	DemographicTags []DemographicTag
	FandomGroup     string
	RetiredAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasTag は指定の属性タグを持つかを返す。
func (f *Fandom) HasTag(tag DemographicTag) bool {
	for _, t := range f.DemographicTags {
		if t == tag {
			return true
		}
	}
	return false
}

// FandomPlatform はファンダムとプラットフォームの組を表す。(FandomID, Platform)で一意。
// Followersは取り込みのたびに更新される。
type FandomPlatform struct {
	ID        string
	FandomID  string
	Platform  Platform
	Handle    string
	Followers int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
