package ingest

import "github.com/hitoshi/fandomwatch/internal/model"

// aliasTable はプラットフォームごとのフィールド名の解決順。
// 各項目は先頭から順に探索し、最初に存在したフィールドを採用する。
// "authorMeta.name" のようにドット区切りで入れ子のフィールドを指定できる。
type aliasTable struct {
	ExternalID  []string
	URL         []string
	Text        []string
	Views       []string
	Likes       []string
	Comments    []string
	Shares      []string
	PublishedAt []string
	Author      []string
	Followers   []string
	Hashtags    []string
	Mentions    []string
}

var aliasTables = map[model.Platform]aliasTable{
	model.PlatformTikTok: {
		ExternalID:  []string{"id", "videoId"},
		URL:         []string{"webVideoUrl", "url"},
		Text:        []string{"text", "desc", "description"},
		Views:       []string{"playCount", "views", "viewCount"},
		Likes:       []string{"diggCount", "likes", "likeCount"},
		Comments:    []string{"commentCount", "comments"},
		Shares:      []string{"shareCount", "shares"},
		PublishedAt: []string{"createTimeISO", "createTime", "timestamp"},
		Author:      []string{"authorMeta.name", "author.uniqueId", "author"},
		Followers:   []string{"authorMeta.fans", "author.followerCount"},
		Hashtags:    []string{"hashtags"},
		Mentions:    []string{"mentions"},
	},
	model.PlatformInstagram: {
		ExternalID:  []string{"id", "shortCode", "postId"},
		URL:         []string{"url", "displayUrl"},
		Text:        []string{"caption", "text", "description"},
		Views:       []string{"videoViewCount", "videoPlayCount", "views"},
		Likes:       []string{"likesCount", "likes"},
		Comments:    []string{"commentsCount", "comments"},
		Shares:      []string{"sharesCount", "shares"},
		PublishedAt: []string{"timestamp", "takenAt", "date"},
		Author:      []string{"ownerUsername", "owner.username"},
		Followers:   []string{"ownerFollowersCount", "owner.followersCount"},
		Hashtags:    []string{"hashtags"},
		Mentions:    []string{"mentions", "taggedUsers"},
	},
	model.PlatformTwitter: {
		ExternalID:  []string{"id", "id_str", "tweetId"},
		URL:         []string{"url", "twitterUrl"},
		Text:        []string{"fullText", "full_text", "text"},
		Views:       []string{"viewCount", "views"},
		Likes:       []string{"likeCount", "favorite_count", "likes"},
		Comments:    []string{"replyCount", "reply_count", "comments"},
		Shares:      []string{"retweetCount", "retweet_count", "shares"},
		PublishedAt: []string{"createdAt", "created_at", "date"},
		Author:      []string{"author.userName", "user.screen_name", "user.name", "author.name"},
		Followers:   []string{"author.followers", "user.followers_count"},
		Hashtags:    []string{"hashtags", "entities.hashtags"},
		Mentions:    []string{"mentions", "entities.user_mentions"},
	},
	model.PlatformFacebook: {
		ExternalID:  []string{"postId", "id"},
		URL:         []string{"url", "topLevelUrl"},
		Text:        []string{"text", "message", "description"},
		Views:       []string{"viewsCount", "views", "videoViewCount"},
		Likes:       []string{"likes", "reactionsCount", "likesCount"},
		Comments:    []string{"comments", "commentsCount"},
		Shares:      []string{"shares", "sharesCount"},
		PublishedAt: []string{"time", "timestamp", "date"},
		Author:      []string{"pageName", "user.name", "authorName"},
		Followers:   []string{"pageFollowers", "followers"},
		Hashtags:    []string{"hashtags"},
		Mentions:    []string{"mentions"},
	},
	model.PlatformYouTube: {
		ExternalID:  []string{"id", "videoId"},
		URL:         []string{"url"},
		Text:        []string{"title", "text", "description"},
		Views:       []string{"viewCount", "views"},
		Likes:       []string{"likes", "likeCount"},
		Comments:    []string{"commentsCount", "commentCount", "comments"},
		Shares:      []string{"shares"},
		PublishedAt: []string{"date", "uploadDate", "publishedAt"},
		Author:      []string{"channelName", "channel.name", "author"},
		Followers:   []string{"numberOfSubscribers", "channelSubscribers"},
		Hashtags:    []string{"hashtags"},
		Mentions:    []string{"mentions"},
	},
}

// secondaryText はハッシュタグ・メンション抽出のみに使う補助テキストのフィールド。
// YouTubeのタイトルに対する概要欄など。
var secondaryText = map[model.Platform][]string{
	model.PlatformYouTube: {"description"},
}
