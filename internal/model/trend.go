package model

import "time"

// RegionInterest は地域ごとの関心度（0〜100）を表す。
type RegionInterest struct {
	RegionCode    string  `json:"region_code"`
	RegionName    string  `json:"region_name"`
	InterestValue float64 `json:"interest_value"`
}

// RegionalInterest はキーワード1件分の地域別関心度の取得結果。
// Errorが設定されている場合、Regionsは必ず空になる。
type RegionalInterest struct {
	Keyword   string           `json:"keyword"`
	Geo       string           `json:"geo"`
	TimeRange string           `json:"time_range"`
	Regions   []RegionInterest `json:"regions"`
	Error     string           `json:"error,omitempty"`
}

// Failed は取得に失敗した結果かどうかを返す。
func (r *RegionalInterest) Failed() bool {
	return r.Error != ""
}

// GoogleTrend はトレンド系ソースから取り込んだ地域別関心度の1行。
// (FandomID, Keyword, Date, RegionCode)で一意。
type GoogleTrend struct {
	ID            string
	FandomID      string
	Keyword       string
	Date          time.Time
	RegionCode    string
	RegionName    string
	InterestValue float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
