package trends

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/hitoshi/fandomwatch/internal/model"
)

// stripJSONPrefix は応答本文の先頭にあるセキュリティ用プレフィックス（例: ")]}',"）を取り除く。
// 上流のAPIはJSONの前に非JSONのバイト列を付けて返すため、最初の '{' より前をすべて捨てる。
func stripJSONPrefix(body []byte) ([]byte, error) {
	i := bytes.IndexByte(body, '{')
	if i < 0 {
		return nil, &model.MalformedInputError{Op: "strip json prefix", Reason: "response contains no JSON object"}
	}
	return body[i:], nil
}

// widget はexplore応答中のウィジェット記述子。
type widget struct {
	ID      string          `json:"id"`
	Token   string          `json:"token"`
	Request json.RawMessage `json:"request"`
}

type exploreResponse struct {
	Widgets []widget `json:"widgets"`
}

// findGeoMapWidget はexplore応答からGEO_MAPウィジェットを探す。
func findGeoMapWidget(body []byte) (*widget, error) {
	doc, err := stripJSONPrefix(body)
	if err != nil {
		return nil, err
	}
	var resp exploreResponse
	if err := json.Unmarshal(doc, &resp); err != nil {
		return nil, &model.MalformedInputError{Op: "parse explore", Reason: "invalid JSON", Err: err}
	}
	for i := range resp.Widgets {
		w := &resp.Widgets[i]
		if w.ID == "GEO_MAP" || strings.HasPrefix(w.ID, "GEO_MAP_") {
			return w, nil
		}
	}
	return nil, &model.MalformedInputError{Op: "parse explore", Reason: "GEO_MAP widget not found"}
}

type geoMapResponse struct {
	Default struct {
		GeoMapData []struct {
			GeoCode string          `json:"geoCode"`
			GeoName string          `json:"geoName"`
			Value   json.RawMessage `json:"value"`
		} `json:"geoMapData"`
	} `json:"default"`
}

// parseGeoMap はウィジェット応答から地域リストを取り出し、関心度の降順に安定ソートして返す。
func parseGeoMap(body []byte) ([]model.RegionInterest, error) {
	doc, err := stripJSONPrefix(body)
	if err != nil {
		return nil, err
	}
	var resp geoMapResponse
	if err := json.Unmarshal(doc, &resp); err != nil {
		return nil, &model.MalformedInputError{Op: "parse geo map", Reason: "invalid JSON", Err: err}
	}

	regions := make([]model.RegionInterest, 0, len(resp.Default.GeoMapData))
	for _, g := range resp.Default.GeoMapData {
		regions = append(regions, model.RegionInterest{
			RegionCode:    g.GeoCode,
			RegionName:    g.GeoName,
			InterestValue: parseInterestValue(g.Value),
		})
	}
	sortRegions(regions)
	return regions, nil
}

// parseInterestValue は数値または要素1つの配列の値を読み取る。欠損・不正な値は0とする。
func parseInterestValue(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var arr []float64
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return arr[0]
	}
	return 0
}

// sortRegions は関心度の降順に並べる。同値は入力順を保つ。
func sortRegions(regions []model.RegionInterest) {
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].InterestValue > regions[j].InterestValue
	})
}
