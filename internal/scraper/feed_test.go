package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/fandomwatch/internal/model"
)

const channelFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
 <title>BINI Official</title>
 <author><name>BINI Official</name><uri>https://www.youtube.com/channel/UC123</uri></author>
 <entry>
  <id>yt:video:vid001</id>
  <yt:videoId>vid001</yt:videoId>
  <title>Pantropiko MV #BINI</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid001"/>
  <author><name>BINI Official</name></author>
  <published>2024-05-01T10:00:00+00:00</published>
  <media:group>
   <media:title>Pantropiko MV</media:title>
   <media:description>Official MV #bini #pantropiko</media:description>
   <media:community>
    <media:starRating count="1200" average="5.00" min="1" max="5"/>
    <media:statistics views="54000"/>
   </media:community>
  </media:group>
 </entry>
 <entry>
  <id>yt:video:vid002</id>
  <title>Behind the scenes</title>
  <link rel="alternate" href="https://www.youtube.com/watch?v=vid002"/>
  <updated>2024-05-02T10:00:00+00:00</updated>
 </entry>
</feed>`

func TestFeedSource_FetchChannel(t *testing.T) {
	var gotChannel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feeds/videos.xml" {
			http.NotFound(w, r)
			return
		}
		gotChannel = r.URL.Query().Get("channel_id")
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(channelFeed))
	}))
	defer server.Close()

	src := NewFeedSource(server.Client(), newTestLogger(), server.URL)
	records, err := src.FetchChannel(context.Background(), "UC123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotChannel != "UC123" {
		t.Errorf("channel_id = %q", gotChannel)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	first := records[0]
	if first["id"] != "vid001" || first["channelName"] != "BINI Official" {
		t.Errorf("first record = %v", first)
	}
	if first["viewCount"] != json.Number("54000") || first["likes"] != json.Number("1200") {
		t.Errorf("statistics = views %v likes %v", first["viewCount"], first["likes"])
	}
	if first["date"] != "2024-05-01T10:00:00Z" {
		t.Errorf("date = %v", first["date"])
	}
	if first["description"] != "Official MV #bini #pantropiko" {
		t.Errorf("description = %v", first["description"])
	}

	second := records[1]
	if second["id"] != "vid002" {
		t.Errorf("GUID fallback id = %v, want vid002", second["id"])
	}
	if _, ok := second["viewCount"]; ok {
		t.Error("entry without statistics should not carry viewCount")
	}
}

func TestFeedSource_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("channel_id") == "broken" {
			w.Write([]byte("not a feed"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src := NewFeedSource(server.Client(), newTestLogger(), server.URL)

	var tn *model.TransientNetworkError
	if _, err := src.FetchChannel(context.Background(), "missing"); !errors.As(err, &tn) {
		t.Errorf("404: error = %v, want TransientNetworkError", err)
	}
	var me *model.MalformedInputError
	if _, err := src.FetchChannel(context.Background(), "broken"); !errors.As(err, &me) {
		t.Errorf("broken feed: error = %v, want MalformedInputError", err)
	}
	if _, err := src.FetchChannel(context.Background(), ""); !errors.As(err, &me) {
		t.Errorf("empty channel: error = %v, want MalformedInputError", err)
	}
}
