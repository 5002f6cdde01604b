package model

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestScrapeRunStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to ScrapeRunStatus
		want     bool
	}{
		{ScrapeRunPending, ScrapeRunRunning, true},
		{ScrapeRunPending, ScrapeRunFailed, true},
		{ScrapeRunRunning, ScrapeRunSucceeded, true},
		{ScrapeRunRunning, ScrapeRunFailed, true},
		{ScrapeRunRunning, ScrapeRunPending, false},
		{ScrapeRunFailed, ScrapeRunSucceeded, false},
		{ScrapeRunFailed, ScrapeRunPending, false},
		{ScrapeRunSucceeded, ScrapeRunFailed, false},
		{ScrapeRunSucceeded, ScrapeRunRunning, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScrapeRunStatus_PredecessorsMatchTransitions(t *testing.T) {
	all := []ScrapeRunStatus{ScrapeRunPending, ScrapeRunRunning, ScrapeRunSucceeded, ScrapeRunFailed}
	for _, to := range all {
		allowed := map[ScrapeRunStatus]bool{}
		for _, p := range to.Predecessors() {
			allowed[p] = true
		}
		for _, from := range all {
			if allowed[from] != from.CanTransitionTo(to) {
				t.Errorf("%s->%s: Predecessors=%v, CanTransitionTo=%v", from, to, allowed[from], from.CanTransitionTo(to))
			}
		}
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
		ok   bool
	}{
		{"tiktok", PlatformTikTok, true},
		{" Instagram ", PlatformInstagram, true},
		{"x", PlatformTwitter, true},
		{"YouTube", PlatformYouTube, true},
		{"myspace", Platform("myspace"), false},
	}
	for _, tt := range tests {
		got, ok := ParsePlatform(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParsePlatform(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDiscoveryStatus_Frozen(t *testing.T) {
	if DiscoveryStatusDiscovered.Frozen() || DiscoveryStatusDismissed.Frozen() {
		t.Error("discovered/dismissed should not be frozen")
	}
	if !DiscoveryStatusTracked.Frozen() || !DiscoveryStatusCleared.Frozen() {
		t.Error("tracked/cleared should be frozen")
	}
}

func TestMarketSegment_ExpandAndTargets(t *testing.T) {
	if got := SegmentAll.Expand(); len(got) != 2 || got[0] != SegmentPostpaid || got[1] != SegmentPrepaid {
		t.Errorf("SegmentAll.Expand() = %v", got)
	}
	if got := SegmentPrepaid.Expand(); len(got) != 1 || got[0] != SegmentPrepaid {
		t.Errorf("SegmentPrepaid.Expand() = %v", got)
	}
	tags := SegmentPostpaid.TargetTags()
	if len(tags) != 2 || tags[0] != TagGenY || tags[1] != TagABC {
		t.Errorf("SegmentPostpaid.TargetTags() = %v", tags)
	}
}

func TestContentItem_ActivityTime(t *testing.T) {
	scraped := time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)
	earlier := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	later := time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)

	c := &ContentItem{ScrapedAt: scraped}
	if !c.ActivityTime().Equal(scraped) {
		t.Errorf("no publishedAt: got %v, want scrapedAt", c.ActivityTime())
	}
	c.PublishedAt = &earlier
	if !c.ActivityTime().Equal(earlier) {
		t.Errorf("earlier publishedAt: got %v, want %v", c.ActivityTime(), earlier)
	}
	c.PublishedAt = &later
	if !c.ActivityTime().Equal(scraped) {
		t.Errorf("later publishedAt: got %v, want scrapedAt", c.ActivityTime())
	}
}

func TestDateOf_TruncatesToUTCDay(t *testing.T) {
	manila := time.FixedZone("PHT", 8*3600)
	in := time.Date(2024, 5, 2, 3, 0, 0, 0, manila) // UTCでは5/1 19:00
	want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := DateOf(in); !got.Equal(want) {
		t.Errorf("DateOf = %v, want %v", got, want)
	}
}

func TestErrorTaxonomy_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("ingest: %w", &PersistenceError{Op: "content", Err: cause})

	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatal("expected PersistenceError via errors.As")
	}
	if !errors.Is(err, cause) {
		t.Error("expected underlying cause to be preserved")
	}

	tn := &TransientNetworkError{Op: "fetch dataset", StatusCode: 503}
	if tn.Error() != "fetch dataset: unexpected status 503" {
		t.Errorf("TransientNetworkError.Error() = %q", tn.Error())
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewInvalidSegmentError("enterprise")
	if err.Error() != "[INVALID_SEGMENT] 無効な区分です: enterprise" {
		t.Errorf("Error() = %q", err.Error())
	}
}
