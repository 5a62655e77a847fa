package decision_test

import (
	"testing"
	"time"

	"github.com/mchtech/cachechannel/channel"
	"github.com/mchtech/cachechannel/decision"
	"github.com/mchtech/cachechannel/headercodec"
)

func mkQuery(reqID, reqURI string, age int, cc, link string) decision.Query {
	return decision.Query{
		ReqID:        reqID,
		RequestURI:   reqURI,
		Age:          age,
		CacheControl: headercodec.ParseCacheControl(cc),
		Links:        headercodec.ParseLink(link),
	}
}

func noChannels(string) (channel.Snapshot, bool) { return channel.Snapshot{}, false }

func TestUnknownChannelRegisters(t *testing.T) {
	q := mkQuery("42", "http://example.com/obj", 10, `channel="http://ex/feed", channel-maxage`, "")
	res := decision.Decide(q, noChannels, time.Now(), 33)
	if res.Verdict != decision.Stale || res.Reason != "channel_not_monitored" {
		t.Fatalf("got %+v", res)
	}
	if res.RegisterChannel != "http://ex/feed" {
		t.Fatalf("expected registration of http://ex/feed, got %q", res.RegisterChannel)
	}
}

func TestNoChannelMaxage(t *testing.T) {
	q := mkQuery("1", "http://example.com/obj", 10, "", "")
	res := decision.Decide(q, noChannels, time.Now(), 33)
	if res.Reason != "no_channel_maxage" {
		t.Fatalf("got %+v", res)
	}
}

func TestHealthyChannelNotInvalidatedIsFresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lookup := func(uri string) (channel.Snapshot, bool) {
		return channel.Snapshot{
			URI:          "http://ex/feed",
			Precision:    60,
			Lifetime:     3600,
			Events:       map[string]int64{},
			HasLastCheck: true,
			LastCheck:    now.Add(-10 * time.Second),
		}, true
	}
	q := mkQuery("2", "http://example.com/obj", 20, `channel="http://ex/feed", channel-maxage=300`, "")
	res := decision.Decide(q, lookup, now, 33)
	if res.Verdict != decision.Fresh {
		t.Fatalf("expected FRESH, got %+v", res)
	}
	wantFreshness := time.Duration(float64(60) * 0.33 * float64(time.Second))
	if res.Freshness != wantFreshness {
		t.Fatalf("freshness = %v, want %v", res.Freshness, wantFreshness)
	}
}

func TestInvalidatedRequestURI(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	storedAt := now.Add(-20 * time.Second)
	eventTime := storedAt.Add(3 * time.Second) // within the cached response's lifetime
	lookup := func(uri string) (channel.Snapshot, bool) {
		return channel.Snapshot{
			Precision:    60,
			Lifetime:     3600,
			Events:       map[string]int64{"http://example.com/obj": eventTime.Unix()},
			HasLastCheck: true,
			LastCheck:    now.Add(-10 * time.Second),
		}, true
	}
	q := mkQuery("3", "http://example.com/obj", 20, `channel="http://ex/feed", channel-maxage=300`, "")
	res := decision.Decide(q, lookup, now, 33)
	if res.Verdict != decision.Stale || res.Reason != "invalidated_request_uri" {
		t.Fatalf("got %+v", res)
	}
}

func TestInvalidatedGroupURIViaLink(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lookup := func(uri string) (channel.Snapshot, bool) {
		return channel.Snapshot{
			Precision:    60,
			Lifetime:     3600,
			Events:       map[string]int64{"http://ex/group": now.Add(-1 * time.Second).Unix()},
			HasLastCheck: true,
			LastCheck:    now.Add(-10 * time.Second),
		}, true
	}
	q := mkQuery("4", "http://example.com/obj", 30, `channel="http://ex/feed", channel-maxage=300`, `<http://ex/group>; rev="invalidates"`)
	res := decision.Decide(q, lookup, now, 33)
	if res.Verdict != decision.Stale || res.Reason != "invalidated_group_uri" {
		t.Fatalf("got %+v", res)
	}
}

func TestChannelDeadWhenPollerFellBehind(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lookup := func(uri string) (channel.Snapshot, bool) {
		return channel.Snapshot{
			Precision:    60,
			Lifetime:     3600,
			Events:       map[string]int64{},
			HasLastCheck: true,
			LastCheck:    now.Add(-120 * time.Second),
		}, true
	}
	q := mkQuery("5", "http://example.com/obj", 10, `channel="http://ex/feed", channel-maxage=300`, "")
	res := decision.Decide(q, lookup, now, 33)
	if res.Reason != "channel_dead" {
		t.Fatalf("got %+v", res)
	}
}

func TestBareChannelMaxageFallsThroughToLifetime(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lookup := func(uri string) (channel.Snapshot, bool) {
		return channel.Snapshot{
			Precision:    60,
			Lifetime:     3600,
			Events:       map[string]int64{},
			HasLastCheck: true,
			LastCheck:    now.Add(-10 * time.Second),
		}, true
	}
	fresh := decision.Decide(mkQuery("6", "http://example.com/obj", 500, `channel="http://ex/feed", channel-maxage`, ""), lookup, now, 33)
	if fresh.Verdict != decision.Fresh {
		t.Fatalf("expected FRESH for bare channel-maxage within lifetime, got %+v", fresh)
	}
	stale := decision.Decide(mkQuery("7", "http://example.com/obj", 4000, `channel="http://ex/feed", channel-maxage`, ""), lookup, now, 33)
	if stale.Verdict != decision.Stale || stale.Reason != "channel_lifetime" {
		t.Fatalf("expected STALE channel_lifetime, got %+v", stale)
	}
}

func TestChannelMaxageBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lookup := func(uri string) (channel.Snapshot, bool) {
		return channel.Snapshot{
			Precision:    60,
			Lifetime:     3600,
			Events:       map[string]int64{},
			HasLastCheck: true,
			LastCheck:    now.Add(-10 * time.Second),
		}, true
	}
	atBoundary := decision.Decide(mkQuery("8", "http://example.com/obj", 300, `channel="http://ex/feed", channel-maxage=300`, ""), lookup, now, 33)
	if atBoundary.Verdict != decision.Fresh {
		t.Fatalf("age == channel-maxage should be FRESH, got %+v", atBoundary)
	}
	overBoundary := decision.Decide(mkQuery("9", "http://example.com/obj", 301, `channel="http://ex/feed", channel-maxage=300`, ""), lookup, now, 33)
	if overBoundary.Verdict != decision.Stale || overBoundary.Reason != "channel_maxage" {
		t.Fatalf("age == channel-maxage+1 should be STALE(channel_maxage), got %+v", overBoundary)
	}
}
