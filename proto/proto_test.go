package proto_test

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mchtech/cachechannel/channel"
	"github.com/mchtech/cachechannel/decision"
	"github.com/mchtech/cachechannel/proto"
	"github.com/rs/zerolog"
)

type fakeDecider struct {
	fn func(q decision.Query, now time.Time) decision.Result
}

func (f fakeDecider) Decide(q decision.Query, now time.Time) decision.Result {
	return f.fn(q, now)
}

func TestRunUnknownChannelRegisters(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var gotURI string
	decider := fakeDecider{fn: func(q decision.Query, _ time.Time) decision.Result {
		gotURI = q.RequestURI
		return decision.Result{Verdict: decision.Stale, Reason: "channel_not_monitored"}
	}}

	cc := url.QueryEscape(`channel="http://ex/feed", channel-maxage`)
	link := url.QueryEscape("")
	req := "42 http://example.com/obj 10 " + cc + " " + link + "\n"

	var out strings.Builder
	s := proto.New(strings.NewReader(req), &out, decider, zerolog.Nop(), func() time.Time { return now })
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotURI != "http://example.com/obj" {
		t.Fatalf("request uri = %q", gotURI)
	}
	want := "42 STALE log=channel_not_monitored\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}

func TestRunFreshResponse(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	decider := fakeDecider{fn: func(q decision.Query, _ time.Time) decision.Result {
		return decision.Result{Verdict: decision.Fresh, Reason: "extended", Freshness: 19800 * time.Millisecond}
	}}

	cc := url.QueryEscape(`channel="http://ex/feed", channel-maxage=300`)
	link := url.QueryEscape("")
	req := "2 http://example.com/obj 20 " + cc + " " + link + "\n"

	var out strings.Builder
	s := proto.New(strings.NewReader(req), &out, decider, zerolog.Nop(), func() time.Time { return now })
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := `2 FRESH freshness=19.80 res{Date}="Fri, 31 Jul 2026 12:00:00 GMT" log=extended_19.80` + "\n"
	if out.String() != want {
		t.Fatalf("got %q, want %q", out.String(), want)
	}
}

func TestRunMalformedLine(t *testing.T) {
	decider := fakeDecider{fn: func(q decision.Query, _ time.Time) decision.Result {
		t.Fatal("Decide should not be called for a malformed line")
		return decision.Result{}
	}}
	var out strings.Builder
	s := proto.New(strings.NewReader("not enough fields\n"), &out, decider, zerolog.Nop(), nil)
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "not STALE log=malformed_line_error\n" {
		t.Fatalf("got %q", out.String())
	}
}

func TestRunMultipleLinesAndEOF(t *testing.T) {
	calls := 0
	decider := fakeDecider{fn: func(q decision.Query, _ time.Time) decision.Result {
		calls++
		return decision.Result{Verdict: decision.Stale, Reason: "no_channel_maxage"}
	}}
	req := "1 http://a/ 1 %22%22 %22%22\n2 http://b/ 2 %22%22 %22%22\n"
	var out strings.Builder
	s := proto.New(strings.NewReader(req), &out, decider, zerolog.Nop(), nil)
	if err := s.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d response lines, want 2: %v", len(lines), lines)
	}
}

var _ proto.Decider = (*channel.Manager)(nil)
