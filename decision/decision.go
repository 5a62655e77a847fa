// Package decision implements the Freshness Decision Engine: a pure,
// allocation-light function from (query, channel snapshot, now) to a
// FRESH/STALE verdict, per spec.md §4.6. It never performs I/O and never
// suspends — every microsecond here is on the proxy's request path.
package decision

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mchtech/cachechannel/channel"
	"github.com/mchtech/cachechannel/headercodec"
)

// ClockFuzz is the slack applied when comparing an event timestamp
// against the cached response's store time, biased toward staleness.
const ClockFuzz = 5 * time.Second

// Query is one proxy request, already decoded.
type Query struct {
	ReqID        string
	RequestURI   string
	Age          int
	CacheControl headercodec.CacheControl
	Links        map[string]headercodec.LinkEntry
}

// Lookup resolves a channel URI to its current snapshot. Returns ok=false
// if the channel is not registered.
type Lookup func(channelURI string) (channel.Snapshot, bool)

// Verdict is the outcome of a decision.
type Verdict string

const (
	Fresh Verdict = "FRESH"
	Stale Verdict = "STALE"
)

// Result is what Decide returns. RegisterChannel is non-empty when the
// caller must register a previously-unknown channel (rule 3) — Decide
// itself never mutates anything, so the caller performs the registration.
type Result struct {
	Verdict         Verdict
	Reason          string
	Freshness       time.Duration // only meaningful when Verdict == Fresh
	RegisterChannel string
}

func stale(reason string) Result { return Result{Verdict: Stale, Reason: reason} }

// Decide applies spec.md §4.6's strict-precedence rule table. now is
// injected so the engine stays pure and testable.
func Decide(q Query, lookup Lookup, now time.Time, extendPct int) Result {
	channelMaxage, hasMaxage := q.CacheControl.Get("channel-maxage")
	if !hasMaxage {
		return stale("no_channel_maxage")
	}

	channelRef, hasChannel := q.CacheControl.Get("channel")
	if !hasChannel {
		return stale("no_channel_advertised")
	}
	channelURI := resolve(q.RequestURI, channelRef)

	snap, known := lookup(channelURI)
	if !known {
		r := stale("channel_not_monitored")
		r.RegisterChannel = channelURI
		return r
	}

	if !snap.HasLastCheck {
		return stale("channel_startup")
	}

	if now.After(snap.LastCheck.Add(time.Duration(snap.Precision) * time.Second)) {
		return stale("channel_dead")
	}

	responseCached := now.Add(-time.Duration(q.Age) * time.Second).Add(-ClockFuzz)

	if ts, ok := snap.Events[q.RequestURI]; ok && time.Unix(ts, 0).After(responseCached) {
		return stale("invalidated_request_uri")
	}

	for groupRef, params := range q.Links {
		if params.Rev() != "invalidates" {
			continue
		}
		groupURI := resolve(q.RequestURI, groupRef)
		if ts, ok := snap.Events[groupURI]; ok && time.Unix(ts, 0).After(responseCached) {
			return stale("invalidated_group_uri")
		}
	}

	if !q.CacheControl.IsBare("channel-maxage") {
		maxage, err := strconv.Atoi(strings.TrimSpace(channelMaxage))
		if err != nil {
			return stale("invalid_channel_maxage")
		}
		if q.Age > maxage {
			return stale("channel_maxage")
		}
	}

	if q.Age > snap.Lifetime {
		return stale("channel_lifetime")
	}

	extend := time.Duration(float64(snap.Precision) * float64(extendPct) / 100.0 * float64(time.Second))
	return Result{
		Verdict:   Fresh,
		Reason:    "extended",
		Freshness: extend,
	}
}

func resolve(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
