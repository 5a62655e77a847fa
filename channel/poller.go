package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/mchtech/cachechannel/feed"
	"github.com/mchtech/cachechannel/fetch"
	"github.com/rs/zerolog"
)

// PollDeps are the collaborators a poll cycle needs. Held by the manager
// and passed to runPoll for each channel, never stored on Channel itself.
type PollDeps struct {
	Fetcher fetch.Fetcher
	Logger  zerolog.Logger
}

// runPoll executes one complete poll cycle for snap: fetch the channel
// head, walk its archive chain, and return the delta to commit. It never
// touches shared state — it works entirely off snap and returns a value.
//
// Only a head-fetch/parse failure fails the whole poll (spec.md §4.4
// steps 1-2 establish precision/lifetime; nothing can be merged without
// them). A failure partway through the archive walk is not fatal to the
// poll: events from the archives fetched before it are still merged, but
// last_archive_seen stays where it was, so the next poll walks the
// unfetched archives again (spec.md §4.4 step 5, "stop at the first
// unfetched archive").
func runPoll(ctx context.Context, snap Snapshot, deps PollDeps) (Delta, error) {
	start := time.Now()

	headHeaders := map[string]string{
		"Cache-Control": fmt.Sprintf("max-age=%d", effectiveOrDefault(snap.Precision, DefaultPrecision)),
	}
	headBytes, err := deps.Fetcher.Get(ctx, snap.URI, headHeaders)
	if err != nil {
		return Delta{}, err
	}
	headDoc, err := feed.Parse(snap.URI, headBytes)
	if err != nil {
		return Delta{}, err
	}

	precision := DefaultPrecision
	if headDoc.Precision != nil {
		precision = *headDoc.Precision
	}
	lifetime := DefaultLifetime
	if headDoc.Lifetime != nil {
		lifetime = *headDoc.Lifetime
	}

	events := copyEvents(snap.Events)
	mergeEvents(events, headDoc.Events, start, snap.URI, deps.Logger)

	var fetchedArchives []string
	walkComplete := true
	archiveHeaders := map[string]string{
		"Cache-Control": fmt.Sprintf("max-stale=%d", lifetime),
	}
	cur := headDoc.HeadLinks["prev-archive"]
	for cur != "" && cur != snap.LastArchiveSeen {
		archiveBytes, ferr := deps.Fetcher.Get(ctx, cur, archiveHeaders)
		if ferr != nil {
			deps.Logger.Warn().Str("channel", snap.URI).Str("archive", cur).Err(ferr).Msg("archive_fetch_error")
			walkComplete = false
			break
		}
		archiveDoc, perr := feed.Parse(cur, archiveBytes)
		if perr != nil {
			deps.Logger.Warn().Str("channel", snap.URI).Str("archive", cur).Err(perr).Msg("archive_parse_error")
			walkComplete = false
			break
		}
		mergeEvents(events, archiveDoc.Events, start, snap.URI, deps.Logger)
		fetchedArchives = append(fetchedArchives, cur)
		cur = archiveDoc.HeadLinks["prev-archive"]
	}

	delta := Delta{
		URI:       snap.URI,
		Precision: precision,
		Lifetime:  lifetime,
		Events:    events,
		Elapsed:   time.Since(start),
	}
	// fetchedArchives runs newest first. Oldest first, the fetched prefix
	// is empty whenever the walk stopped on an unfetched archive, so only
	// a complete walk advances last_archive_seen, to the newest archive.
	if walkComplete && len(fetchedArchives) > 0 {
		delta.HasNewArchiveSeen = true
		delta.NewArchiveSeen = fetchedArchives[0]
	}
	return delta, nil
}

func effectiveOrDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func copyEvents(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergeEvents applies spec.md §4.4.1's monotone merge rule in place.
func mergeEvents(events map[string]int64, parsed []feed.Event, now time.Time, channelURI string, log zerolog.Logger) {
	for _, ev := range parsed {
		var ts int64
		if ev.Updated == nil {
			ts = now.Unix()
			log.Warn().Str("channel", channelURI).Str("uri", ev.URI).Msg("bad_event_date")
		} else {
			ts = ev.Updated.Unix()
		}
		if ts <= events[ev.URI] {
			continue
		}
		events[ev.URI] = ts
	}
}
