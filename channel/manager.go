package channel

import (
	"context"
	"sort"
	"time"

	"github.com/mchtech/cachechannel/decision"
	"github.com/mchtech/cachechannel/fetch"
	"github.com/mchtech/cachechannel/persistence"
	"github.com/rs/zerolog"
)

// gcTick is how often the manager sweeps expired events (spec.md §4.5).
const gcTick = 24 * time.Hour

type queryCmd struct {
	query decision.Query
	now   time.Time
	reply chan decision.Result
}

type startPollCmd struct{ uri string }

type pollDoneCmd struct{ delta Delta }

type pollErrorCmd struct {
	uri string
	err error
}

type gcCmd struct{}

type shutdownCmd struct{ reply chan struct{} }

// Manager is the registry of channels, their scheduler, and the only
// goroutine that ever mutates a Channel. It is the idiomatic-Go stand-in
// for the Twisted reactor's single-threaded event loop (spec.md §9
// Design Notes): every other goroutine talks to it exclusively through
// commands, never by touching channels directly.
type Manager struct {
	channels map[string]*Channel
	inFlight map[string]bool
	timers   map[string]*time.Timer

	commands chan any
	quit     chan struct{}
	done     chan struct{}

	fetcher      fetch.Fetcher
	persist      persistence.Store
	logger       zerolog.Logger
	extendPct    int
	fetchTimeout time.Duration

	// onCommit, when set (tests only), is notified with a channel URI
	// after every successful poll commit.
	onCommit chan<- string
}

// NewManager constructs a Manager. Call Start to load persisted channel
// URIs and begin the actor loop.
func NewManager(fetcher fetch.Fetcher, persist persistence.Store, logger zerolog.Logger, extendPct int) *Manager {
	return &Manager{
		channels:  map[string]*Channel{},
		inFlight:  map[string]bool{},
		timers:    map[string]*time.Timer{},
		commands:  make(chan any, 64),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		fetcher:   fetcher,
		persist:   persist,
		logger:    logger,
		extendPct: extendPct,
	}
}

// Start loads the persisted channel-URI set and begins the actor loop.
// Loading happens synchronously, before any other goroutine can reach
// the manager, so it needs no locking.
func (m *Manager) Start(ctx context.Context) {
	uris, err := m.persist.Load()
	if err != nil {
		m.logger.Info().Err(err).Msg("db_read_error")
	}
	for _, uri := range uris {
		m.addChannel(uri)
	}
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	gcTicker := time.NewTicker(gcTick)
	defer gcTicker.Stop()

	for {
		select {
		case cmd := <-m.commands:
			if m.handle(ctx, cmd) {
				return
			}
		case <-gcTicker.C:
			m.gc()
		case <-ctx.Done():
			m.shutdownLocked()
			return
		}
	}
}

// handle processes one command on the actor goroutine. Returns true when
// the manager should stop running (shutdown committed).
func (m *Manager) handle(ctx context.Context, cmd any) bool {
	switch c := cmd.(type) {
	case queryCmd:
		res := decision.Decide(c.query, m.lookup, c.now, m.extendPct)
		if res.RegisterChannel != "" {
			m.addChannel(res.RegisterChannel)
		}
		c.reply <- res

	case startPollCmd:
		m.startPoll(ctx, c.uri)

	case pollDoneCmd:
		m.commitPoll(c.delta)

	case pollErrorCmd:
		m.failPoll(c.uri, c.err)

	case gcCmd:
		m.gc()

	case shutdownCmd:
		m.shutdownLocked()
		close(c.reply)
		return true
	}
	return false
}

func (m *Manager) lookup(uri string) (Snapshot, bool) {
	ch, ok := m.channels[uri]
	if !ok {
		return Snapshot{}, false
	}
	return ch.Snapshot(), true
}

// addChannel is idempotent (spec.md §3 Lifecycle / §8 round-trip law) and
// must only be called from the actor goroutine or before Start launches
// it.
func (m *Manager) addChannel(uri string) {
	if _, ok := m.channels[uri]; ok {
		return
	}
	m.channels[uri] = NewChannel(uri)
	m.logger.Info().Str("channel", uri).Msg("new_channel_added")
	m.scheduleNextPoll(uri, 0)
}

func (m *Manager) scheduleNextPoll(uri string, wait time.Duration) {
	if t, ok := m.timers[uri]; ok {
		t.Stop()
	}
	m.timers[uri] = time.AfterFunc(wait, func() {
		select {
		case m.commands <- startPollCmd{uri: uri}:
		case <-m.quit:
		}
	})
}

func (m *Manager) startPoll(ctx context.Context, uri string) {
	if m.inFlight[uri] {
		return // invariant #3: at most one in-flight poll per channel
	}
	ch, ok := m.channels[uri]
	if !ok {
		return
	}
	m.inFlight[uri] = true
	snap := ch.Snapshot()
	deps := PollDeps{Fetcher: m.fetcher, Logger: m.logger}
	m.logger.Debug().Str("channel", uri).Msg("checking")

	go func() {
		fetchCtx := ctx
		if m.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, m.fetchTimeout)
			defer cancel()
		}
		delta, err := runPoll(fetchCtx, snap, deps)
		if err != nil {
			select {
			case m.commands <- pollErrorCmd{uri: uri, err: err}:
			case <-m.quit:
			}
			return
		}
		select {
		case m.commands <- pollDoneCmd{delta: delta}:
		case <-m.quit:
		}
	}()
}

func (m *Manager) commitPoll(delta Delta) {
	ch, ok := m.channels[delta.URI]
	if !ok {
		return
	}
	now := time.Now()
	ch.Apply(now, delta)
	m.inFlight[delta.URI] = false
	m.logger.Debug().Str("channel", delta.URI).Dur("elapsed", delta.Elapsed).Msg("check_done")

	wait, hitFloor := Reschedule(ch.Precision, delta.Elapsed, m.extendPct)
	if hitFloor {
		m.logger.Warn().Str("channel", delta.URI).Msg("check_delay")
	}
	m.scheduleNextPoll(delta.URI, wait)

	if m.onCommit != nil {
		select {
		case m.onCommit <- delta.URI:
		default:
		}
	}
}

func (m *Manager) failPoll(uri string, err error) {
	m.inFlight[uri] = false
	m.logger.Warn().Str("channel", uri).Err(err).Msg("check_error")

	ch, ok := m.channels[uri]
	wait := ErrorCheckInterval
	if ok && ch.HasLastCheck {
		wait = time.Duration(ch.Precision) * time.Second
	}
	m.scheduleNextPoll(uri, wait)
}

func (m *Manager) gc() {
	now := time.Now()
	m.logger.Info().Msg("garbage_collection")
	for uri, ch := range m.channels {
		if !ch.HasLastCheck {
			m.logger.Info().Str("channel", uri).Msg("no_lifetime")
			continue
		}
		cutoff := now.Add(-time.Duration(ch.Lifetime) * time.Second).Unix()
		for k, v := range ch.Events {
			if v < cutoff {
				delete(ch.Events, k)
				m.logger.Debug().Str("channel", uri).Str("event", k).Msg("gc_event")
			}
		}
	}
}

func (m *Manager) shutdownLocked() {
	for _, t := range m.timers {
		t.Stop()
	}
	uris := make([]string, 0, len(m.channels))
	for uri := range m.channels {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	if err := m.persist.Save(uris); err != nil {
		m.logger.Error().Err(err).Msg("db_write_error")
	}
}

// Decide answers one proxy query, serialized through the actor loop.
func (m *Manager) Decide(q decision.Query, now time.Time) decision.Result {
	reply := make(chan decision.Result, 1)
	select {
	case m.commands <- queryCmd{query: q, now: now, reply: reply}:
	case <-m.quit:
		return decision.Result{Verdict: decision.Stale, Reason: "shutting_down"}
	}
	return <-reply
}

// Shutdown stops the scheduler, persists the channel-URI set, and waits
// for the actor loop to exit.
func (m *Manager) Shutdown() {
	close(m.quit)
	reply := make(chan struct{})
	select {
	case m.commands <- shutdownCmd{reply: reply}:
		select {
		case <-reply:
		case <-m.done:
			// the actor loop already exited via ctx cancellation
		}
	case <-m.done:
		// the actor loop already exited via ctx cancellation
	}
	<-m.done
}

// SetFetchTimeout bounds each poll's fetch calls. Zero means no bound
// beyond the Fetcher's own configuration.
func (m *Manager) SetFetchTimeout(d time.Duration) { m.fetchTimeout = d }
