// Package channel implements the invalidation-index half of the
// coordinator: the Channel data model, the per-channel poll cycle
// (ChannelPoller), and the registry/scheduler that owns all of it
// (ChannelManager).
package channel

import "time"

// DefaultPrecision is used when a feed omits cc:precision.
const DefaultPrecision = 60

// DefaultLifetime is used when a feed omits cc:lifetime.
const DefaultLifetime = 604800

// MinCheckTime is the floor on the reschedule interval (spec.md §4.4.2).
const MinCheckTime = 5 * time.Second

// ErrorCheckInterval is used to reschedule a channel whose precision is
// not yet known and whose poll just failed.
const ErrorCheckInterval = 30 * time.Second

// Channel is a monitored invalidation feed. It is mutated only by the
// ChannelManager's actor goroutine (on poll completion and GC), matching
// spec.md §3's "single owner" lifecycle — no field here is ever touched
// from two goroutines at once, so no mutex is needed.
type Channel struct {
	URI             string
	Precision       int // seconds
	Lifetime        int // seconds
	Events          map[string]int64
	HasLastCheck    bool
	LastCheck       time.Time
	LastCheckElapsed time.Duration
	LastArchiveSeen string
}

// NewChannel returns a freshly registered Channel with default precision
// and lifetime, awaiting its first poll.
func NewChannel(uri string) *Channel {
	return &Channel{
		URI:       uri,
		Precision: DefaultPrecision,
		Lifetime:  DefaultLifetime,
		Events:    map[string]int64{},
	}
}

// Snapshot is the immutable, point-in-time view of a Channel handed to a
// poller (to start a poll) and to the decision engine (to answer a query).
// It is never mutated by its recipient.
type Snapshot struct {
	URI             string
	Precision       int
	Lifetime        int
	Events          map[string]int64
	HasLastCheck    bool
	LastCheck       time.Time
	LastArchiveSeen string
}

// Snapshot copies out a read-only view of c.
func (c *Channel) Snapshot() Snapshot {
	events := make(map[string]int64, len(c.Events))
	for k, v := range c.Events {
		events[k] = v
	}
	return Snapshot{
		URI:             c.URI,
		Precision:       c.Precision,
		Lifetime:        c.Lifetime,
		Events:          events,
		HasLastCheck:    c.HasLastCheck,
		LastCheck:       c.LastCheck,
		LastArchiveSeen: c.LastArchiveSeen,
	}
}

// Delta is what a completed poll hands back to the manager for atomic
// commit (spec.md §9 Design Notes). It carries a full replacement event
// map (already merged against the snapshot the poll started from) rather
// than a patch, so commit is a single assignment.
type Delta struct {
	URI              string
	Precision        int
	Lifetime         int
	Events           map[string]int64
	HasNewArchiveSeen bool
	NewArchiveSeen   string
	Elapsed          time.Duration
}

// Apply commits delta onto c. Called only from the manager's actor
// goroutine.
func (c *Channel) Apply(now time.Time, d Delta) {
	c.Precision = d.Precision
	c.Lifetime = d.Lifetime
	c.Events = d.Events
	if d.HasNewArchiveSeen {
		c.LastArchiveSeen = d.NewArchiveSeen
	}
	c.HasLastCheck = true
	c.LastCheck = now
	c.LastCheckElapsed = d.Elapsed
}

// Reschedule computes the next poll delay per spec.md §4.4.2:
//
//	wait = max((P - E) * (1 - X), MIN_CHECK_TIME)
//
// extendPct is the configured extend_pct (0-100). hitFloor reports whether
// the floor was the binding constraint, which callers should log as
// check_delay.
func Reschedule(precision int, elapsed time.Duration, extendPct int) (wait time.Duration, hitFloor bool) {
	x := float64(extendPct) / 100.0
	p := float64(precision) * float64(time.Second)
	raw := (p - float64(elapsed)) * (1 - x)
	wait = time.Duration(raw)
	if wait <= MinCheckTime {
		wait = MinCheckTime
		hitFloor = true
	}
	return wait, hitFloor
}
