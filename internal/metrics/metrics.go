// Package metrics counts server events. Recording never blocks the caller.
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Event is a countable server occurrence.
type Event int

const (
	EventConnect Event = iota
	EventReject
	EventLogin
	EventDisconnect
	EventGameCreated
	EventGameStarted
	EventGameEnded
	EventRelay
	EventLobbyMessage
	EventWhisper
	EventCommand
	EventProtocolError
	EventDiffBroadcast
	numEvents
)

var eventNames = [numEvents]string{
	EventConnect:       "connects",
	EventReject:        "rejects",
	EventLogin:         "logins",
	EventDisconnect:    "disconnects",
	EventGameCreated:   "games_created",
	EventGameStarted:   "games_started",
	EventGameEnded:     "games_ended",
	EventRelay:         "relayed",
	EventLobbyMessage:  "lobby_messages",
	EventWhisper:       "whispers",
	EventCommand:       "commands",
	EventProtocolError: "protocol_errors",
	EventDiffBroadcast: "diff_broadcasts",
}

func (e Event) String() string {
	if e < 0 || e >= numEvents {
		return "unknown"
	}
	return eventNames[e]
}

// Sink receives events fire-and-forget.
type Sink interface {
	Record(Event)
}

// Metrics is a Sink backed by atomic counters.
type Metrics struct {
	started  time.Time
	counters [numEvents]atomic.Uint64
}

// New creates an empty counter set.
func New() *Metrics {
	return &Metrics{started: time.Now()}
}

// Record increments the counter for e.
func (m *Metrics) Record(e Event) {
	if e < 0 || e >= numEvents {
		return
	}
	m.counters[e].Add(1)
}

// Count returns the current value of one counter.
func (m *Metrics) Count(e Event) uint64 {
	if e < 0 || e >= numEvents {
		return 0
	}
	return m.counters[e].Load()
}

// Snapshot copies every counter keyed by name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, numEvents)
	for e := Event(0); e < numEvents; e++ {
		out[e.String()] = m.counters[e].Load()
	}
	return out
}

// Uptime returns the time since the counters were created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.started)
}

// String renders the counters one per line, in declaration order.
func (m *Metrics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s", m.Uptime().Truncate(time.Second))
	for e := Event(0); e < numEvents; e++ {
		fmt.Fprintf(&b, "\n%s: %d", e, m.counters[e].Load())
	}
	return b.String()
}

// Nop discards every event.
type Nop struct{}

// Record implements Sink.
func (Nop) Record(Event) {}
