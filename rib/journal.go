package rib

import (
	"github.com/transitorykris/exard/route"
)

// Op is one journal event's operation.
type Op rune

const (
	Withdraw   Op = '-'
	Announce   Op = '+'
	Checkpoint Op = '∅'
)

func (o Op) String() string {
	switch o {
	case Withdraw:
		return "withdraw"
	case Announce:
		return "announce"
	case Checkpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Event is one entry in a Journal.
type Event struct {
	Op    Op
	Route route.Route
}

// Journal is an append-only, in-memory event log for one neighbor.
// Protocol holds a cursor (an int, the count of events consumed) and
// calls Since to resume exactly where it left off after yielding.
type Journal struct {
	events []Event
}

// New returns an empty Journal.
func New() *Journal {
	return &Journal{}
}

// Append adds one event. Withdraw-before-announce ordering for the same
// prefix is the caller's responsibility (Diff guarantees it); Append
// itself never reorders.
func (j *Journal) Append(op Op, r route.Route) {
	j.events = append(j.events, Event{Op: op, Route: r})
}

// AppendAll appends a batch of events in order, as produced by Diff.
func (j *Journal) AppendAll(events []Event) {
	j.events = append(j.events, events...)
}

// Len reports the total number of events ever appended — the cursor
// value a freshly subscribed consumer should start from to see only
// future events.
func (j *Journal) Len() int {
	return len(j.events)
}

// Since returns every event strictly after cursor, plus the cursor value
// the caller should use on its next call once it has consumed the
// returned events. A caller that cannot process everything returned
// should retain the old cursor and call Since again later; Since never
// returns a partial event.
func (j *Journal) Since(cursor int) ([]Event, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(j.events) {
		return nil, len(j.events)
	}
	return j.events[cursor:], len(j.events)
}

// Reset drops all journaled events, used when a Peer opens a new
// connection so the new session streams the full RIB from scratch.
func (j *Journal) Reset() {
	j.events = nil
}
