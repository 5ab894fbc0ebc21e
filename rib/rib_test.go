package rib

import (
	"net"
	"testing"

	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/route"
)

func prefixRoute(cidr string, length int) route.Route {
	return route.Route{
		Family: message.IPv4Unicast,
		Prefix: message.Prefix{Length: length, IP: net.ParseIP(cidr)},
	}
}

func TestJournalSinceResumesFromCursor(t *testing.T) {
	j := New()
	j.Append(Announce, prefixRoute("10.0.0.0", 24))
	j.Append(Announce, prefixRoute("10.0.1.0", 24))

	events, cursor := j.Since(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if cursor != 2 {
		t.Fatalf("expected cursor 2, got %d", cursor)
	}

	j.Append(Announce, prefixRoute("10.0.2.0", 24))
	events, cursor = j.Since(cursor)
	if len(events) != 1 {
		t.Fatalf("expected 1 new event, got %d", len(events))
	}
	if cursor != 3 {
		t.Fatalf("expected cursor 3, got %d", cursor)
	}
}

func TestJournalSinceAtEndReturnsNothing(t *testing.T) {
	j := New()
	j.Append(Announce, prefixRoute("10.0.0.0", 24))
	events, cursor := j.Since(1)
	if events != nil {
		t.Errorf("expected no events past the end, got %v", events)
	}
	if cursor != 1 {
		t.Errorf("expected cursor unchanged at 1, got %d", cursor)
	}
}

func TestDiffNewRouteIsAnnounced(t *testing.T) {
	want := []route.Route{prefixRoute("10.0.0.0", 24)}
	events := Diff(nil, want)
	if len(events) != 1 || events[0].Op != Announce {
		t.Fatalf("expected a single announce, got %+v", events)
	}
}

func TestDiffRemovedRouteIsWithdrawn(t *testing.T) {
	have := []route.Route{prefixRoute("10.0.0.0", 24)}
	events := Diff(have, nil)
	if len(events) != 1 || events[0].Op != Withdraw {
		t.Fatalf("expected a single withdraw, got %+v", events)
	}
}

func TestDiffUnchangedRouteProducesNoEvent(t *testing.T) {
	r := prefixRoute("10.0.0.0", 24)
	events := Diff([]route.Route{r}, []route.Route{r})
	if len(events) != 0 {
		t.Errorf("expected no events for an unchanged route set, got %+v", events)
	}
}

func TestDiffChangedAttributeWithdrawsBeforeAnnouncing(t *testing.T) {
	old := prefixRoute("10.0.0.0", 24)
	old.NextHop = net.ParseIP("192.0.2.1")
	updated := prefixRoute("10.0.0.0", 24)
	updated.NextHop = net.ParseIP("192.0.2.2")

	events := Diff([]route.Route{old}, []route.Route{updated})
	if len(events) != 2 {
		t.Fatalf("expected a withdraw+announce pair, got %+v", events)
	}
	if events[0].Op != Withdraw || events[1].Op != Announce {
		t.Errorf("expected withdraw before announce, got %v then %v", events[0].Op, events[1].Op)
	}
}

func TestDiffDistinguishesOverlappingPrefixLengths(t *testing.T) {
	have := []route.Route{prefixRoute("10.0.0.0", 24)}
	want := []route.Route{prefixRoute("10.0.0.0", 25)}
	events := Diff(have, want)
	if len(events) != 2 {
		t.Fatalf("expected /24 withdrawn and /25 announced as distinct entries, got %+v", events)
	}
}
