package rib

import (
	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/radix"
	"github.com/transitorykris/exard/route"
)

// Diff computes the journal events that take a neighbor's previously
// streamed route set (have) to a newly configured one (want). Per
// spec.md section 4.7, "producers of the new set are responsible for
// emitting the withdraw-then-announce pairs that take the stored set to
// the desired set" — Diff is that producer. It always emits every
// withdraw before any announce, satisfying the withdraw-before-announce
// invariant even when a prefix is both withdrawn (old attributes) and
// re-announced (new attributes) in the same reload.
//
// have and want are indexed by route.Key (family + prefix) in a
// radix.Index per family, so a /24 and a /25 of the same base address
// are distinct entries rather than colliding under longest-prefix-match.
func Diff(have, want []route.Route) []Event {
	haveIdx := indexRoutes(have)
	wantIdx := indexRoutes(want)

	var withdraws, announces []Event
	for _, hr := range have {
		k := radixKey(hr)
		wv, ok := indexFor(wantIdx, hr.Family).Lookup(k)
		if !ok {
			withdraws = append(withdraws, Event{Op: Withdraw, Route: hr})
			continue
		}
		wr := wv.(route.Route)
		if !routesEqual(hr, wr) {
			withdraws = append(withdraws, Event{Op: Withdraw, Route: hr})
		}
	}
	for _, wr := range want {
		k := radixKey(wr)
		hv, ok := indexFor(haveIdx, wr.Family).Lookup(k)
		if !ok || !routesEqual(hv.(route.Route), wr) {
			announces = append(announces, Event{Op: Announce, Route: wr})
		}
	}

	events := make([]Event, 0, len(withdraws)+len(announces))
	events = append(events, withdraws...)
	events = append(events, announces...)
	return events
}

func indexRoutes(routes []route.Route) map[message.AFISAFI]*radix.Index {
	byFamily := map[message.AFISAFI]*radix.Index{}
	for _, r := range routes {
		idx, ok := byFamily[r.Family]
		if !ok {
			idx = radix.New()
			byFamily[r.Family] = idx
		}
		idx.Insert(radixKey(r), r)
	}
	return byFamily
}

// indexFor returns the index for family, or a shared empty one if the
// family never appeared on that side of the diff at all.
func indexFor(byFamily map[message.AFISAFI]*radix.Index, family message.AFISAFI) *radix.Index {
	if idx, ok := byFamily[family]; ok {
		return idx
	}
	return radix.New()
}

func radixKey(r route.Route) radix.Key {
	ip := r.Prefix.IP.To4()
	if ip == nil {
		ip = r.Prefix.IP.To16()
	}
	return radix.Key{Prefix: ip, Length: r.Prefix.Length}
}

// routesEqual compares every attribute that affects the wire encoding;
// two routes with the same key but different next-hop/AS-path/etc. are
// a withdraw-then-announce, not a no-op.
func routesEqual(a, b route.Route) bool {
	if !a.NextHop.Equal(b.NextHop) || a.Origin != b.Origin {
		return false
	}
	if a.HasMED != b.HasMED || a.MED != b.MED || a.LocalPref != b.LocalPref {
		return false
	}
	if a.Watchdog != b.Watchdog {
		return false
	}
	if len(a.ASPath) != len(b.ASPath) {
		return false
	}
	for i := range a.ASPath {
		if a.ASPath[i] != b.ASPath[i] {
			return false
		}
	}
	return true
}
