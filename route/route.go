// Package route holds the data model shared by the peer, protocol, and
// rib packages: the configured Neighbor and the Route entries it
// carries. Everything here is a plain value type; the configuration
// loader (out of scope) constructs Neighbor/Route values and hands them
// to supervisor.RequestReload.
package route

import (
	"fmt"
	"net"
	"time"

	"github.com/transitorykris/exard/message"
)

// DefaultHoldTime is the hold-time a Neighbor gets when none is
// configured, RFC 4271's recommended value.
const DefaultHoldTime = 180 * time.Second

// DefaultPort is the IANA-assigned BGP port, used when a Neighbor
// doesn't carry an explicit one (out of scope for this package today —
// every peer dials it).
const DefaultPort = 179

// Neighbor is the identity and policy of a single peering.
type Neighbor struct {
	LocalAddr  net.IP
	PeerAddr   net.IP
	LocalASN   uint32
	PeerASN    uint32
	RouterID   uint32
	HoldTime   time.Duration
	Capabilities    []message.Capability
	GracefulRestart bool
	ReceiveUpdates  bool

	Routes   []Route
	Watchdog map[string]bool
}

// Equal reports whether two neighbors have the same identity and policy,
// ignoring their route sets (spec.md section 3: "Equality is structural
// over identity fields excluding the route set"). Reload uses this to
// decide whether a changed neighbor definition warrants a session
// restart or just a route re-stream.
func (n Neighbor) Equal(other Neighbor) bool {
	if !n.LocalAddr.Equal(other.LocalAddr) || !n.PeerAddr.Equal(other.PeerAddr) {
		return false
	}
	if n.LocalASN != other.LocalASN || n.PeerASN != other.PeerASN {
		return false
	}
	if n.RouterID != other.RouterID || n.HoldTime != other.HoldTime {
		return false
	}
	if n.GracefulRestart != other.GracefulRestart || n.ReceiveUpdates != other.ReceiveUpdates {
		return false
	}
	return equalCapabilitySets(n.Capabilities, other.Capabilities)
}

func equalCapabilitySets(a, b []message.Capability) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Code != b[i].Code || a[i].ASN != b[i].ASN {
			return false
		}
		if len(a[i].Families) != len(b[i].Families) {
			return false
		}
		for j := range a[i].Families {
			if a[i].Families[j] != b[i].Families[j] {
				return false
			}
		}
	}
	return true
}

// Route is a single routing entry: a prefix reachable via next-hop, with
// the attributes that describe how to prefer and propagate it.
type Route struct {
	Family   message.AFISAFI
	Prefix   message.Prefix
	NextHop  net.IP
	ASPath   []uint32
	Origin   byte
	MED      uint32
	HasMED   bool
	LocalPref uint32
	Watchdog string
}

// Key identifies a route for RIB diffing purposes: family + prefix,
// ignoring every other attribute (two routes with the same key replace
// each other in a neighbor's desired set, same as Adj-RIB-Out).
type Key struct {
	Family message.AFISAFI
	Prefix message.Prefix
}

func (r Route) Key() Key {
	return Key{Family: r.Family, Prefix: r.Prefix}
}

// NLRIBytes returns the on-wire NLRI encoding for this route's prefix:
// the trailing reachable-NLRI region of an UPDATE for IPv4, or the NLRI
// list inside an MP_REACH_NLRI/MP_UNREACH_NLRI attribute for any other
// family.
func (r Route) NLRIBytes() []byte {
	return append([]byte{byte(r.Prefix.Length)}, packedPrefix(r.Prefix)...)
}

func packedPrefix(p message.Prefix) []byte {
	octets := (p.Length + 7) / 8
	full := p.IP.To4()
	if full == nil {
		full = p.IP.To16()
	}
	if octets > len(full) {
		octets = len(full)
	}
	return full[:octets]
}

// PathAttributeBytes returns the on-wire path-attribute block describing
// this route, in the context of a session negotiated between localASN
// and remoteASN. When asn4 is false, AS_PATH is packed 2-octet with any
// ASN over 0xFFFF folded to AS_TRANS, and an AS4_PATH attribute carries
// the untranslated path alongside it (RFC 6793 section 4.2). localASN
// and remoteASN are accepted for parity with the OPEN-side AS_TRANS
// decision in protocol.Session and future AGGREGATOR/AS4_AGGREGATOR
// support; neither is needed by the encoding above.
func (r Route) PathAttributeBytes(localASN, remoteASN uint32, asn4 bool) []byte {
	var out []byte
	out = append(out, encodeOrigin(r.Origin)...)
	out = append(out, encodeASPath(r.ASPath, asn4)...)
	if !asn4 {
		if as4path := encodeAS4Path(r.ASPath); as4path != nil {
			out = append(out, as4path...)
		}
	}
	if r.Family == message.IPv4Unicast {
		out = append(out, encodeNextHop(r.NextHop)...)
	}
	if r.HasMED {
		out = append(out, encodeMED(r.MED)...)
	}
	out = append(out, encodeLocalPref(r.LocalPref)...)
	return out
}

func (n Neighbor) String() string {
	return n.PeerAddr.String()
}

// Line renders the route as "<prefix>/<length> next-hop <addr>", the
// form the supervisor uses in helper command replies and "show routes"
// output. Routes received from a peer are reported on the
// neighbor-update feed by the peer package in their own format, not
// through Line.
func (r Route) Line() string {
	nh := "none"
	if r.NextHop != nil {
		nh = r.NextHop.String()
	}
	return fmt.Sprintf("%s/%d next-hop %s", r.Prefix.IP.String(), r.Prefix.Length, nh)
}
