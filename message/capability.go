package message

import (
	"bytes"
	"fmt"
	"time"

	"github.com/transitorykris/exard/stream"
)

// Capability wire codes, RFC 5492 and friends.
const (
	CapMultiprotocol  = 1  // RFC 2858 / RFC 4760 MP-BGP
	CapRouteRefresh   = 2  // RFC 2918
	CapGracefulReset  = 64 // RFC 4724
	CapFourOctetASN   = 65 // RFC 4893 / RFC 6793
	CapMultisession   = 68 // pragmatic multisession extension
	CapAddPath        = 69 // RFC 7911
)

// AFISAFI identifies an address family: an AFI/SAFI pair. (AFI=1,
// SAFI=1) is IPv4 unicast; (AFI=2, SAFI=1) is IPv6 unicast.
type AFISAFI struct {
	AFI  uint16
	SAFI byte
}

func (a AFISAFI) String() string {
	return fmt.Sprintf("afi=%d/safi=%d", a.AFI, a.SAFI)
}

// IPv4Unicast and IPv6Unicast are the two families this daemon's route
// model understands.
var (
	IPv4Unicast = AFISAFI{AFI: 1, SAFI: 1}
	IPv6Unicast = AFISAFI{AFI: 2, SAFI: 1}
)

// AddPathDirection records which end of the session is allowed to send
// multiple paths per prefix for a negotiated family.
type AddPathDirection byte

const (
	AddPathNone     AddPathDirection = 0
	AddPathReceive  AddPathDirection = 1
	AddPathSend     AddPathDirection = 2
	AddPathSendRecv AddPathDirection = 3
)

// GracefulRestartValue is the structured value of a Graceful Restart
// capability (RFC 4724): a restart-state flag, the advertised restart
// time, and the families for which forwarding state is preserved.
type GracefulRestartValue struct {
	RestartState bool
	RestartTime  uint16
	Families     []AFISAFI
}

// Capability is a single negotiated or advertised capability. Only the
// field(s) relevant to Code are meaningful; this mirrors the "typed
// representation keyed by capability code" the route table's Neighbor
// wishlist is built from.
type Capability struct {
	Code CapabilityCode

	// CapMultiprotocol / CapMultisession
	Families []AFISAFI

	// CapFourOctetASN
	ASN uint32

	// CapGracefulReset
	GracefulRestart GracefulRestartValue

	// CapAddPath
	AddPath []AddPathFamily
}

// CapabilityCode is the 1-octet capability code.
type CapabilityCode byte

// AddPathFamily is one entry of an ADD-PATH capability value.
type AddPathFamily struct {
	Family    AFISAFI
	Direction AddPathDirection
}

// EncodeCapabilities serializes a capability set as the value octets of
// the OPEN message's type-2 optional parameter. RFC 2858 requires one
// capability instance per AFI/SAFI for Multiprotocol, so a Capability
// entry whose Families holds more than one family (the folded
// representation DecodeCapabilities and Negotiate work with) expands
// back into one TLV per family here.
func EncodeCapabilities(caps []Capability) []byte {
	var body bytes.Buffer
	for _, c := range caps {
		if c.Code == CapMultiprotocol && len(c.Families) > 1 {
			for _, f := range c.Families {
				value := encodeCapabilityValue(Capability{Code: c.Code, Families: []AFISAFI{f}})
				body.WriteByte(byte(c.Code))
				body.WriteByte(byte(len(value)))
				body.Write(value)
			}
			continue
		}
		value := encodeCapabilityValue(c)
		body.WriteByte(byte(c.Code))
		body.WriteByte(byte(len(value)))
		body.Write(value)
	}
	return wrapCapabilityParameter(body.Bytes())
}

func encodeCapabilityValue(c Capability) []byte {
	var buf bytes.Buffer
	switch c.Code {
	case CapMultiprotocol:
		if len(c.Families) > 0 {
			f := c.Families[0]
			stream.PutUint16(&buf, f.AFI)
			buf.WriteByte(0) // reserved
			buf.WriteByte(f.SAFI)
		}
	case CapFourOctetASN:
		stream.PutUint32(&buf, c.ASN)
	case CapMultisession:
		for _, f := range c.Families {
			stream.PutUint16(&buf, f.AFI)
			buf.WriteByte(0)
			buf.WriteByte(f.SAFI)
		}
	case CapGracefulReset:
		var flags uint16
		if c.GracefulRestart.RestartState {
			flags |= 0x8000
		}
		flags |= c.GracefulRestart.RestartTime & 0x0FFF
		stream.PutUint16(&buf, flags)
		for _, f := range c.GracefulRestart.Families {
			stream.PutUint16(&buf, f.AFI)
			buf.WriteByte(f.SAFI)
			buf.WriteByte(0x80) // forwarding state preserved
		}
	case CapAddPath:
		for _, a := range c.AddPath {
			stream.PutUint16(&buf, a.Family.AFI)
			buf.WriteByte(a.Family.SAFI)
			buf.WriteByte(byte(a.Direction))
		}
	case CapRouteRefresh:
		// Empty value.
	}
	return buf.Bytes()
}

// DecodeCapabilities parses the concatenated TLV stream carried by every
// type-2 optional parameter in an OPEN message. Since RFC 2858 repeats
// the Multiprotocol capability once per family, all instances of the
// same code are folded together: every Multiprotocol/Multisession
// TLV contributes its family to a single Capability entry for that code.
func DecodeCapabilities(params []byte) ([]Capability, error) {
	raw, err := decodeParameters(params)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(raw)
	byCode := map[CapabilityCode]*Capability{}
	var order []CapabilityCode
	for buf.Len() > 0 {
		codeByte, err := stream.ReadByte(buf)
		if err != nil {
			return nil, err
		}
		length, err := stream.ReadByte(buf)
		if err != nil {
			return nil, err
		}
		value, err := stream.ReadBytes(int(length), buf)
		if err != nil {
			return nil, err
		}
		code := CapabilityCode(codeByte)
		c, ok := byCode[code]
		if !ok {
			c = &Capability{Code: code}
			byCode[code] = c
			order = append(order, code)
		}
		if err := decodeCapabilityValue(c, value); err != nil {
			return nil, err
		}
	}
	out := make([]Capability, 0, len(order))
	for _, code := range order {
		out = append(out, *byCode[code])
	}
	return out, nil
}

func decodeCapabilityValue(c *Capability, value []byte) error {
	buf := bytes.NewBuffer(value)
	switch c.Code {
	case CapMultiprotocol, CapMultisession:
		for buf.Len() > 0 {
			afi, err := stream.ReadUint16(buf)
			if err != nil {
				return err
			}
			if _, err := stream.ReadByte(buf); err != nil { // reserved
				return err
			}
			safi, err := stream.ReadByte(buf)
			if err != nil {
				return err
			}
			c.Families = append(c.Families, AFISAFI{AFI: afi, SAFI: safi})
		}
	case CapFourOctetASN:
		asn, err := stream.ReadUint32(buf)
		if err != nil {
			return err
		}
		c.ASN = asn
	case CapGracefulReset:
		flags, err := stream.ReadUint16(buf)
		if err != nil {
			return err
		}
		c.GracefulRestart.RestartState = flags&0x8000 != 0
		c.GracefulRestart.RestartTime = flags & 0x0FFF
		for buf.Len() >= 4 {
			afi, err := stream.ReadUint16(buf)
			if err != nil {
				return err
			}
			safi, err := stream.ReadByte(buf)
			if err != nil {
				return err
			}
			if _, err := stream.ReadByte(buf); err != nil { // flags
				return err
			}
			c.GracefulRestart.Families = append(c.GracefulRestart.Families, AFISAFI{AFI: afi, SAFI: safi})
		}
	case CapAddPath:
		for buf.Len() >= 4 {
			afi, err := stream.ReadUint16(buf)
			if err != nil {
				return err
			}
			safi, err := stream.ReadByte(buf)
			if err != nil {
				return err
			}
			dir, err := stream.ReadByte(buf)
			if err != nil {
				return err
			}
			c.AddPath = append(c.AddPath, AddPathFamily{Family: AFISAFI{AFI: afi, SAFI: safi}, Direction: AddPathDirection(dir)})
		}
	case CapRouteRefresh:
		// no value
	}
	return nil
}

// NegotiatedView is the outcome of comparing the local capability
// wishlist against the peer's decoded OPEN capabilities.
type NegotiatedView struct {
	ASN4            bool
	Families        []AFISAFI
	AddPath         map[AFISAFI]AddPathDirection
	GracefulRestart bool
	HoldTime        time.Duration
}

func hasCapability(caps []Capability, code CapabilityCode) (Capability, bool) {
	for _, c := range caps {
		if c.Code == code {
			return c, true
		}
	}
	return Capability{}, false
}

func intersectFamilies(a, b []AFISAFI) []AFISAFI {
	var out []AFISAFI
	for _, x := range a {
		for _, y := range b {
			if x == y {
				out = append(out, x)
				break
			}
		}
	}
	return out
}

func equalFamilySets(a, b []AFISAFI) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[AFISAFI]bool{}
	for _, f := range a {
		seen[f] = true
	}
	for _, f := range b {
		if !seen[f] {
			return false
		}
	}
	return true
}

// Negotiate applies the rules in spec.md section 4.2 to the local
// capability wishlist and the peer's decoded OPEN. It returns the
// resulting view, or a non-nil NotificationMessage describing why
// negotiation failed (in which case the session must be torn down
// without consulting the returned view).
func Negotiate(local []Capability, localHold time.Duration, localASN uint32, peer []Capability, peerHold time.Duration) (NegotiatedView, *NotificationMessage) {
	view := NegotiatedView{AddPath: map[AFISAFI]AddPathDirection{}}

	// 4-byte ASN: negotiated only if both sides advertised it. If local
	// advertised it and the peer did not, and the local ASN does not fit
	// in 16 bits, the caller (Protocol) raises NOTIFICATION(2,0) and the
	// Peer downgrades to 2-byte mode on the next connect attempt — that
	// is session-establishment policy, not something Negotiate itself
	// can resolve, since sending the NOTIFICATION happens *during* OPEN
	// exchange while this function only runs once both OPENs are in
	// hand. Negotiate still reports whether both sides spoke it.
	_, localASN4 := hasCapability(local, CapFourOctetASN)
	_, peerASN4 := hasCapability(peer, CapFourOctetASN)
	view.ASN4 = localASN4 && peerASN4

	// MP-BGP families: intersection of announced AFI/SAFI sets.
	localMP, _ := hasCapability(local, CapMultiprotocol)
	peerMP, hasPeerMP := hasCapability(peer, CapMultiprotocol)
	if len(localMP.Families) > 0 {
		if !hasPeerMP {
			return NegotiatedView{}, NewNotification(OpenMessageError, UnsupportedCapability, nil)
		}
		families := intersectFamilies(localMP.Families, peerMP.Families)
		if len(families) == 0 {
			return NegotiatedView{}, NewNotification(OpenMessageError, UnsupportedCapability, nil)
		}
		view.Families = families
	} else {
		view.Families = []AFISAFI{IPv4Unicast}
	}

	// Multisession: an empty identifier means {IPv4/unicast}; both
	// session-identifier sets must be equal.
	localMS, wantMS := hasCapability(local, CapMultisession)
	peerMS, hasPeerMS := hasCapability(peer, CapMultisession)
	if wantMS {
		if !hasPeerMS {
			return NegotiatedView{}, NewNotification(OpenMessageError, UnsupportedCapability, nil)
		}
		localID := localMS.Families
		if len(localID) == 0 {
			localID = []AFISAFI{IPv4Unicast}
		}
		peerID := peerMS.Families
		if len(peerID) == 0 {
			peerID = []AFISAFI{IPv4Unicast}
		}
		if !equalFamilySets(localID, peerID) {
			return NegotiatedView{}, NewNotification(OpenMessageError, NoCommonSessionID,
				[]byte("peer did not reply with the sessionid we sent"))
		}
	}

	// ADD-PATH: record the negotiated direction per family (the
	// intersection of what each side proposed is inverted relative to
	// itself — a sender's "I can send" must be met by a receiver's "I
	// can receive", so direction bits are ANDed after swapping send/recv
	// on one side).
	localAP, _ := hasCapability(local, CapAddPath)
	peerAP, _ := hasCapability(peer, CapAddPath)
	peerByFamily := map[AFISAFI]AddPathDirection{}
	for _, a := range peerAP.AddPath {
		peerByFamily[a.Family] = a.Direction
	}
	for _, a := range localAP.AddPath {
		pd, ok := peerByFamily[a.Family]
		if !ok {
			continue
		}
		var dir AddPathDirection
		if a.Direction&AddPathSend != 0 && pd&AddPathReceive != 0 {
			dir |= AddPathSend
		}
		if a.Direction&AddPathReceive != 0 && pd&AddPathSend != 0 {
			dir |= AddPathReceive
		}
		if dir != AddPathNone {
			view.AddPath[a.Family] = dir
		}
	}

	// Graceful restart: agreed only if both sides advertised it.
	_, localGR := hasCapability(local, CapGracefulReset)
	_, peerGR := hasCapability(peer, CapGracefulReset)
	view.GracefulRestart = localGR && peerGR

	// Hold time: effective = min(local, peer). {1,2} seconds is illegal;
	// 0 disables keepalive/hold-timer checks entirely.
	effective := localHold
	if peerHold < effective {
		effective = peerHold
	}
	if effective == 1*time.Second || effective == 2*time.Second {
		return NegotiatedView{}, NewNotification(OpenMessageError, UnacceptableHoldTime, nil)
	}
	view.HoldTime = effective

	return view, nil
}
