package message

import (
	"bytes"
	"fmt"
	"net"

	"github.com/transitorykris/exard/stream"
)

// 4.3.  UPDATE Message Format
//
//    UPDATE messages are used to transfer routing information between
//    BGP peers. An UPDATE message is used to advertise feasible routes
//    that share a common set of path attributes to a peer, or to
//    withdraw multiple unfeasible routes from service.
//
//       +-----------------------------------------------------+
//       |   Withdrawn Routes Length (2 octets)                 |
//       +-----------------------------------------------------+
//       |   Withdrawn Routes (variable)                        |
//       +-----------------------------------------------------+
//       |   Total Path Attribute Length (2 octets)              |
//       +-----------------------------------------------------+
//       |   Path Attributes (variable)                          |
//       +-----------------------------------------------------+
//       |   Network Layer Reachability Information (variable)  |
//       +-----------------------------------------------------+

// MinUpdateMessageLength is the minimum UPDATE body length: a 2-octet
// Withdrawn Routes Length and 2-octet Total Path Attribute Length, both
// zero, and nothing else.
const MinUpdateMessageLength = 4

// Prefix is an IP prefix as carried in NLRI and WITHDRAWN ROUTES fields:
// a bit length and the address octets truncated to that many bits and
// padded out to the next octet boundary, per RFC 4271 section 4.3.
type Prefix struct {
	Length int
	IP     net.IP
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.IP, p.Length)
}

// packPrefix truncates ip to length significant bits, padded to a whole
// octet, per the NLRI encoding rule that trailing bits beyond Length are
// unspecified.
func packPrefix(length int, ip net.IP) []byte {
	octets := (length + 7) / 8
	full := ip.To4()
	if full == nil {
		full = ip.To16()
	}
	if octets > len(full) {
		octets = len(full)
	}
	return append([]byte(nil), full[:octets]...)
}

// encodePrefix serializes one NLRI/withdrawn-routes entry as <length,
// prefix>.
func encodePrefix(p Prefix, addrLen int) []byte {
	packed := packPrefix(p.Length, p.IP)
	buf := bytes.NewBuffer(make([]byte, 0, 1+len(packed)))
	buf.WriteByte(byte(p.Length))
	buf.Write(packed)
	return buf.Bytes()
}

// decodePrefixes walks a concatenated stream of <length, prefix> entries
// until buf is exhausted. addrLen is 4 for IPv4 and 16 for IPv6; it
// bounds how many octets a too-long Length field is allowed to claim.
func decodePrefixes(buf *bytes.Buffer, addrLen int) ([]Prefix, error) {
	var out []Prefix
	for buf.Len() > 0 {
		length, err := stream.ReadByte(buf)
		if err != nil {
			return nil, &FrameError{Notification: NewNotification(
				UpdateMessageError, InvalidNetworkField, nil)}
		}
		if int(length) > addrLen*8 {
			return nil, &FrameError{Notification: NewNotification(
				UpdateMessageError, InvalidNetworkField, nil)}
		}
		octets := (int(length) + 7) / 8
		raw, err := stream.ReadBytes(octets, buf)
		if err != nil {
			return nil, &FrameError{Notification: NewNotification(
				UpdateMessageError, InvalidNetworkField, nil)}
		}
		padded := make([]byte, addrLen)
		copy(padded, raw)
		out = append(out, Prefix{Length: int(length), IP: net.IP(padded)})
	}
	return out, nil
}

// UpdateMessage is the parsed UPDATE body. NLRI and Withdrawn entries
// carry IPv4 prefixes reached via the legacy untyped NLRI fields; IPv6
// (and any non-default family) travels exclusively in
// MPReachNLRI/MPUnreachNLRI, matching the negotiated capability set.
type UpdateMessage struct {
	Withdrawn  []Prefix
	Attributes []Attribute
	NLRI       []Prefix
}

// EncodeUpdate serializes an UPDATE body. It does not enforce
// MaxMessageLength; callers building a full RIB dump are expected to
// batch prefixes into multiple UPDATEs sized to fit, since the header
// codec's EncodeHeader rejects an oversized result anyway.
func EncodeUpdate(u UpdateMessage) []byte {
	var withdrawn bytes.Buffer
	for _, p := range u.Withdrawn {
		withdrawn.Write(encodePrefix(p, 4))
	}
	var attrs bytes.Buffer
	for _, a := range u.Attributes {
		attrs.Write(encodeAttribute(a.Type, a.Value))
	}
	var nlri bytes.Buffer
	for _, p := range u.NLRI {
		nlri.Write(encodePrefix(p, 4))
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+withdrawn.Len()+attrs.Len()+nlri.Len()))
	stream.PutUint16(buf, uint16(withdrawn.Len()))
	buf.Write(withdrawn.Bytes())
	stream.PutUint16(buf, uint16(attrs.Len()))
	buf.Write(attrs.Bytes())
	buf.Write(nlri.Bytes())
	return buf.Bytes()
}

// DecodeUpdate parses an UPDATE body.
func DecodeUpdate(body []byte) (UpdateMessage, error) {
	if len(body) < MinUpdateMessageLength {
		return UpdateMessage{}, &FrameError{Notification: NewNotification(
			UpdateMessageError, MalformedAttributeList, nil)}
	}
	buf := bytes.NewBuffer(body)
	withdrawnLen, err := stream.ReadUint16(buf)
	if err != nil {
		return UpdateMessage{}, err
	}
	withdrawnBytes, err := stream.ReadBytes(int(withdrawnLen), buf)
	if err != nil {
		return UpdateMessage{}, &FrameError{Notification: NewNotification(
			UpdateMessageError, MalformedAttributeList, nil)}
	}
	withdrawn, err := decodePrefixes(bytes.NewBuffer(withdrawnBytes), 4)
	if err != nil {
		return UpdateMessage{}, err
	}

	attrLen, err := stream.ReadUint16(buf)
	if err != nil {
		return UpdateMessage{}, err
	}
	attrBytes, err := stream.ReadBytes(int(attrLen), buf)
	if err != nil {
		return UpdateMessage{}, &FrameError{Notification: NewNotification(
			UpdateMessageError, MalformedAttributeList, nil)}
	}
	attrs, err := decodeAttributes(attrBytes)
	if err != nil {
		return UpdateMessage{}, err
	}

	nlri, err := decodePrefixes(buf, 4)
	if err != nil {
		return UpdateMessage{}, err
	}

	return UpdateMessage{Withdrawn: withdrawn, Attributes: attrs, NLRI: nlri}, nil
}

// MPReachValue is the decoded value of an MP_REACH_NLRI attribute (RFC
// 4760), used to carry IPv6 (and any other non-IPv4-unicast family)
// reachability: the legacy untyped NLRI field only ever carries IPv4.
type MPReachValue struct {
	Family  AFISAFI
	NextHop net.IP
	NLRI    []Prefix
}

func addrLenFor(afi uint16) int {
	if afi == IPv6Unicast.AFI {
		return 16
	}
	return 4
}

// EncodeMPReach serializes an MP_REACH_NLRI attribute value.
func EncodeMPReach(v MPReachValue) []byte {
	nhLen := addrLenFor(v.Family.AFI)
	nh := v.NextHop
	if nh.To4() != nil && nhLen == 4 {
		nh = nh.To4()
	} else {
		nh = nh.To16()
	}
	var buf bytes.Buffer
	stream.PutUint16(&buf, v.Family.AFI)
	buf.WriteByte(v.Family.SAFI)
	buf.WriteByte(byte(len(nh)))
	buf.Write(nh)
	buf.WriteByte(0) // SNPA count, always zero
	for _, p := range v.NLRI {
		buf.Write(encodePrefix(p, nhLen))
	}
	return buf.Bytes()
}

// DecodeMPReach parses an MP_REACH_NLRI attribute value.
func DecodeMPReach(value []byte) (MPReachValue, error) {
	buf := bytes.NewBuffer(value)
	afi, err := stream.ReadUint16(buf)
	if err != nil {
		return MPReachValue{}, err
	}
	safi, err := stream.ReadByte(buf)
	if err != nil {
		return MPReachValue{}, err
	}
	nhLen, err := stream.ReadByte(buf)
	if err != nil {
		return MPReachValue{}, err
	}
	nh, err := stream.ReadBytes(int(nhLen), buf)
	if err != nil {
		return MPReachValue{}, err
	}
	snpaCount, err := stream.ReadByte(buf)
	if err != nil {
		return MPReachValue{}, err
	}
	for i := 0; i < int(snpaCount); i++ {
		l, err := stream.ReadByte(buf)
		if err != nil {
			return MPReachValue{}, err
		}
		if _, err := stream.ReadBytes(int(l), buf); err != nil {
			return MPReachValue{}, err
		}
	}
	nlri, err := decodePrefixes(buf, addrLenFor(afi))
	if err != nil {
		return MPReachValue{}, err
	}
	return MPReachValue{Family: AFISAFI{AFI: afi, SAFI: safi}, NextHop: net.IP(nh), NLRI: nlri}, nil
}

// MPUnreachValue is the decoded value of an MP_UNREACH_NLRI attribute.
type MPUnreachValue struct {
	Family AFISAFI
	NLRI   []Prefix
}

// EncodeMPUnreach serializes an MP_UNREACH_NLRI attribute value.
func EncodeMPUnreach(v MPUnreachValue) []byte {
	addrLen := addrLenFor(v.Family.AFI)
	var buf bytes.Buffer
	stream.PutUint16(&buf, v.Family.AFI)
	buf.WriteByte(v.Family.SAFI)
	for _, p := range v.NLRI {
		buf.Write(encodePrefix(p, addrLen))
	}
	return buf.Bytes()
}

// DecodeMPUnreach parses an MP_UNREACH_NLRI attribute value.
func DecodeMPUnreach(value []byte) (MPUnreachValue, error) {
	buf := bytes.NewBuffer(value)
	afi, err := stream.ReadUint16(buf)
	if err != nil {
		return MPUnreachValue{}, err
	}
	safi, err := stream.ReadByte(buf)
	if err != nil {
		return MPUnreachValue{}, err
	}
	nlri, err := decodePrefixes(buf, addrLenFor(afi))
	if err != nil {
		return MPUnreachValue{}, err
	}
	return MPUnreachValue{Family: AFISAFI{AFI: afi, SAFI: safi}, NLRI: nlri}, nil
}
