package message

import (
	"bytes"
	"fmt"

	"github.com/transitorykris/exard/stream"
)

// 4.3.  UPDATE Message Format / Path Attributes
//
//    Each path attribute is a triple <attribute type, attribute length,
//    attribute value> of variable length.
//
//       0                   1
//       0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5
//       +-+-+-+-+-+-+-+-+
//       |  Attr. Flags  |Attr. Type Code|
//       +-+-+-+-+-+-+-+-+

// AttributeFlags is the first octet of a path attribute.
type AttributeFlags byte

const (
	optional       AttributeFlags = 1 << 7
	wellKnown      AttributeFlags = 0
	transitive     AttributeFlags = 1 << 6
	nonTransitive  AttributeFlags = 0
	partial        AttributeFlags = 1 << 5
	complete       AttributeFlags = 0
	extendedLength AttributeFlags = 1 << 4
)

func (f AttributeFlags) optional() bool       { return f&optional == optional }
func (f AttributeFlags) wellKnown() bool      { return f&optional == wellKnown }
func (f AttributeFlags) transitive() bool     { return f&transitive == transitive }
func (f AttributeFlags) nonTransitive() bool  { return f&transitive == nonTransitive }
func (f AttributeFlags) partial() bool        { return f&partial == partial }
func (f AttributeFlags) complete() bool       { return f&partial == complete }
func (f AttributeFlags) extendedLength() bool { return f&extendedLength == extendedLength }

// AttributeType is a well-known BGP path attribute type code.
type AttributeType byte

// RFC 4271 section 5, plus RFC 4760 MP_REACH/MP_UNREACH.
const (
	Origin          AttributeType = 1
	ASPath          AttributeType = 2
	NextHop         AttributeType = 3
	MultiExitDisc   AttributeType = 4
	LocalPref       AttributeType = 5
	AtomicAggregate AttributeType = 6
	Aggregator      AttributeType = 7
	MPReachNLRI     AttributeType = 14
	MPUnreachNLRI   AttributeType = 15
	AS4Path         AttributeType = 17
	AS4Aggregator   AttributeType = 18
)

// Origin attribute values, RFC 4271 section 5.1.1.
const (
	OriginIGP        byte = 0
	OriginEGP        byte = 1
	OriginIncomplete byte = 2
)

// AS_PATH segment types, RFC 4271 section 4.3.
const (
	ASSet      byte = 1
	ASSequence byte = 2
)

// standardFlags reports the canonical flags for each well-known
// attribute type, per RFC 4271 section 5: the encoder always emits
// these rather than trusting a caller-supplied flag octet, and the
// decoder rejects a mismatch with AttributeFlagsError.
func standardFlags(typ AttributeType) (AttributeFlags, bool) {
	switch typ {
	case Origin, ASPath, NextHop, LocalPref, AtomicAggregate:
		return wellKnown | transitive, true
	case MultiExitDisc:
		return optional | nonTransitive, true
	case Aggregator:
		return optional | transitive, true
	case MPReachNLRI, MPUnreachNLRI:
		return optional | nonTransitive, true
	case AS4Path, AS4Aggregator:
		return optional | transitive, true
	default:
		return 0, false
	}
}

// Attribute is a single decoded path attribute.
type Attribute struct {
	Flags AttributeFlags
	Type  AttributeType
	Value []byte
}

// EncodeAttribute wraps value in its <flags, type, length, value> TLV
// using the canonical flags for typ, for callers outside this package
// building a path-attribute block one attribute at a time (route.Route).
func EncodeAttribute(typ AttributeType, value []byte) []byte {
	return encodeAttribute(typ, value)
}

// encodeAttribute wraps value in its <flags, type, length, value> TLV,
// using extended length encoding when the value exceeds 255 octets.
func encodeAttribute(typ AttributeType, value []byte) []byte {
	flags, ok := standardFlags(typ)
	if !ok {
		flags = optional | transitive
	}
	var buf bytes.Buffer
	if len(value) > 255 {
		flags |= extendedLength
		buf.WriteByte(byte(flags))
		buf.WriteByte(byte(typ))
		stream.PutUint16(&buf, uint16(len(value)))
	} else {
		buf.WriteByte(byte(flags))
		buf.WriteByte(byte(typ))
		buf.WriteByte(byte(len(value)))
	}
	buf.Write(value)
	return buf.Bytes()
}

// ParseAttributes decodes a standalone path-attribute TLV stream, for
// callers (route.Route's attribute encoder via protocol's batching) that
// build one attribute at a time and need to fold the result back into an
// UpdateMessage's Attributes slice.
func ParseAttributes(body []byte) ([]Attribute, error) {
	return decodeAttributes(body)
}

// decodeAttributes walks a path-attribute TLV stream and returns every
// attribute found, or an AttributeLengthError/AttributeFlagsError
// NOTIFICATION if the stream is malformed.
func decodeAttributes(body []byte) ([]Attribute, error) {
	buf := bytes.NewBuffer(body)
	var attrs []Attribute
	for buf.Len() > 0 {
		flagByte, err := stream.ReadByte(buf)
		if err != nil {
			return nil, &FrameError{Notification: NewNotification(
				UpdateMessageError, MalformedAttributeList, nil)}
		}
		typByte, err := stream.ReadByte(buf)
		if err != nil {
			return nil, &FrameError{Notification: NewNotification(
				UpdateMessageError, MalformedAttributeList, nil)}
		}
		flags := AttributeFlags(flagByte)
		typ := AttributeType(typByte)
		var length int
		if flags.extendedLength() {
			l, err := stream.ReadUint16(buf)
			if err != nil {
				return nil, &FrameError{Notification: NewNotification(
					UpdateMessageError, AttributeLengthError, nil)}
			}
			length = int(l)
		} else {
			l, err := stream.ReadByte(buf)
			if err != nil {
				return nil, &FrameError{Notification: NewNotification(
					UpdateMessageError, AttributeLengthError, nil)}
			}
			length = int(l)
		}
		value, err := stream.ReadBytes(length, buf)
		if err != nil {
			return nil, &FrameError{Notification: NewNotification(
				UpdateMessageError, AttributeLengthError, nil)}
		}
		if want, ok := standardFlags(typ); ok && flags&^extendedLength != want {
			return nil, &FrameError{Notification: NewNotification(
				UpdateMessageError, AttributeFlagsError, encodeAttribute(typ, value))}
		}
		attrs = append(attrs, Attribute{Flags: flags, Type: typ, Value: value})
	}
	return attrs, nil
}

func findAttribute(attrs []Attribute, typ AttributeType) (Attribute, bool) {
	for _, a := range attrs {
		if a.Type == typ {
			return a, true
		}
	}
	return Attribute{}, false
}

func (t AttributeType) String() string {
	switch t {
	case Origin:
		return "ORIGIN"
	case ASPath:
		return "AS_PATH"
	case NextHop:
		return "NEXT_HOP"
	case MultiExitDisc:
		return "MULTI_EXIT_DISC"
	case LocalPref:
		return "LOCAL_PREF"
	case AtomicAggregate:
		return "ATOMIC_AGGREGATE"
	case Aggregator:
		return "AGGREGATOR"
	case MPReachNLRI:
		return "MP_REACH_NLRI"
	case MPUnreachNLRI:
		return "MP_UNREACH_NLRI"
	case AS4Path:
		return "AS4_PATH"
	case AS4Aggregator:
		return "AS4_AGGREGATOR"
	default:
		return fmt.Sprintf("AttributeType(%d)", byte(t))
	}
}
