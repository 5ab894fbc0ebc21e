package route

import (
	"encoding/binary"
	"net"

	"github.com/transitorykris/exard/message"
)

// This file builds the individual path-attribute TLVs Route.
// PathAttributeBytes concatenates. Kept separate from route.go because
// each function mirrors one RFC 4271 section 5.1.x subsection and reads
// better standalone than interleaved.

func attrBytes(typ message.AttributeType, flags message.AttributeFlags, value []byte) []byte {
	// message.encodeAttribute always derives the canonical flags for a
	// well-known type and ignores any caller-supplied flags octet, so
	// the flags parameter here exists only for attributes this package
	// does not yet special-case; today every call site passes a type
	// message already knows the standard flags for.
	_ = flags
	return message.EncodeAttribute(typ, value)
}

func encodeOrigin(origin byte) []byte {
	return attrBytes(message.Origin, 0, []byte{origin})
}

// encodeASPath packs path as a single AS_SEQUENCE segment. An empty
// path (directly originated route) still emits the attribute with a
// zero-length segment, matching RFC 4271 section 5.1.2. With asn4 the
// segment carries full 4-octet ASNs; without it, ASNs are packed
// 2-octet and anything over 0xFFFF is replaced with AS_TRANS (RFC 6793
// section 4.2.3), with the untranslated path carried separately by
// encodeAS4Path.
func encodeASPath(path []uint32, asn4 bool) []byte {
	width := 2
	if asn4 {
		width = 4
	}
	value := make([]byte, 2, 2+width*len(path))
	value[0] = message.ASSequence
	value[1] = byte(len(path))
	for _, asn := range path {
		if asn4 {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, asn)
			value = append(value, b...)
			continue
		}
		wire := asn
		if wire > 0xFFFF {
			wire = message.ASTrans
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(wire))
		value = append(value, b...)
	}
	return attrBytes(message.ASPath, 0, value)
}

// encodeAS4Path carries the untranslated 4-octet AS_PATH alongside a
// 2-octet AS_PATH, for a peer that hasn't negotiated 4-byte ASN support
// (RFC 6793 section 4.2.2). It returns nil when every ASN already fits
// in 16 bits, since the attribute would be redundant.
func encodeAS4Path(path []uint32) []byte {
	needed := false
	for _, asn := range path {
		if asn > 0xFFFF {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}
	value := make([]byte, 2, 2+4*len(path))
	value[0] = message.ASSequence
	value[1] = byte(len(path))
	for _, asn := range path {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, asn)
		value = append(value, b...)
	}
	return attrBytes(message.AS4Path, 0, value)
}

func encodeNextHop(nh net.IP) []byte {
	ip4 := nh.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	return attrBytes(message.NextHop, 0, ip4)
}

func encodeMED(med uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, med)
	return attrBytes(message.MultiExitDisc, 0, b)
}

func encodeLocalPref(pref uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, pref)
	return attrBytes(message.LocalPref, 0, b)
}
