package message

import (
	"bytes"
	"fmt"

	"github.com/transitorykris/exard/stream"
)

// 4.2.  OPEN Message Format
//
//    After a TCP connection is established, the first message sent by
//    each side is an OPEN message. If the OPEN message is acceptable, a
//    KEEPALIVE message confirming the OPEN is sent back.
//
//       0                   1                   2                   3
//       0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//       +-+-+-+-+-+-+-+-+
//       |    Version    |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |     My Autonomous System      |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |           Hold Time           |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |                         BGP Identifier                       |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       | Opt Parm Len  |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |                                                               |
//       |             Optional Parameters (variable)                   |
//       |                                                               |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

// Version is the only BGP protocol version this codec speaks.
const Version = 4

// ASTrans is the AS_TRANS value (RFC 6793) advertised in the 2-octet My
// Autonomous System field when the local speaker runs as a 4-byte ASN
// but has negotiated, or is probing, a session with a peer that does
// not speak 4-byte ASNs.
const ASTrans = 23456

// MinOpenMessageLength is the minimum OPEN message length (including the
// 19-octet header): version, 2-octet ASN, 2-octet hold time, 4-octet
// router ID, and a zero-length optional parameters field.
const MinOpenMessageLength = 29

// capabilityParameterType is the Optional Parameter type code carrying
// capability TLVs (RFC 5492 section 4).
const capabilityParameterType = 2

// OpenMessage is the parsed OPEN body. Parameters holds the raw,
// already-TLV-encoded optional parameters octets; callers that care about
// capabilities use DecodeCapabilities on it.
type OpenMessage struct {
	Version       byte
	ASN           uint16
	HoldTime      uint16
	BGPIdentifier uint32
	Parameters    []byte
}

// EncodeOpen serializes an OPEN body.
func EncodeOpen(o OpenMessage) ([]byte, error) {
	if len(o.Parameters) > 255 {
		return nil, fmt.Errorf("message: optional parameters exceed 255 octets")
	}
	buf := bytes.NewBuffer(make([]byte, 0, MinOpenMessageLength-HeaderLength+len(o.Parameters)))
	buf.WriteByte(o.Version)
	stream.PutUint16(buf, o.ASN)
	stream.PutUint16(buf, o.HoldTime)
	stream.PutUint32(buf, o.BGPIdentifier)
	buf.WriteByte(byte(len(o.Parameters)))
	buf.Write(o.Parameters)
	return buf.Bytes(), nil
}

// DecodeOpen parses an OPEN body.
func DecodeOpen(body []byte) (OpenMessage, error) {
	buf := bytes.NewBuffer(body)
	version, err := stream.ReadByte(buf)
	if err != nil {
		return OpenMessage{}, err
	}
	asn, err := stream.ReadUint16(buf)
	if err != nil {
		return OpenMessage{}, err
	}
	holdTime, err := stream.ReadUint16(buf)
	if err != nil {
		return OpenMessage{}, err
	}
	routerID, err := stream.ReadUint32(buf)
	if err != nil {
		return OpenMessage{}, err
	}
	parmLen, err := stream.ReadByte(buf)
	if err != nil {
		return OpenMessage{}, err
	}
	parms, err := stream.ReadBytes(int(parmLen), buf)
	if err != nil {
		return OpenMessage{}, err
	}
	return OpenMessage{
		Version:       version,
		ASN:           asn,
		HoldTime:      holdTime,
		BGPIdentifier: routerID,
		Parameters:    parms,
	}, nil
}

// wrapCapabilityParameter wraps already-encoded capability TLVs in a
// single Optional Parameter of type 2, as RFC 5492 requires.
func wrapCapabilityParameter(capBytes []byte) []byte {
	if len(capBytes) == 0 {
		return nil
	}
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(capBytes)))
	buf.WriteByte(capabilityParameterType)
	buf.WriteByte(byte(len(capBytes)))
	buf.Write(capBytes)
	return buf.Bytes()
}

// decodeParameters walks the optional-parameters TLV stream and returns
// the concatenated value octets of every capability (type 2) parameter,
// ready for DecodeCapabilities.
func decodeParameters(params []byte) ([]byte, error) {
	buf := bytes.NewBuffer(params)
	var caps bytes.Buffer
	for buf.Len() > 0 {
		typ, err := stream.ReadByte(buf)
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
		if typ == capabilityParameterType {
			caps.Write(value)
		}
	}
	return caps.Bytes(), nil
}
