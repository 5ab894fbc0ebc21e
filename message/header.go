package message

import (
	"bytes"
	"fmt"

	"github.com/transitorykris/exard/stream"
)

// 4.1.  Message Header Format
//
//    Each message has a fixed-size header, and may or may not be followed
//    by a data portion.
//
//       0                   1                   2                   3
//       0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |                                                               |
//       +                                                               +
//       |                                                               |
//       +                      Marker (16 octets)                      +
//       |                                                               |
//       +                                                               +
//       |                                                               |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       |          Length (2 octets)   |      Type (1 octet)           |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

// MarkerLength is the number of marker octets at the head of every
// message. All implementations MUST set this field to all ones.
const MarkerLength = 16

// HeaderLength is the total size of the fixed header.
const HeaderLength = MarkerLength + 2 + 1

// MinMessageLength and MaxMessageLength bound the total message length
// (header + body) as carried in the Length field.
const (
	MinMessageLength = 19
	MaxMessageLength = 4096
)

// Type identifies the kind of BGP message a header introduces.
type Type byte

// The four wire message types, plus the internal NOP sentinel.
const (
	// NOP never appears on the wire. It is returned by the connection
	// layer when a non-blocking read found fewer bytes than a whole
	// message and there is nothing to decode yet.
	NOP          Type = 0
	OPEN         Type = 1
	UPDATE       Type = 2
	NOTIFICATION Type = 3
	KEEPALIVE    Type = 4
)

var typeName = map[Type]string{
	NOP:          "NOP",
	OPEN:         "OPEN",
	UPDATE:       "UPDATE",
	NOTIFICATION: "NOTIFICATION",
	KEEPALIVE:    "KEEPALIVE",
}

func (t Type) String() string {
	if n, ok := typeName[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Header is the fixed 19-octet preamble of every BGP message.
type Header struct {
	Length uint16
	Type   Type
}

// Marker returns the required all-ones marker octets.
func Marker() [MarkerLength]byte {
	var m [MarkerLength]byte
	for i := range m {
		m[i] = 0xFF
	}
	return m
}

// FrameError is returned by the codec when a header or body violates the
// framing rules in a way that RFC 4271 requires to be reported with a
// specific NOTIFICATION. The Peer unwraps it to decide what to send
// before closing the connection.
type FrameError struct {
	Notification *NotificationMessage
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("framing error: %s", e.Notification.String())
}

// EncodeHeader builds the 19-octet header for a body of the given length
// and type. It refuses to build a header for a message that would exceed
// MaxMessageLength.
func EncodeHeader(bodyLen int, typ Type) ([]byte, error) {
	total := HeaderLength + bodyLen
	if total > MaxMessageLength {
		return nil, fmt.Errorf("message: total length %d exceeds max %d", total, MaxMessageLength)
	}
	buf := bytes.NewBuffer(make([]byte, 0, HeaderLength))
	marker := Marker()
	buf.Write(marker[:])
	stream.PutUint16(buf, uint16(total))
	buf.WriteByte(byte(typ))
	return buf.Bytes(), nil
}

// DecodeHeader validates and parses exactly HeaderLength bytes. Callers
// are responsible for having buffered that many bytes first; Connection's
// framer never calls this with a short slice.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLength {
		return Header{}, fmt.Errorf("message: header must be %d bytes, got %d", HeaderLength, len(b))
	}
	marker := b[:MarkerLength]
	for _, m := range marker {
		if m != 0xFF {
			return Header{}, &FrameError{Notification: NewNotification(
				MessageHeaderError, ConnectionNotSynchronized, nil)}
		}
	}
	buf := bytes.NewBuffer(b[MarkerLength:])
	length, err := stream.ReadUint16(buf)
	if err != nil {
		return Header{}, err
	}
	if length < MinMessageLength || length > MaxMessageLength {
		return Header{}, &FrameError{Notification: NewNotification(
			MessageHeaderError, BadMessageLength, lengthData(length))}
	}
	typByte, err := stream.ReadByte(buf)
	if err != nil {
		return Header{}, err
	}
	typ := Type(typByte)
	switch typ {
	case OPEN, UPDATE, NOTIFICATION, KEEPALIVE:
	default:
		return Header{}, &FrameError{Notification: NewNotification(
			MessageHeaderError, BadMessageType, []byte{typByte})}
	}
	return Header{Length: length, Type: typ}, nil
}

func lengthData(length uint16) []byte {
	b := make([]byte, 2)
	b[0] = byte(length >> 8)
	b[1] = byte(length)
	return b
}
