package message

import (
	"bytes"
	"fmt"

	"github.com/transitorykris/exard/stream"
)

// 4.5.  NOTIFICATION Message Format
//
//    A NOTIFICATION message is sent when an error condition is detected.
//    The BGP connection is closed immediately after it is sent.
//
//       0                   1                   2
//       0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//       | Error code    | Error subcode |   Data (variable)     |
//       +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

// MinNotificationMessageLength is the minimum NOTIFICATION body length
// (code + subcode, no data).
const MinNotificationMessageLength = 2

// Error codes, RFC 4271 section 6 plus RFC 4486 cease subcodes and the
// RFC 5492 capability-negotiation subcode.
const (
	_                       = iota
	MessageHeaderError      // 1 Message Header Error
	OpenMessageError        // 2 OPEN Message Error
	UpdateMessageError      // 3 UPDATE Message Error
	HoldTimerExpired        // 4 Hold Timer Expired
	FiniteStateMachineError // 5 Finite State Machine Error
	Cease                   // 6 Cease
)

var errorCodeName = map[byte]string{
	1: "Message Header Error",
	2: "OPEN Message Error",
	3: "UPDATE Message Error",
	4: "Hold Timer Expired",
	5: "Finite State Machine Error",
	6: "Cease",
}

// Message Header Error subcodes.
const (
	_                         = iota
	ConnectionNotSynchronized // 1 Connection Not Synchronized
	BadMessageLength          // 2 Bad Message Length
	BadMessageType            // 3 Bad Message Type
)

// OPEN Message Error subcodes.
const (
	_                            = iota
	UnsupportedVersionNumber     // 1 Unsupported Version Number
	BadPeerAS                    // 2 Bad Peer AS
	BadBGPIdentifier             // 3 Bad BGP Identifier
	UnsupportedOptionalParameter // 4 Unsupported Optional Parameter
	_                            // 5 deprecated
	UnacceptableHoldTime         // 6 Unacceptable Hold Time
	UnsupportedCapability        // 7 Unsupported Capability (RFC 5492)
	NoCommonSessionID            // 8 pragmatic multisession mismatch, see spec note
)

// UPDATE Message Error subcodes.
const (
	_                              = iota
	MalformedAttributeList         // 1 Malformed Attribute List
	UnrecognizedWellKnownAttribute // 2 Unrecognized Well-known Attribute
	MissingWellKnownAttribute      // 3 Missing Well-known Attribute
	AttributeFlagsError            // 4 Attribute Flags Error
	AttributeLengthError           // 5 Attribute Length Error
	InvalidOriginAttribute         // 6 Invalid ORIGIN Attribute
	_                              // 7 deprecated
	InvalidNextHopAttribute        // 8 Invalid NEXT_HOP Attribute
	OptionalAttributeError         // 9 Optional Attribute Error
	InvalidNetworkField            // 10 Invalid Network Field
	MalformedASPath                // 11 Malformed AS_PATH
)

// Cease subcodes, RFC 4486.
const (
	_                          = iota
	MaxPrefixesReached         // 1
	AdministrativeShutdown     // 2
	PeerDeconfigured           // 3
	AdministrativeReset        // 4
	ConnectionRejected         // 5
	OtherConfigurationChange   // 6
	ConnectionCollisionResolve // 7
	OutOfResources             // 8
)

// NoErrorSubcode is used when the error code has no further detail.
const NoErrorSubcode = 0

// NotificationMessage reports a session-fatal error to the peer, or
// describes one reported by the peer.
type NotificationMessage struct {
	Code    byte
	Subcode byte
	Data    []byte
}

// NewNotification builds a NotificationMessage. code and subcode are
// typically one of the constants above.
func NewNotification(code, subcode int, data []byte) *NotificationMessage {
	return &NotificationMessage{Code: byte(code), Subcode: byte(subcode), Data: data}
}

// String renders a human-readable (code,subcode,data) description, the
// triple the supervisor logs on every NOTIFICATION sent or received.
func (n *NotificationMessage) String() string {
	name := errorCodeName[n.Code]
	if name == "" {
		name = fmt.Sprintf("code %d", n.Code)
	}
	if len(n.Data) == 0 {
		return fmt.Sprintf("%s (subcode %d)", name, n.Subcode)
	}
	return fmt.Sprintf("%s (subcode %d): %q", name, n.Subcode, n.Data)
}

// Error implements the error interface so a NotificationMessage can be
// returned and type-switched on directly.
func (n *NotificationMessage) Error() string {
	return n.String()
}

// EncodeNotification serializes the NOTIFICATION body (code, subcode,
// data); the caller wraps it with EncodeHeader.
func EncodeNotification(n *NotificationMessage) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(n.Data)))
	buf.WriteByte(n.Code)
	buf.WriteByte(n.Subcode)
	buf.Write(n.Data)
	return buf.Bytes()
}

// DecodeNotification parses a NOTIFICATION body.
func DecodeNotification(body []byte) (*NotificationMessage, error) {
	if len(body) < MinNotificationMessageLength {
		return nil, fmt.Errorf("message: NOTIFICATION body too short: %d bytes", len(body))
	}
	buf := bytes.NewBuffer(body)
	code, err := stream.ReadByte(buf)
	if err != nil {
		return nil, err
	}
	subcode, err := stream.ReadByte(buf)
	if err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if len(data) == 0 {
		data = nil
	}
	return &NotificationMessage{Code: code, Subcode: subcode, Data: data}, nil
}
