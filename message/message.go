// Package message implements the BGP-4 wire codec: pure, side-effect-free
// encode/decode functions for the message header and the four message
// bodies (OPEN, UPDATE, NOTIFICATION, KEEPALIVE), plus the capability and
// path-attribute TLV formats carried inside them. Nothing in this
// package touches a socket; conn and protocol own I/O and call these
// functions against buffered bytes.
package message

import "fmt"

// Message is a fully decoded BGP message: exactly one of the typed
// fields is meaningful, selected by Header.Type.
type Message struct {
	Header       Header
	Open         *OpenMessage
	Update       *UpdateMessage
	Notification *NotificationMessage
}

// Encode serializes m into a complete framed message (header + body).
func Encode(m Message) ([]byte, error) {
	var body []byte
	var err error
	switch m.Header.Type {
	case OPEN:
		if m.Open == nil {
			return nil, fmt.Errorf("message: OPEN type with nil Open body")
		}
		body, err = EncodeOpen(*m.Open)
	case UPDATE:
		if m.Update == nil {
			return nil, fmt.Errorf("message: UPDATE type with nil Update body")
		}
		body = EncodeUpdate(*m.Update)
	case NOTIFICATION:
		if m.Notification == nil {
			return nil, fmt.Errorf("message: NOTIFICATION type with nil Notification body")
		}
		body = EncodeNotification(m.Notification)
	case KEEPALIVE:
		body = EncodeKeepalive()
	default:
		return nil, fmt.Errorf("message: unknown message type %v", m.Header.Type)
	}
	if err != nil {
		return nil, err
	}
	header, err := EncodeHeader(len(body), m.Header.Type)
	if err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

// Decode parses a complete framed message: exactly HeaderLength bytes of
// header followed by a body of the length the header specifies. Callers
// (conn.Connection) own delimiting that span out of the stream first;
// Decode never consumes a partial message.
func Decode(raw []byte) (Message, error) {
	if len(raw) < HeaderLength {
		return Message{}, fmt.Errorf("message: frame shorter than header: %d bytes", len(raw))
	}
	header, err := DecodeHeader(raw[:HeaderLength])
	if err != nil {
		return Message{}, err
	}
	body := raw[HeaderLength:]
	if int(header.Length) != len(raw) {
		return Message{}, fmt.Errorf("message: frame length %d does not match header length %d", len(raw), header.Length)
	}

	m := Message{Header: header}
	switch header.Type {
	case OPEN:
		o, err := DecodeOpen(body)
		if err != nil {
			return Message{}, err
		}
		m.Open = &o
	case UPDATE:
		u, err := DecodeUpdate(body)
		if err != nil {
			return Message{}, err
		}
		m.Update = &u
	case NOTIFICATION:
		n, err := DecodeNotification(body)
		if err != nil {
			return Message{}, err
		}
		m.Notification = n
	case KEEPALIVE:
		if err := DecodeKeepalive(body); err != nil {
			return Message{}, err
		}
	default:
		return Message{}, fmt.Errorf("message: unknown message type %v", header.Type)
	}
	return m, nil
}
