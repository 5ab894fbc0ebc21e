package protocol

import (
	"bytes"

	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/rib"
	"github.com/transitorykris/exard/route"
)

// NextUpdateChunk is new_update()'s single resumption step (spec.md
// section 4.4): it drains the journal starting at the session's cursor,
// batching the longest run of same-operation, same-family,
// same-attribute events that fits in one <=4096-octet UPDATE, and
// advances the cursor only past what it actually encoded. It returns
// more=false once the journal has nothing left after the cursor.
//
// Because Diff always orders withdraws before announces for a changed
// prefix and Append never reorders, a single forward scan preserves
// withdraw-before-announce on the wire without any extra bookkeeping
// here.
func (s *Session) NextUpdateChunk() (raw []byte, more bool, err error) {
	events, _ := s.journal.Since(s.cursor)
	if len(events) == 0 {
		return nil, false, nil
	}

	first := events[0]
	consumed := 1
	var body []byte
	switch first.Op {
	case rib.Withdraw:
		batch := []route.Route{first.Route}
		for consumed < len(events) {
			next := events[consumed]
			if next.Op != rib.Withdraw || next.Route.Family != first.Route.Family {
				break
			}
			candidate := append(append([]route.Route{}, batch...), next.Route)
			if len(encodeWithdrawBatch(first.Route.Family, candidate)) > message.MaxMessageLength-message.HeaderLength {
				break
			}
			batch = candidate
			consumed++
		}
		body = encodeWithdrawBatch(first.Route.Family, batch)
		if len(body) > message.MaxMessageLength-message.HeaderLength {
			return nil, false, &SessionFailure{Cause: errChunkFull}
		}
	case rib.Announce:
		attrs := first.Route.PathAttributeBytes(s.Neighbor.LocalASN, s.Neighbor.PeerASN, s.negotiated.ASN4)
		batch := []route.Route{first.Route}
		for consumed < len(events) {
			next := events[consumed]
			if next.Op != rib.Announce || next.Route.Family != first.Route.Family {
				break
			}
			nextAttrs := next.Route.PathAttributeBytes(s.Neighbor.LocalASN, s.Neighbor.PeerASN, s.negotiated.ASN4)
			if !bytes.Equal(attrs, nextAttrs) {
				break
			}
			candidate := append(append([]route.Route{}, batch...), next.Route)
			if len(encodeAnnounceBatch(first.Route.Family, attrs, candidate)) > message.MaxMessageLength-message.HeaderLength {
				break
			}
			batch = candidate
			consumed++
		}
		body = encodeAnnounceBatch(first.Route.Family, attrs, batch)
		if len(body) > message.MaxMessageLength-message.HeaderLength {
			return nil, false, &SessionFailure{Cause: errChunkFull}
		}
	case rib.Checkpoint:
		// Checkpoints never appear in a live journal today (Diff never
		// emits one); skip past it defensively rather than encode an
		// empty UPDATE for it.
		s.cursor++
		return s.NextUpdateChunk()
	}

	header, encErr := message.EncodeHeader(len(body), message.UPDATE)
	if encErr != nil {
		return nil, false, &SessionFailure{Cause: encErr}
	}
	raw = append(header, body...)
	if _, err := s.conn.Send(raw); err != nil {
		return nil, false, &SessionFailure{Cause: err}
	}
	s.cursor += consumed
	_, hasMore := s.journal.Since(s.cursor)
	return raw, len(hasMore) > 0, nil
}

func encodeWithdrawBatch(family message.AFISAFI, routes []route.Route) []byte {
	u := message.UpdateMessage{}
	if family == message.IPv4Unicast {
		for _, r := range routes {
			u.Withdrawn = append(u.Withdrawn, r.Prefix)
		}
	} else {
		var prefixes []message.Prefix
		for _, r := range routes {
			prefixes = append(prefixes, r.Prefix)
		}
		value := message.EncodeMPUnreach(message.MPUnreachValue{Family: family, NLRI: prefixes})
		u.Attributes = append(u.Attributes, message.Attribute{Type: message.MPUnreachNLRI, Value: value})
	}
	return message.EncodeUpdate(u)
}

func encodeAnnounceBatch(family message.AFISAFI, attrs []byte, routes []route.Route) []byte {
	u := message.UpdateMessage{}
	parsed := parseAttributeBlock(attrs)
	if family == message.IPv4Unicast {
		u.Attributes = parsed
		for _, r := range routes {
			u.NLRI = append(u.NLRI, r.Prefix)
		}
	} else {
		var prefixes []message.Prefix
		var nextHop = routes[0].NextHop
		for _, r := range routes {
			prefixes = append(prefixes, r.Prefix)
		}
		for _, a := range parsed {
			if a.Type != message.NextHop {
				u.Attributes = append(u.Attributes, a)
			}
		}
		mpValue := message.EncodeMPReach(message.MPReachValue{Family: family, NextHop: nextHop, NLRI: prefixes})
		u.Attributes = append(u.Attributes, message.Attribute{Type: message.MPReachNLRI, Value: mpValue})
	}
	return message.EncodeUpdate(u)
}

// parseAttributeBlock re-parses a pre-encoded attribute TLV stream back
// into typed Attributes so it can be merged into message.UpdateMessage.
// route.Route.PathAttributeBytes already produces valid TLVs; this
// avoids duplicating that encoding logic here.
func parseAttributeBlock(attrs []byte) []message.Attribute {
	parsed, err := message.ParseAttributes(attrs)
	if err != nil {
		return nil
	}
	return parsed
}

// NewEORs sends and returns one empty End-of-RIB UPDATE per negotiated
// family (or, if no families were negotiated at all, the caller should
// send a plain KEEPALIVE instead, per spec.md section 4.5).
func (s *Session) NewEORs() ([][]byte, error) {
	var frames [][]byte
	for _, f := range s.negotiated.Families {
		var u message.UpdateMessage
		if f != message.IPv4Unicast {
			u.Attributes = []message.Attribute{{
				Type:  message.MPUnreachNLRI,
				Value: message.EncodeMPUnreach(message.MPUnreachValue{Family: f}),
			}}
		}
		raw, err := message.Encode(message.Message{Header: message.Header{Type: message.UPDATE}, Update: &u})
		if err != nil {
			return nil, &SessionFailure{Cause: err}
		}
		if _, err := s.conn.Send(raw); err != nil {
			return nil, &SessionFailure{Cause: err}
		}
		frames = append(frames, raw)
	}
	return frames, nil
}
