// Package protocol implements the session-scoped object Peer drives
// through the collapsed state machine in spec.md section 4.4: it owns
// the Connection, the negotiated capability view, the send/hold timers,
// and the cursor into a neighbor's route journal for incremental UPDATE
// streaming.
package protocol

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/transitorykris/exard/conn"
	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/rib"
	"github.com/transitorykris/exard/route"
	"github.com/transitorykris/exard/timer"
)

// maxWaitOpen bounds how long the Peer waits for the peer's OPEN after
// sending its own (spec.md section 4.5).
const maxWaitOpen = 10 * time.Second

// The four error kinds spec.md section 9's Error signalling note asks
// for, replacing the source's single overloaded notification type.

// PeerReportedError wraps a NOTIFICATION the remote peer sent us: we log
// it, never reply, and close.
type PeerReportedError struct {
	Notification *message.NotificationMessage
}

func (e *PeerReportedError) Error() string {
	return "peer reported: " + e.Notification.String()
}

// LocalProtocolViolation is raised when we decide the peer violated the
// protocol; the caller must send the wrapped NOTIFICATION before
// closing.
type LocalProtocolViolation struct {
	Notification *message.NotificationMessage
}

func (e *LocalProtocolViolation) Error() string {
	return "local protocol violation: " + e.Notification.String()
}

// SessionFailure is a generic protocol-layer error — framing, parsing, a
// buffer invariant, partial I/O — with no NOTIFICATION to send, since the
// session may already be one-way down.
type SessionFailure struct {
	Cause error
}

func (e *SessionFailure) Error() string {
	return "session failure: " + e.Cause.Error()
}

func (e *SessionFailure) Unwrap() error {
	return e.Cause
}

// ConnectFailure mirrors conn.ErrNotConnected at the protocol layer: a
// soft failure the Peer answers with back-off, no NOTIFICATION.
type ConnectFailure struct {
	Cause error
}

func (e *ConnectFailure) Error() string {
	return "connect failure: " + e.Cause.Error()
}

func (e *ConnectFailure) Unwrap() error {
	return e.Cause
}

// Session orchestrates one BGP session above a Connection.
type Session struct {
	Neighbor route.Neighbor
	conn     *conn.Connection
	journal  *rib.Journal
	cursor   int

	localOpen  message.OpenMessage
	negotiated message.NegotiatedView
	asn4Sticky bool // set after an ASN4 downgrade; cleared only by Peer.restart

	sendKeepalive *timer.Timer
	holdExpired   *timer.Timer

	log *logrus.Entry
}

// New constructs a Session bound to conn for neighbor, with journal as
// the outbound route source. asn4 controls whether this attempt
// advertises the 4-byte ASN capability (the Peer clears it after a
// downgrade per spec.md section 4.2).
func New(neighbor route.Neighbor, c *conn.Connection, journal *rib.Journal, asn4 bool) *Session {
	s := &Session{
		Neighbor: neighbor,
		conn:     c,
		journal:  journal,
		log:      logrus.WithField("component", "protocol").WithField("neighbor", neighbor.String()),
	}
	s.asn4Sticky = !asn4
	return s
}

// wishlist builds the local capability set to advertise, honoring the
// sticky ASN4 downgrade flag.
func (s *Session) wishlist() []message.Capability {
	var caps []message.Capability
	families := []message.AFISAFI{message.IPv4Unicast}
	hasIPv6 := false
	for _, r := range s.Neighbor.Routes {
		if r.Family == message.IPv6Unicast {
			hasIPv6 = true
		}
	}
	if hasIPv6 {
		families = append(families, message.IPv6Unicast)
	}
	caps = append(caps, message.Capability{Code: message.CapMultiprotocol, Families: families})
	if !s.asn4Sticky {
		caps = append(caps, message.Capability{Code: message.CapFourOctetASN, ASN: s.Neighbor.LocalASN})
	}
	if s.Neighbor.GracefulRestart {
		caps = append(caps, message.Capability{Code: message.CapGracefulReset, GracefulRestart: message.GracefulRestartValue{RestartState: true}})
	}
	caps = append(caps, s.Neighbor.Capabilities...)
	return caps
}

// localASN16 returns the 2-octet ASN field for the OPEN message: the
// real ASN if it fits, else AS_TRANS when the peer hasn't (yet, as far
// as we know) agreed to 4-byte ASN.
func (s *Session) localASN16() uint16 {
	if s.Neighbor.LocalASN <= 0xFFFF {
		return uint16(s.Neighbor.LocalASN)
	}
	return message.ASTrans
}

// NewOpen builds and sends the local OPEN.
func (s *Session) NewOpen() error {
	params := message.EncodeCapabilities(s.wishlist())
	s.localOpen = message.OpenMessage{
		Version:       message.Version,
		ASN:           s.localASN16(),
		HoldTime:      uint16(effectiveHoldSeconds(s.Neighbor.HoldTime)),
		BGPIdentifier: s.Neighbor.RouterID,
		Parameters:    params,
	}
	raw, err := message.Encode(message.Message{
		Header: message.Header{Type: message.OPEN},
		Open:   &s.localOpen,
	})
	if err != nil {
		return &SessionFailure{Cause: err}
	}
	if _, err := s.conn.Send(raw); err != nil {
		return &SessionFailure{Cause: err}
	}
	return nil
}

func effectiveHoldSeconds(d time.Duration) int {
	if d <= 0 {
		d = route.DefaultHoldTime
	}
	return int(d / time.Second)
}

// ReadOpen reads until a full OPEN or NOP arrives. The remote address is
// not checked here; the TCP connect already bound it. On a decoded OPEN
// it validates the router-id and runs capability negotiation, returning
// the NegotiatedView once. NOP is reported by returning
// (message.NegotiatedView{}, false, nil).
func (s *Session) ReadOpen() (message.NegotiatedView, bool, error) {
	m, err := s.conn.Recv()
	if err != nil {
		return message.NegotiatedView{}, false, &SessionFailure{Cause: err}
	}
	if m.Header.Type == message.NOP {
		return message.NegotiatedView{}, false, nil
	}
	if m.Header.Type == message.NOTIFICATION {
		return message.NegotiatedView{}, false, &PeerReportedError{Notification: m.Notification}
	}
	if m.Header.Type != message.OPEN {
		notif := message.NewNotification(message.FiniteStateMachineError, message.NoErrorSubcode, nil)
		return message.NegotiatedView{}, false, &LocalProtocolViolation{Notification: notif}
	}
	peerOpen := *m.Open

	if peerOpen.BGPIdentifier == 0 || peerOpen.BGPIdentifier == s.Neighbor.RouterID {
		notif := message.NewNotification(message.OpenMessageError, message.BadBGPIdentifier, nil)
		return message.NegotiatedView{}, false, &LocalProtocolViolation{Notification: notif}
	}

	localCaps, err := message.DecodeCapabilities(s.localOpen.Parameters)
	if err != nil {
		return message.NegotiatedView{}, false, &SessionFailure{Cause: err}
	}
	peerCaps, err := message.DecodeCapabilities(peerOpen.Parameters)
	if err != nil {
		notif := message.NewNotification(message.OpenMessageError, message.UnsupportedOptionalParameter, nil)
		return message.NegotiatedView{}, false, &LocalProtocolViolation{Notification: notif}
	}

	if _, localASN4 := findCapability(localCaps, message.CapFourOctetASN); localASN4 {
		if _, peerASN4 := findCapability(peerCaps, message.CapFourOctetASN); !peerASN4 && s.Neighbor.LocalASN > 0xFFFF {
			s.asn4Sticky = true
			notif := message.NewNotification(message.OpenMessageError, message.NoErrorSubcode,
				[]byte("peer does not speak ASN4 - restarting in compatibility mode"))
			return message.NegotiatedView{}, false, &LocalProtocolViolation{Notification: notif}
		}
	}

	view, notif := message.Negotiate(localCaps, s.Neighbor.HoldTime, s.Neighbor.LocalASN, peerCaps, time.Duration(peerOpen.HoldTime)*time.Second)
	if notif != nil {
		return message.NegotiatedView{}, false, &LocalProtocolViolation{Notification: notif}
	}

	s.negotiated = view
	if view.HoldTime > 0 {
		s.sendKeepalive = timer.New(view.HoldTime / 3)
		s.holdExpired = timer.New(view.HoldTime)
	} else {
		s.sendKeepalive = timer.New(0)
		s.holdExpired = timer.New(0)
	}
	return view, true, nil
}

func findCapability(caps []message.Capability, code message.CapabilityCode) (message.Capability, bool) {
	for _, c := range caps {
		if c.Code == code {
			return c, true
		}
	}
	return message.Capability{}, false
}

// Negotiated returns the view computed by ReadOpen.
func (s *Session) Negotiated() message.NegotiatedView {
	return s.negotiated
}

// ASN4Downgraded reports whether ReadOpen most recently set the sticky
// downgrade flag, so the Peer knows to skip back-off before its next
// reconnect attempt (spec.md section 7: "Apply back-off only when the
// cause is not local policy").
func (s *Session) ASN4Downgraded() bool {
	if !s.asn4Sticky {
		return false
	}
	// A session opened already downgraded never advertised ASN4, so the
	// flag can only have been set by ReadOpen if the local OPEN carried it.
	localCaps, err := message.DecodeCapabilities(s.localOpen.Parameters)
	if err != nil {
		return false
	}
	_, advertised := findCapability(localCaps, message.CapFourOctetASN)
	return advertised
}

// NewKeepalive sends a KEEPALIVE if force is set or the send timer is
// due, and returns the seconds remaining until the next one is due along
// with whether it sent one.
func (s *Session) NewKeepalive(force bool) (time.Duration, bool, error) {
	if s.sendKeepalive == nil || !s.sendKeepalive.Running() {
		return 0, false, nil
	}
	if !force && !s.sendKeepalive.Due() {
		return s.sendKeepalive.Remaining(), false, nil
	}
	raw, err := message.Encode(message.Message{Header: message.Header{Type: message.KEEPALIVE}})
	if err != nil {
		return 0, false, &SessionFailure{Cause: err}
	}
	if _, err := s.conn.Send(raw); err != nil {
		return 0, false, &SessionFailure{Cause: err}
	}
	s.sendKeepalive.Reset()
	s.log.Debug("sent keepalive")
	return s.sendKeepalive.Remaining(), true, nil
}

// ReadKeepalive reads one message, ignoring NOPs, accepting a KEEPALIVE
// (which resets the hold timer), and surfacing any other type unchanged
// to the caller for its own handling. The Peer calls it once per tick
// during the initial handshake, so it never loops internally.
func (s *Session) ReadKeepalive() (message.Message, error) {
	return s.readMessageOnce()
}

// ReadMessage reads the next message, transparently resetting the hold
// timer on any non-NOP receipt.
func (s *Session) ReadMessage() (message.Message, error) {
	return s.readMessageOnce()
}

func (s *Session) readMessageOnce() (message.Message, error) {
	m, err := s.conn.Recv()
	if err != nil {
		return message.Message{}, &SessionFailure{Cause: err}
	}
	if m.Header.Type == message.NOP {
		return m, nil
	}
	if s.holdExpired != nil {
		s.holdExpired.Reset()
	}
	if m.Header.Type == message.NOTIFICATION {
		return m, &PeerReportedError{Notification: m.Notification}
	}
	return m, nil
}

// CheckKeepalive returns the remaining hold-seconds; if the hold timer
// has expired it raises NOTIFICATION(4,0).
func (s *Session) CheckKeepalive() (time.Duration, error) {
	if s.holdExpired == nil || !s.holdExpired.Running() {
		return 0, nil
	}
	if s.holdExpired.Due() {
		notif := message.NewNotification(message.HoldTimerExpired, message.NoErrorSubcode, nil)
		return 0, &LocalProtocolViolation{Notification: notif}
	}
	return s.holdExpired.Remaining(), nil
}

// Cursor exposes the journal cursor, for tests and diagnostics.
func (s *Session) Cursor() int {
	return s.cursor
}

// SetRoutes replaces the journal's desired state by diffing against the
// previously applied route set and appending the resulting events,
// without resetting the cursor — existing subscribers continue draining
// from where they were. Used by reload.
func (s *Session) SetRoutes(have, want []route.Route) {
	s.journal.AppendAll(rib.Diff(have, want))
}

// ClearBuffer drops pending outbound UPDATEs and rewinds the cursor to
// the start of the journal, used on reload to force a full re-stream.
func (s *Session) ClearBuffer() {
	s.conn.Drop()
	s.cursor = 0
}

// Buffered reports octets pending in the outbound connection buffer.
func (s *Session) Buffered() int {
	return s.conn.Buffered()
}

// NewNotification sends n then closes the connection. It is safe to call
// after a partial send elsewhere; Connection.Close is idempotent.
func (s *Session) NewNotification(n *message.NotificationMessage) error {
	raw, err := message.Encode(message.Message{
		Header:       message.Header{Type: message.NOTIFICATION},
		Notification: n,
	})
	if err != nil {
		return &SessionFailure{Cause: err}
	}
	_, sendErr := s.conn.Send(raw)
	closeErr := s.conn.Close("notification sent: " + n.String())
	if sendErr != nil {
		return &SessionFailure{Cause: sendErr}
	}
	return closeErr
}

// Close closes the underlying connection without sending a
// NOTIFICATION, used for the graceful-restart silent-teardown path.
func (s *Session) Close(reason string) error {
	return s.conn.Close(reason)
}

// LocalAddr returns the bound local address of the underlying
// connection, for diagnostics.
func (s *Session) LocalAddr() net.Addr {
	if tc, ok := s.conn.IO().(interface{ LocalAddr() net.Addr }); ok {
		return tc.LocalAddr()
	}
	return nil
}

// IO exposes the underlying net.Conn for the supervisor's readiness
// selector.
func (s *Session) IO() net.Conn {
	return s.conn.IO()
}

var errChunkFull = errors.New("protocol: update chunk full")
