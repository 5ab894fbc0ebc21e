// Package peer implements the per-neighbor resumable procedure the
// supervisor drives cooperatively (spec.md section 4.5): connect,
// exchange OPEN/KEEPALIVE, stream the configured RIB, then run the
// steady-state main loop, with back-off on failure and an external
// control surface (stop/reload/restart) the supervisor calls between
// ticks.
package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/transitorykris/exard/conn"
	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/protocol"
	"github.com/transitorykris/exard/rib"
	"github.com/transitorykris/exard/route"
)

// maxWaitOpen bounds the OPEN read loop (spec.md section 4.5).
const maxWaitOpen = 10 * time.Second

// maxBackoff caps the restart skip interval (spec.md section 4.5).
const maxBackoff = 60 * time.Second

// connectTimeout bounds the initial TCP dial.
const connectTimeout = 10 * time.Second

// Signal is the scheduling hint a Step returns to the supervisor.
type Signal int

const (
	// More means the Peer has immediate follow-up work and may be
	// stepped again this same supervisor round.
	More Signal = iota
	// Idle means the Peer made no progress this step and should wait
	// for its connection to become readable, or for its back-off
	// deadline to pass.
	Idle
	// Stopped means the Peer has torn down for good and the
	// supervisor should remove it from the peer set.
	Stopped
)

func (s Signal) String() string {
	switch s {
	case More:
		return "more"
	case Idle:
		return "idle"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// Announcer is the helper-process feed a Peer reports to (spec.md
// section 6's outbound line protocol). process.Registry implements it;
// tests supply a fake.
type Announcer interface {
	NeighborUp(peer net.IP)
	NeighborDown(peer net.IP, reason string)
	UpdateStart(peer net.IP)
	Route(peer net.IP, line string)
	UpdateEnd(peer net.IP)
}

type phase int

const (
	phaseConnect phase = iota
	phaseSendOpen
	phaseAwaitOpen
	phaseSendKeepalive
	phaseAwaitKeepalive
	phaseAnnounceUp
	phaseStreamRIB
	phaseEOR
	phaseMain
	phaseStopped
)

// Peer drives one neighbor's session lifecycle across repeated Step
// calls. All mutation happens on the supervisor's single thread; there
// is no internal locking.
type Peer struct {
	neighbor route.Neighbor
	journal  *rib.Journal
	announce Announcer
	log      *logrus.Entry

	phase   phase
	session *protocol.Session
	up      bool // true once NeighborUp has fired, so NeighborDown fires at most once per up

	openDeadline time.Time
	asn4         bool // cleared sticky by the ASN4-downgrade path, reset on restart

	lastHaveRoutes []route.Route // the route set last streamed, for reload diffing

	backoff  time.Duration
	skipTime time.Time

	stopRequested     bool
	reloadRequested   bool
	restartRequested  bool
	clearRoutesBuffer bool
	pendingNeighbor   *route.Neighbor

	dial func(remote, local net.Addr, timeout time.Duration) (*conn.Connection, error)
	now  func() time.Time
}

// New constructs a Peer for neighbor, reporting route and up/down
// activity to announce. journal is the neighbor's route journal,
// normally owned and persisted by the supervisor across reconnects.
func New(neighbor route.Neighbor, journal *rib.Journal, announce Announcer) *Peer {
	return &Peer{
		neighbor: neighbor,
		journal:  journal,
		announce: announce,
		asn4:     true,
		dial:     conn.Connect,
		now:      time.Now,
		log:      logrus.WithField("component", "peer").WithField("neighbor", neighbor.String()),
	}
}

// Neighbor returns the currently active neighbor definition, for the
// supervisor's reload diff.
func (p *Peer) Neighbor() route.Neighbor {
	return p.neighbor
}

// IO exposes the underlying connection's net.Conn for the supervisor's
// readiness selector, or nil when the Peer has none open.
func (p *Peer) IO() net.Conn {
	if p.session == nil {
		return nil
	}
	return p.session.IO()
}

// Stop clears the running state; the next Step tears the session down
// and returns Stopped.
func (p *Peer) Stop() {
	p.stopRequested = true
}

// Reload replaces the neighbor's configured routes and requests a clean
// buffer plus full re-stream on the next Step.
func (p *Peer) Reload(routes []route.Route) {
	p.neighbor.Routes = routes
	p.reloadRequested = true
	p.clearRoutesBuffer = true
}

// Restart forces session teardown; the next Step re-establishes the
// session, optionally against newNeighbor in place of the current
// definition.
func (p *Peer) Restart(newNeighbor *route.Neighbor) {
	p.restartRequested = true
	p.pendingNeighbor = newNeighbor
}

// SetWatchdog updates the neighbor's watchdog suppression map and
// requests a route re-stream, without touching the configured route set
// itself (announce/withdraw watchdog affects visibility, not
// configuration, per spec_full.md section 5).
func (p *Peer) SetWatchdog(watchdog map[string]bool) {
	p.neighbor.Watchdog = watchdog
	p.reloadRequested = true
}

// Step advances the Peer by one cooperative unit of work.
func (p *Peer) Step() (Signal, error) {
	if p.stopRequested && p.phase != phaseStopped {
		return p.beginTeardown(message.PeerDeconfigured, "peer de-configured", true)
	}
	if p.restartRequested && p.phase != phaseStopped {
		p.restartRequested = false
		if p.pendingNeighbor != nil {
			p.neighbor = *p.pendingNeighbor
			p.pendingNeighbor = nil
		}
		p.asn4 = true
		return p.beginTeardown(message.AdministrativeReset, "restart requested", false)
	}

	if !p.skipTime.IsZero() && p.now().Before(p.skipTime) {
		return Idle, nil
	}

	switch p.phase {
	case phaseConnect:
		return p.stepConnect()
	case phaseSendOpen:
		return p.stepSendOpen()
	case phaseAwaitOpen:
		return p.stepAwaitOpen()
	case phaseSendKeepalive:
		return p.stepSendKeepalive()
	case phaseAwaitKeepalive:
		return p.stepAwaitKeepalive()
	case phaseAnnounceUp:
		return p.stepAnnounceUp()
	case phaseStreamRIB:
		return p.stepStreamRIB()
	case phaseEOR:
		return p.stepEOR()
	case phaseMain:
		return p.stepMain()
	case phaseStopped:
		return Stopped, nil
	}
	return Idle, fmt.Errorf("peer: unreachable phase %d", p.phase)
}

func (p *Peer) stepConnect() (Signal, error) {
	remote := &net.TCPAddr{IP: p.neighbor.PeerAddr, Port: route.DefaultPort}
	var local net.Addr
	if p.neighbor.LocalAddr != nil {
		local = &net.TCPAddr{IP: p.neighbor.LocalAddr}
	}
	c, err := p.dial(remote, local, connectTimeout)
	if err != nil {
		return p.handleSessionError(&protocol.ConnectFailure{Cause: err})
	}
	p.journal.Reset()
	p.session = protocol.New(p.neighbor, c, p.journal, p.asn4)
	p.phase = phaseSendOpen
	return More, nil
}

func (p *Peer) stepSendOpen() (Signal, error) {
	if err := p.session.NewOpen(); err != nil {
		return p.handleSessionError(err)
	}
	p.openDeadline = p.now().Add(maxWaitOpen)
	p.phase = phaseAwaitOpen
	return Idle, nil
}

func (p *Peer) stepAwaitOpen() (Signal, error) {
	if p.now().After(p.openDeadline) {
		notif := message.NewNotification(message.MessageHeaderError, message.ConnectionNotSynchronized,
			[]byte("timed out waiting for peer OPEN"))
		return p.sendNotificationAndFail(notif)
	}
	_, ok, err := p.session.ReadOpen()
	if err != nil {
		return p.handleSessionError(err)
	}
	if !ok {
		return Idle, nil
	}
	p.phase = phaseSendKeepalive
	return More, nil
}

func (p *Peer) stepSendKeepalive() (Signal, error) {
	if _, _, err := p.session.NewKeepalive(true); err != nil {
		return p.handleSessionError(err)
	}
	p.phase = phaseAwaitKeepalive
	return More, nil
}

func (p *Peer) stepAwaitKeepalive() (Signal, error) {
	m, err := p.session.ReadKeepalive()
	if err != nil {
		return p.handleSessionError(err)
	}
	if m.Header.Type == message.NOP {
		return Idle, nil
	}
	p.phase = phaseAnnounceUp
	return More, nil
}

func (p *Peer) stepAnnounceUp() (Signal, error) {
	p.announce.NeighborUp(p.neighbor.PeerAddr)
	p.up = true
	p.resetBackoff()
	p.lastHaveRoutes = nil
	p.phase = phaseStreamRIB
	return More, nil
}

func (p *Peer) stepStreamRIB() (Signal, error) {
	p.session.SetRoutes(p.lastHaveRoutes, visibleRoutes(p.neighbor))
	p.lastHaveRoutes = visibleRoutes(p.neighbor)
	raw, more, err := p.session.NextUpdateChunk()
	if err != nil {
		return p.handleSessionError(err)
	}
	if raw != nil {
		p.log.Debug("streamed initial RIB chunk")
	}
	if more {
		return More, nil
	}
	p.phase = phaseEOR
	return More, nil
}

func (p *Peer) stepEOR() (Signal, error) {
	frames, err := p.session.NewEORs()
	if err != nil {
		return p.handleSessionError(err)
	}
	if len(frames) == 0 {
		if _, _, err := p.session.NewKeepalive(true); err != nil {
			return p.handleSessionError(err)
		}
	}
	p.phase = phaseMain
	return Idle, nil
}

// stepMain is one tick of the main loop in spec.md section 4.5.
func (p *Peer) stepMain() (Signal, error) {
	if _, _, err := p.session.NewKeepalive(false); err != nil {
		return p.handleSessionError(err)
	}

	m, err := p.session.ReadMessage()
	if err != nil {
		return p.handleSessionError(err)
	}
	if m.Header.Type == message.UPDATE && p.neighbor.ReceiveUpdates {
		p.forwardUpdate(m.Update)
	}

	if _, err := p.session.CheckKeepalive(); err != nil {
		return p.handleSessionError(err)
	}

	if p.clearRoutesBuffer {
		p.session.ClearBuffer()
		p.clearRoutesBuffer = false
		p.lastHaveRoutes = nil
	}

	want := visibleRoutes(p.neighbor)
	if p.reloadRequested {
		p.session.SetRoutes(p.lastHaveRoutes, want)
		p.lastHaveRoutes = want
		p.reloadRequested = false
	}

	if len(want) > 0 || p.session.Buffered() > 0 {
		_, more, err := p.session.NextUpdateChunk()
		if err != nil {
			return p.handleSessionError(err)
		}
		if more {
			return More, nil
		}
	}

	return Idle, nil
}

func (p *Peer) forwardUpdate(u *message.UpdateMessage) {
	if u == nil {
		return
	}
	lines := updateLines(u)
	if len(lines) == 0 {
		return
	}
	p.announce.UpdateStart(p.neighbor.PeerAddr)
	for _, line := range lines {
		p.announce.Route(p.neighbor.PeerAddr, line)
	}
	p.announce.UpdateEnd(p.neighbor.PeerAddr)
}

func updateLines(u *message.UpdateMessage) []string {
	var lines []string
	for _, w := range u.Withdrawn {
		lines = append(lines, fmt.Sprintf("withdraw %s/%d", w.IP, w.Length))
	}
	for _, n := range u.NLRI {
		lines = append(lines, fmt.Sprintf("announce %s/%d", n.IP, n.Length))
	}
	return lines
}

// visibleRoutes applies the neighbor's watchdog suppressions to its
// configured route set: a route tagged with a watchdog name that is
// currently false (withdrawn) is excluded from the desired set
// (original_source/lib/exabgp/structure/supervisor.py's
// neighbor.watchdog(self.watchdogs), spec_full.md section 5).
func visibleRoutes(n route.Neighbor) []route.Route {
	if len(n.Watchdog) == 0 {
		return n.Routes
	}
	var visible []route.Route
	for _, r := range n.Routes {
		if r.Watchdog != "" {
			if up, known := n.Watchdog[r.Watchdog]; known && !up {
				continue
			}
		}
		visible = append(visible, r)
	}
	return visible
}

// handleSessionError implements the error taxonomy of spec.md section 7.
func (p *Peer) handleSessionError(err error) (Signal, error) {
	switch e := err.(type) {
	case *protocol.PeerReportedError:
		p.log.WithField("notification", e.Notification.String()).Warn("peer sent notification")
		p.teardownSession("peer reported: " + e.Notification.String())
		p.applyBackoff(false)
		return Idle, nil
	case *protocol.LocalProtocolViolation:
		skipBackoff := p.session != nil && p.session.ASN4Downgraded()
		if skipBackoff {
			p.asn4 = false
		}
		sendErr := p.session.NewNotification(e.Notification)
		if sendErr != nil {
			p.log.WithError(sendErr).Warn("failed to send notification before close")
		}
		p.log.WithField("notification", e.Notification.String()).Warn("local protocol violation")
		p.session = nil
		p.phase = phaseConnect
		p.announceDown(e.Notification.String())
		p.applyBackoff(skipBackoff)
		return Idle, nil
	case *protocol.SessionFailure:
		p.log.WithError(e).Warn("session failure")
		p.teardownSession(e.Error())
		p.applyBackoff(false)
		return Idle, nil
	case *protocol.ConnectFailure:
		p.log.WithError(e).Warn("connect failure")
		p.teardownSession(e.Error())
		p.applyBackoff(false)
		return Idle, nil
	default:
		p.log.WithError(err).Error("unhandled peer error")
		p.teardownSession(err.Error())
		p.applyBackoff(false)
		return Idle, errors.Wrap(err, "peer: unhandled error")
	}
}

func (p *Peer) sendNotificationAndFail(n *message.NotificationMessage) (Signal, error) {
	if err := p.session.NewNotification(n); err != nil {
		p.log.WithError(err).Warn("failed to send notification")
	}
	p.teardownSession(n.String())
	p.applyBackoff(false)
	return Idle, nil
}

func (p *Peer) teardownSession(reason string) {
	if p.session != nil {
		p.session.Close(reason)
	}
	p.announceDown(reason)
	p.session = nil
	p.phase = phaseConnect
}

// announceDown reports NeighborDown at most once per NeighborUp, so a run
// of failed connect/OPEN attempts before a session ever came up doesn't
// spam the helper-process feed with down events it was never told about
// going up.
func (p *Peer) announceDown(reason string) {
	if !p.up {
		return
	}
	p.announce.NeighborDown(p.neighbor.PeerAddr, reason)
	p.up = false
}

// beginTeardown closes any live session (NOTIFY(6,ceaseSubcode) unless
// both sides agreed graceful restart, in which case the close is
// silent) and either stops the Peer for good (terminal=true, Stop) or
// sends it back to phaseConnect to re-establish (terminal=false,
// Restart).
func (p *Peer) beginTeardown(ceaseSubcode byte, reason string, terminal bool) (Signal, error) {
	if p.session != nil {
		if p.neighbor.GracefulRestart && p.session.Negotiated().GracefulRestart {
			p.session.Close(reason)
		} else {
			notif := message.NewNotification(message.Cease, int(ceaseSubcode), nil)
			if err := p.session.NewNotification(notif); err != nil {
				p.log.WithError(err).Warn("failed to send notification during teardown")
			}
		}
		p.announceDown(reason)
		p.session = nil
	}
	p.resetBackoff()
	if terminal {
		p.phase = phaseStopped
		return Stopped, nil
	}
	p.phase = phaseConnect
	return Idle, nil
}

func (p *Peer) applyBackoff(skip bool) {
	if skip {
		p.skipTime = p.now()
		return
	}
	next := time.Duration(float64(p.backoff)*1.2) + time.Second
	if next > maxBackoff {
		next = maxBackoff
	}
	p.backoff = next
	p.skipTime = p.now().Add(p.backoff)
}

func (p *Peer) resetBackoff() {
	p.backoff = 0
	p.skipTime = time.Time{}
}
