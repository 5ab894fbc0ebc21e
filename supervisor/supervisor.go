// Package supervisor implements the single-threaded cooperative loop
// that drives every configured Peer, dispatches helper-process commands,
// and answers the daemon's signal-derived intents (spec.md section
// 4.6). It is the only owner of the configuration object, the peers
// map, and the processes registry (spec.md section 5's Shared
// resources note).
package supervisor

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/transitorykris/exard/peer"
	"github.com/transitorykris/exard/process"
	"github.com/transitorykris/exard/rib"
	"github.com/transitorykris/exard/route"
)

// speed is the target outer-loop cadence (spec.md section 4.6).
const speed = 500 * time.Millisecond

// roundCap bounds a single peer round-robin pass (spec.md section 4.6
// step 3); RFC 4271 allows no more than one KEEPALIVE per second.
const roundCap = 1 * time.Second

type peerEntry struct {
	p       *peer.Peer
	journal *rib.Journal
}

// Supervisor owns every running Peer and the helper-process registry
// for the daemon's lifetime.
type Supervisor struct {
	peers     map[string]*peerEntry
	neighbors map[string]route.Neighbor // last-applied definitions, for reload diffing
	watchdogs map[string]bool

	processes *process.Registry

	shutdownRequested bool
	shuttingDown      bool // sticky once doShutdown has run, unlike shutdownRequested
	reloadRequested   bool
	restartRequested  bool
	pendingNeighbors  []route.Neighbor

	lastRoundTruncated bool

	now func() time.Time
	log *logrus.Entry
}

// New constructs a Supervisor with no peers configured; call
// RequestReload with the initial neighbor set before the first Run
// iteration to bring any peers up.
func New(processes *process.Registry) *Supervisor {
	return &Supervisor{
		peers:     make(map[string]*peerEntry),
		neighbors: make(map[string]route.Neighbor),
		watchdogs: make(map[string]bool),
		processes: processes,
		now:       time.Now,
		log:       logrus.WithField("component", "supervisor"),
	}
}

// RequestShutdown latches a shutdown intent, applied at the next
// iteration boundary (spec.md section 5: signals are "never inside a
// codec call").
func (s *Supervisor) RequestShutdown() {
	s.shutdownRequested = true
}

// RequestReload replaces the desired neighbor set, applied at the next
// iteration boundary.
func (s *Supervisor) RequestReload(neighbors []route.Neighbor) {
	s.reloadRequested = true
	s.pendingNeighbors = neighbors
}

// RequestRestart forces every current peer to restart against its
// existing definition (SIGALRM, spec.md section 6).
func (s *Supervisor) RequestRestart() {
	s.restartRequested = true
}

// Done reports whether every peer has reached its stopped phase, for
// the caller driving Run to know when a shutdown has fully drained.
func (s *Supervisor) Done() bool {
	return s.shuttingDown && len(s.peers) == 0
}

// Tick runs exactly one outer iteration of spec.md section 4.6 and
// returns the duration the caller should next sleep or poll for
// (speed minus however long this iteration took, floored at zero).
func (s *Supervisor) Tick() time.Duration {
	tickStart := s.now()

	s.drainCommands()
	s.applyOneControlAction()

	s.lastRoundTruncated = s.runPeerRound(tickStart)

	elapsed := s.now().Sub(tickStart)
	remaining := speed - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Run drives Tick forever, blocking on the peers' connections between
// iterations via the readiness selector, until shutdown has fully
// drained every peer.
func (s *Supervisor) Run() error {
	for {
		remaining := s.Tick()
		if s.Done() {
			return s.processes.Shutdown()
		}
		conns := s.liveConns()
		if len(conns) > 0 {
			if err := wait(conns, remaining); err != nil {
				s.log.WithError(err).Warn("readiness wait failed")
				time.Sleep(remaining)
			}
		} else {
			time.Sleep(remaining)
		}
	}
}

func (s *Supervisor) liveConns() []net.Conn {
	var conns []net.Conn
	for _, e := range s.peers {
		if c := e.p.IO(); c != nil {
			conns = append(conns, c)
		}
	}
	return conns
}

// runPeerRound steps every peer until each has yielded anything other
// than More, or roundCap elapses. It returns true if the cap triggered
// (truncated), in which case a pending reload must be deferred one
// cycle (spec.md section 4.6 step 3).
func (s *Supervisor) runPeerRound(roundStart time.Time) bool {
	active := make(map[string]bool, len(s.peers))
	for key := range s.peers {
		active[key] = true
	}

	for len(active) > 0 {
		if s.now().Sub(roundStart) >= roundCap {
			return true
		}
		for key := range active {
			entry, ok := s.peers[key]
			if !ok {
				delete(active, key)
				continue
			}
			sig, err := entry.p.Step()
			if err != nil {
				s.log.WithError(err).WithField("peer", key).Error("peer step failed")
			}
			if sig == peer.Stopped {
				delete(s.peers, key)
				delete(active, key)
				continue
			}
			if sig != peer.More {
				delete(active, key)
			}
		}
		if s.now().Sub(roundStart) >= roundCap {
			return len(active) > 0
		}
	}
	return false
}

// drainCommands pulls every queued helper-process command and applies
// the ones that mutate configuration immediately (route/flow/watchdog),
// since those don't compete with the one-action-per-iteration rule that
// governs shutdown/reload/restart.
func (s *Supervisor) drainCommands() {
	for _, cmd := range s.processes.Drain() {
		s.handleCommand(cmd)
	}
}

func (s *Supervisor) handleCommand(cmd process.Command) {
	parsed := process.Classify(cmd.Line)
	switch parsed.Kind {
	case process.KindAnnounceRoute:
		s.mutateRoute(cmd.Service, parsed.Arg, true)
	case process.KindWithdrawRoute:
		s.mutateRoute(cmd.Service, parsed.Arg, false)
	case process.KindAnnounceFlow, process.KindWithdrawFlow:
		s.log.WithField("service", cmd.Service).Info("flow-spec commands are not implemented")
		s.reply(cmd.Service, "flow-spec not supported")
	case process.KindAnnounceWatchdog:
		s.setWatchdog(parsed.Arg, true)
		s.reply(cmd.Service, "watchdog "+parsed.Arg+" up")
	case process.KindWithdrawWatchdog:
		s.setWatchdog(parsed.Arg, false)
		s.reply(cmd.Service, "watchdog "+parsed.Arg+" down")
	case process.KindReload:
		s.reloadRequested = true
		s.pendingNeighbors = s.currentNeighbors()
		s.reply(cmd.Service, "reload scheduled")
	case process.KindRestart:
		s.restartRequested = true
		s.reply(cmd.Service, "restart scheduled")
	case process.KindShutdown:
		s.shutdownRequested = true
		s.reply(cmd.Service, "shutdown in progress")
	case process.KindVersion:
		s.reply(cmd.Service, "exard bgpd")
	case process.KindShowNeighbors:
		s.reply(cmd.Service, s.showNeighbors())
	case process.KindShowRoutes:
		s.reply(cmd.Service, s.showRoutes(false))
	case process.KindShowRoutesExtensive:
		s.reply(cmd.Service, s.showRoutes(true))
	default:
		s.log.WithField("line", cmd.Line).Warn("unknown helper command")
		s.reply(cmd.Service, "unknown command "+cmd.Line)
	}
}

func (s *Supervisor) reply(service, line string) {
	if err := s.processes.Respond(service, line); err != nil {
		s.log.WithError(err).WithField("service", service).Warn("failed to reply to helper")
	}
}

// mutateRoute applies an announce/withdraw route command to every
// configured neighbor's route set (the original's route commands are
// global, not addressed to one peer — per-neighbor targeting is carried
// by neighbor-scoped configuration blocks, out of scope here).
func (s *Supervisor) mutateRoute(service, spec string, announce bool) {
	r, err := parseRouteSpec(spec)
	if err != nil {
		s.log.WithError(err).WithField("spec", spec).Warn("invalid route spec")
		s.reply(service, "invalid route: "+err.Error())
		return
	}
	for key, n := range s.neighbors {
		n.Routes = applyRoute(n.Routes, r, announce)
		s.neighbors[key] = n
		if entry, ok := s.peers[key]; ok {
			entry.p.Reload(n.Routes)
		}
	}
	verb := "withdraw"
	if announce {
		verb = "announce"
	}
	s.reply(service, verb+" route "+r.Line()+" done")
}

func applyRoute(routes []route.Route, r route.Route, announce bool) []route.Route {
	out := make([]route.Route, 0, len(routes)+1)
	for _, existing := range routes {
		if existing.Key() == r.Key() {
			continue
		}
		out = append(out, existing)
	}
	if announce {
		out = append(out, r)
	}
	return out
}

func (s *Supervisor) setWatchdog(name string, up bool) {
	s.watchdogs[name] = up
	snapshot := make(map[string]bool, len(s.watchdogs))
	for k, v := range s.watchdogs {
		snapshot[k] = v
	}
	for _, entry := range s.peers {
		entry.p.SetWatchdog(snapshot)
	}
}

func (s *Supervisor) currentNeighbors() []route.Neighbor {
	out := make([]route.Neighbor, 0, len(s.neighbors))
	for _, n := range s.neighbors {
		out = append(out, n)
	}
	return out
}

func (s *Supervisor) showNeighbors() string {
	out := ""
	for _, n := range s.neighbors {
		out += n.PeerAddr.String() + " "
	}
	return out
}

func (s *Supervisor) showRoutes(extensive bool) string {
	out := ""
	for key, n := range s.neighbors {
		for _, r := range n.Routes {
			if extensive {
				journaled := 0
				if entry, ok := s.peers[key]; ok {
					journaled = entry.journal.Len()
				}
				out += fmt.Sprintf("%s %s (journal depth %d)\n", n.PeerAddr, r.Line(), journaled)
			} else {
				out += r.Line() + "\n"
			}
		}
	}
	return out
}

// applyOneControlAction performs at most one of shutdown, reload,
// restart this iteration (spec.md section 4.6 step 2), in that priority
// order, since a shutdown in progress should not be undone by a
// simultaneous reload.
func (s *Supervisor) applyOneControlAction() {
	switch {
	case s.shutdownRequested:
		s.doShutdown()
		s.shutdownRequested = false
	case s.reloadRequested && !s.lastRoundTruncated:
		// A reload is deferred one cycle while the previous peer round
		// didn't finish within roundCap, since applying it now could
		// stop a peer the round-robin hasn't actually stepped yet this
		// pass.
		s.doReload()
		s.reloadRequested = false
	case s.restartRequested:
		s.doRestart()
		s.restartRequested = false
	}
}

// doReload diffs the pending neighbor set against what's currently
// running (spec.md section 4.6's Reload semantics).
func (s *Supervisor) doReload() {
	want := make(map[string]route.Neighbor, len(s.pendingNeighbors))
	for _, n := range s.pendingNeighbors {
		want[n.PeerAddr.String()] = n
	}

	for key, entry := range s.peers {
		n, stillWanted := want[key]
		if !stillWanted {
			entry.p.Stop()
			continue
		}
		old := s.neighbors[key]
		if old.Equal(n) {
			entry.p.Reload(n.Routes)
		} else {
			entry.p.Restart(&n)
		}
		s.neighbors[key] = n
	}

	for key, n := range want {
		if _, exists := s.peers[key]; exists {
			continue
		}
		s.addPeer(key, n)
	}
}

func (s *Supervisor) addPeer(key string, n route.Neighbor) {
	n.Watchdog = s.snapshotWatchdogs()
	j := rib.New()
	p := peer.New(n, j, s.processes)
	s.peers[key] = &peerEntry{p: p, journal: j}
	s.neighbors[key] = n
}

func (s *Supervisor) snapshotWatchdogs() map[string]bool {
	snapshot := make(map[string]bool, len(s.watchdogs))
	for k, v := range s.watchdogs {
		snapshot[k] = v
	}
	return snapshot
}

// doRestart forces every currently running peer to tear down and
// re-establish against its existing definition (SIGALRM).
func (s *Supervisor) doRestart() {
	for _, entry := range s.peers {
		entry.p.Restart(nil)
	}
}

// doShutdown marks every peer stopped; Run finishes tearing down the
// helper registry once Done reports every peer has actually stopped
// (spec.md section 4.6's Shutdown semantics).
func (s *Supervisor) doShutdown() {
	s.shuttingDown = true
	for _, entry := range s.peers {
		entry.p.Stop()
	}
}
