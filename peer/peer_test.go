package peer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitorykris/exard/conn"
	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/protocol"
	"github.com/transitorykris/exard/rib"
	"github.com/transitorykris/exard/route"
)

// fakeAnnouncer records every call a Peer makes against the Announcer
// interface, guarded by a mutex since the integration test drives Step
// from the test goroutine while nothing else touches it concurrently,
// but recording defensively costs nothing.
type fakeAnnouncer struct {
	mu     sync.Mutex
	ups    []net.IP
	downs  []string
	starts int
	ends   int
	routes []string
}

func (f *fakeAnnouncer) NeighborUp(peer net.IP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups = append(f.ups, peer)
}

func (f *fakeAnnouncer) NeighborDown(peer net.IP, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs = append(f.downs, reason)
}

func (f *fakeAnnouncer) UpdateStart(peer net.IP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakeAnnouncer) Route(peer net.IP, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = append(f.routes, line)
}

func (f *fakeAnnouncer) UpdateEnd(peer net.IP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
}

func (f *fakeAnnouncer) upCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ups)
}

func (f *fakeAnnouncer) routeLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.routes...)
}

func testNeighbor() route.Neighbor {
	return route.Neighbor{
		LocalAddr:      net.ParseIP("192.0.2.1"),
		PeerAddr:       net.ParseIP("192.0.2.2"),
		LocalASN:       65001,
		PeerASN:        65002,
		RouterID:       0x0A000001,
		HoldTime:       90 * time.Second,
		ReceiveUpdates: true,
	}
}

func TestApplyBackoffGrowsAndCaps(t *testing.T) {
	fixed := time.Unix(1000, 0)
	p := &Peer{now: func() time.Time { return fixed }}

	p.applyBackoff(false)
	assert.Equal(t, time.Second, p.backoff, "expected first backoff of 1s")
	assert.True(t, p.skipTime.Equal(fixed.Add(time.Second)), "expected skipTime = now+backoff, got %v", p.skipTime)

	for i := 0; i < 50; i++ {
		p.applyBackoff(false)
	}
	assert.Equal(t, maxBackoff, p.backoff, "expected backoff to cap")
}

func TestApplyBackoffSkipDoesNotGrow(t *testing.T) {
	fixed := time.Unix(2000, 0)
	p := &Peer{now: func() time.Time { return fixed }}
	p.applyBackoff(true)
	assert.Zero(t, p.backoff, "expected a skip to leave backoff untouched")
	assert.True(t, p.skipTime.Equal(fixed), "expected skipTime == now on a skip")
}

func TestResetBackoffClearsState(t *testing.T) {
	p := &Peer{now: time.Now, backoff: 30 * time.Second, skipTime: time.Now().Add(time.Minute)}
	p.resetBackoff()
	assert.Zero(t, p.backoff)
	assert.True(t, p.skipTime.IsZero())
}

func TestStopTerminatesPeer(t *testing.T) {
	p := New(testNeighbor(), rib.New(), &fakeAnnouncer{})
	p.Stop()

	sig, err := p.Step()
	require.NoError(t, err)
	require.Equal(t, Stopped, sig)
	assert.Equal(t, phaseStopped, p.phase)

	sig, err = p.Step()
	require.NoError(t, err)
	assert.Equal(t, Stopped, sig, "expected a stopped Peer to keep returning Stopped")
}

func TestRestartReconnectsRatherThanStopping(t *testing.T) {
	p := New(testNeighbor(), rib.New(), &fakeAnnouncer{})
	p.phase = phaseMain // simulate being mid-session with no live socket
	p.Restart(nil)

	sig, err := p.Step()
	require.NoError(t, err)
	assert.Equal(t, Idle, sig, "expected Idle from a restart")
	assert.Equal(t, phaseConnect, p.phase, "expected a restart to send the peer back to phaseConnect")
	assert.False(t, p.restartRequested, "expected restartRequested to be cleared after handling")
}

func TestRestartSwapsInNewNeighbor(t *testing.T) {
	p := New(testNeighbor(), rib.New(), &fakeAnnouncer{})
	p.phase = phaseMain
	newNeighbor := testNeighbor()
	newNeighbor.PeerASN = 65099
	p.Restart(&newNeighbor)

	_, err := p.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(65099), p.neighbor.PeerASN, "expected the neighbor definition to be swapped in")
}

func TestReloadUpdatesRoutesAndFlags(t *testing.T) {
	p := New(testNeighbor(), rib.New(), &fakeAnnouncer{})
	newRoutes := []route.Route{{
		Family: message.IPv4Unicast,
		Prefix: message.Prefix{Length: 24, IP: net.ParseIP("198.51.100.0")},
	}}
	p.Reload(newRoutes)

	require.Len(t, p.neighbor.Routes, 1, "expected Reload to replace the neighbor's route set")
	assert.True(t, p.neighbor.Routes[0].Prefix.IP.Equal(newRoutes[0].Prefix.IP))
	assert.True(t, p.reloadRequested, "expected Reload to request a reload")
	assert.True(t, p.clearRoutesBuffer, "expected Reload to request a buffer clear")
}

func TestNeighborAccessorReflectsCurrentDefinition(t *testing.T) {
	n := testNeighbor()
	p := New(n, rib.New(), &fakeAnnouncer{})
	assert.True(t, p.Neighbor().PeerAddr.Equal(n.PeerAddr), "expected Neighbor() to return the configured neighbor")
}

func TestIOIsNilBeforeConnect(t *testing.T) {
	p := New(testNeighbor(), rib.New(), &fakeAnnouncer{})
	assert.Nil(t, p.IO(), "expected a nil IO() before any session exists")
}

// remoteDriver runs a scripted counterpart peer against s, standing in
// for the far end of the pipe: completes OPEN/KEEPALIVE, then announces
// one route once both sides are through the handshake.
func remoteDriver(t *testing.T, s *protocol.Session, announce route.Route, done chan<- struct{}) {
	deadline := time.Now().Add(5 * time.Second)
	if err := s.NewOpen(); err != nil {
		t.Errorf("remote NewOpen: %v", err)
		return
	}
	for time.Now().Before(deadline) {
		_, ok, err := s.ReadOpen()
		if err != nil {
			t.Errorf("remote ReadOpen: %v", err)
			return
		}
		if ok {
			break
		}
	}
	if _, _, err := s.NewKeepalive(true); err != nil {
		t.Errorf("remote NewKeepalive: %v", err)
		return
	}
	for time.Now().Before(deadline) {
		m, err := s.ReadKeepalive()
		if err != nil {
			t.Errorf("remote ReadKeepalive: %v", err)
			return
		}
		if m.Header.Type == message.KEEPALIVE {
			break
		}
	}

	s.SetRoutes(nil, []route.Route{announce})
	for {
		_, more, err := s.NextUpdateChunk()
		if err != nil {
			t.Errorf("remote NextUpdateChunk: %v", err)
			return
		}
		if !more {
			break
		}
	}
	close(done)

	// Keep reading so the local peer's own keepalives and EORs don't
	// back up against an unread pipe for the remainder of the test.
	for time.Now().Before(deadline.Add(2 * time.Second)) {
		if _, err := s.ReadMessage(); err != nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPeerReachesMainLoopAndForwardsUpdates(t *testing.T) {
	localEnd, remoteEnd := net.Pipe()

	p := New(testNeighbor(), rib.New(), &fakeAnnouncer{})
	fake := p.announce.(*fakeAnnouncer)
	p.dial = func(remote, local net.Addr, timeout time.Duration) (*conn.Connection, error) {
		return conn.Wrap(localEnd), nil
	}

	remoteNeighbor := testNeighbor()
	remoteNeighbor.LocalAddr, remoteNeighbor.PeerAddr = remoteNeighbor.PeerAddr, remoteNeighbor.LocalAddr
	remoteNeighbor.LocalASN, remoteNeighbor.PeerASN = remoteNeighbor.PeerASN, remoteNeighbor.LocalASN
	remoteNeighbor.RouterID = 0x0A000002
	remoteSession := protocol.New(remoteNeighbor, conn.Wrap(remoteEnd), rib.New(), true)

	announced := route.Route{
		Family: message.IPv4Unicast,
		Prefix: message.Prefix{Length: 24, IP: net.ParseIP("203.0.113.0")},
		Origin: message.OriginIGP,
	}

	sent := make(chan struct{})
	go remoteDriver(t, remoteSession, announced, sent)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, err := p.Step()
		require.NoError(t, err)
		if p.phase == phaseMain && len(fake.routeLines()) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case <-sent:
	default:
		t.Fatalf("remote driver never announced its route within the deadline")
	}

	lines := fake.routeLines()
	require.NotEmpty(t, lines, "expected the local peer to forward at least one announced route")
	assert.Contains(t, lines, "announce 203.0.113.0/24")
	assert.Equal(t, 1, fake.upCount(), "expected exactly one NeighborUp call")
}
