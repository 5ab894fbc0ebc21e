package process

import (
	"context"
	"testing"
	"time"
)

// startEcho starts the "cat" helper, which echoes every stdin line back
// on stdout — a convenient stand-in for a real helper process without
// depending on a purpose-built test binary.
func startEcho(t *testing.T, r *Registry, name string) {
	t.Helper()
	if err := r.Start(context.Background(), name, "cat", nil); err != nil {
		t.Fatalf("Start(%q): %v", name, err)
	}
}

func waitForCommand(t *testing.T, r *Registry, deadline time.Duration) Command {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		cmds := r.Drain()
		if len(cmds) > 0 {
			return cmds[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no command arrived within %v", deadline)
	return Command{}
}

func TestRespondRoundTripsThroughEcho(t *testing.T) {
	r := New()
	startEcho(t, r, "svc-a")
	defer r.Shutdown()

	if err := r.Respond("svc-a", "hello"); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	got := waitForCommand(t, r, 2*time.Second)
	if got.Service != "svc-a" || got.Line != "hello" {
		t.Errorf("expected {svc-a hello}, got %+v", got)
	}
}

func TestRespondUnknownServiceErrors(t *testing.T) {
	r := New()
	if err := r.Respond("nope", "hi"); err == nil {
		t.Errorf("expected an error addressing an unknown helper")
	}
}

func TestBroadcastReachesEveryHelper(t *testing.T) {
	r := New()
	startEcho(t, r, "svc-a")
	startEcho(t, r, "svc-b")
	defer r.Shutdown()

	r.Broadcast("neighbor 192.0.2.1 up")

	seen := map[string]bool{}
	end := time.Now().Add(2 * time.Second)
	for time.Now().Before(end) && len(seen) < 2 {
		for _, c := range r.Drain() {
			if c.Line == "neighbor 192.0.2.1 up" {
				seen[c.Service] = true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !seen["svc-a"] || !seen["svc-b"] {
		t.Errorf("expected both helpers to receive the broadcast, got %v", seen)
	}
}

func TestStartRejectsDuplicateName(t *testing.T) {
	r := New()
	startEcho(t, r, "svc-a")
	defer r.Shutdown()

	if err := r.Start(context.Background(), "svc-a", "cat", nil); err == nil {
		t.Errorf("expected starting a duplicate helper name to fail")
	}
}

func TestDrainIsNonBlockingWhenEmpty(t *testing.T) {
	r := New()
	cmds := r.Drain()
	if cmds != nil {
		t.Errorf("expected Drain on an empty registry to return nil, got %v", cmds)
	}
}
