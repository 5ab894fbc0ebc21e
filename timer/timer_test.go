package timer

import (
	"testing"
	"time"
)

func TestNewIsRunningAndNotImmediatelyDue(t *testing.T) {
	ts := New(1 * time.Second)
	if !ts.Running() {
		t.Errorf("expected timer to be running but it's not")
	}
	if ts.Due() {
		t.Errorf("expected timer not to be due immediately after New")
	}
}

func TestZeroIntervalNeverDue(t *testing.T) {
	ts := New(0)
	if ts.Running() {
		t.Errorf("expected a zero-interval timer to report not running")
	}
	if ts.Due() {
		t.Errorf("expected a zero-interval timer never to be due")
	}
	if ts.Remaining() != 0 {
		t.Errorf("expected a zero-interval timer to report zero remaining")
	}
}

func TestDueAfterDeadlinePasses(t *testing.T) {
	var now time.Time
	ts := New(time.Second)
	ts.now = func() time.Time { return now }
	ts.Reset()
	if ts.Due() {
		t.Errorf("expected timer not to be due right after Reset")
	}
	now = now.Add(2 * time.Second)
	if !ts.Due() {
		t.Errorf("expected timer to be due once its deadline has passed")
	}
}

func TestResetRearms(t *testing.T) {
	var now time.Time
	ts := New(time.Second)
	ts.now = func() time.Time { return now }
	ts.Reset()
	now = now.Add(2 * time.Second)
	if !ts.Due() {
		t.Fatalf("expected timer to be due")
	}
	ts.Reset()
	if ts.Due() {
		t.Errorf("expected Reset to rearm the deadline, but timer is still due")
	}
}

func TestStopDisarms(t *testing.T) {
	ts := New(time.Second)
	ts.Stop()
	if ts.Running() {
		t.Errorf("expected timer to be stopped")
	}
	if ts.Due() {
		t.Errorf("expected a stopped timer never to be due")
	}
	if ts.Remaining() != 0 {
		t.Errorf("expected a stopped timer to report zero remaining")
	}
}

func TestRemainingCountsDown(t *testing.T) {
	var now time.Time
	ts := New(10 * time.Second)
	ts.now = func() time.Time { return now }
	ts.Reset()
	now = now.Add(4 * time.Second)
	if got := ts.Remaining(); got != 6*time.Second {
		t.Errorf("expected 6s remaining, got %v", got)
	}
}
