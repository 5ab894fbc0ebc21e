package process

import "testing"

func TestClassifyRouteVerbs(t *testing.T) {
	cases := []struct {
		line string
		kind Kind
		arg  string
	}{
		{"announce route 10.0.0.0/24 next-hop 1.2.3.4", KindAnnounceRoute, "10.0.0.0/24 next-hop 1.2.3.4"},
		{"withdraw route 10.0.0.0/24", KindWithdrawRoute, "10.0.0.0/24"},
		{"announce flow match-src 10.0.0.0/8", KindAnnounceFlow, "match-src 10.0.0.0/8"},
		{"withdraw flow match-src 10.0.0.0/8", KindWithdrawFlow, "match-src 10.0.0.0/8"},
		{"announce watchdog dns", KindAnnounceWatchdog, "dns"},
		{"withdraw watchdog dns", KindWithdrawWatchdog, "dns"},
	}
	for _, c := range cases {
		got := Classify(c.line)
		if got.Kind != c.kind || got.Arg != c.arg {
			t.Errorf("Classify(%q) = {%v,%q}, want {%v,%q}", c.line, got.Kind, got.Arg, c.kind, c.arg)
		}
		if !got.Kind.IsRouteUpdate() {
			t.Errorf("Classify(%q).Kind should be a route update trigger", c.line)
		}
	}
}

func TestClassifyControlVerbs(t *testing.T) {
	cases := map[string]Kind{
		"reload":               KindReload,
		"restart":              KindRestart,
		"shutdown":             KindShutdown,
		"version":              KindVersion,
		"show neighbors":       KindShowNeighbors,
		"show routes":          KindShowRoutes,
		"show routes extensive": KindShowRoutesExtensive,
	}
	for line, want := range cases {
		got := Classify(line)
		if got.Kind != want {
			t.Errorf("Classify(%q).Kind = %v, want %v", line, got.Kind, want)
		}
		if got.Kind.IsRouteUpdate() {
			t.Errorf("Classify(%q) should not be a route update trigger", line)
		}
	}
}

func TestClassifyUnknownReturnsWholeLine(t *testing.T) {
	got := Classify("frobnicate everything")
	if got.Kind != KindUnknown {
		t.Fatalf("expected KindUnknown, got %v", got.Kind)
	}
	if got.Arg != "frobnicate everything" {
		t.Errorf("expected Arg to carry the original line, got %q", got.Arg)
	}
}

func TestClassifyEmptyLine(t *testing.T) {
	got := Classify("")
	if got.Kind != KindUnknown {
		t.Errorf("expected an empty line to classify as unknown, got %v", got.Kind)
	}
}
