package process

import "strings"

// Kind identifies which inbound verb a helper line carries (spec.md
// section 6). Parsing the route-spec/flow-spec payload itself is out
// of scope (spec.md section 1's Non-goals) — Kind and Arg only split
// off the leading verb(s), the Supervisor decides what to do with the
// remainder.
type Kind int

const (
	KindUnknown Kind = iota
	KindAnnounceRoute
	KindWithdrawRoute
	KindAnnounceFlow
	KindWithdrawFlow
	KindAnnounceWatchdog
	KindWithdrawWatchdog
	KindReload
	KindRestart
	KindShutdown
	KindVersion
	KindShowNeighbors
	KindShowRoutes
	KindShowRoutesExtensive
)

// Classified is the result of parsing one Command's line against the
// inbound grammar.
type Classified struct {
	Kind Kind
	Arg  string // remainder after the verb(s), verbatim
}

// Classify splits line into its verb and argument per spec.md section
// 6's inbound grammar. An unrecognized verb yields KindUnknown with Arg
// set to the original line, so the caller can answer "unknown command
// <c>" without re-deriving it.
func Classify(line string) Classified {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Classified{Kind: KindUnknown, Arg: line}
	}

	rest := func(n int) string {
		return strings.TrimSpace(strings.Join(fields[n:], " "))
	}

	switch fields[0] {
	case "announce":
		if len(fields) >= 2 {
			switch fields[1] {
			case "route":
				return Classified{Kind: KindAnnounceRoute, Arg: rest(2)}
			case "flow":
				return Classified{Kind: KindAnnounceFlow, Arg: rest(2)}
			case "watchdog":
				return Classified{Kind: KindAnnounceWatchdog, Arg: rest(2)}
			}
		}
	case "withdraw":
		if len(fields) >= 2 {
			switch fields[1] {
			case "route":
				return Classified{Kind: KindWithdrawRoute, Arg: rest(2)}
			case "flow":
				return Classified{Kind: KindWithdrawFlow, Arg: rest(2)}
			case "watchdog":
				return Classified{Kind: KindWithdrawWatchdog, Arg: rest(2)}
			}
		}
	case "reload":
		return Classified{Kind: KindReload}
	case "restart":
		return Classified{Kind: KindRestart}
	case "shutdown":
		return Classified{Kind: KindShutdown}
	case "version":
		return Classified{Kind: KindVersion}
	case "show":
		if len(fields) >= 2 && fields[1] == "neighbors" {
			return Classified{Kind: KindShowNeighbors}
		}
		if len(fields) >= 2 && fields[1] == "routes" {
			if len(fields) >= 3 && fields[2] == "extensive" {
				return Classified{Kind: KindShowRoutesExtensive}
			}
			return Classified{Kind: KindShowRoutes}
		}
	}
	return Classified{Kind: KindUnknown, Arg: line}
}

// IsRouteUpdate reports whether k mutates the configured route set,
// the trigger for the Supervisor's route_update flag (spec.md section
// 4.6's command classification).
func (k Kind) IsRouteUpdate() bool {
	switch k {
	case KindAnnounceRoute, KindWithdrawRoute, KindAnnounceFlow, KindWithdrawFlow,
		KindAnnounceWatchdog, KindWithdrawWatchdog:
		return true
	}
	return false
}
