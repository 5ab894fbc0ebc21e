package supervisor

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/transitorykris/exard/message"
	"github.com/transitorykris/exard/route"
)

// ParseRouteSpec parses spec using the same minimal route-spec grammar
// mutateRoute applies to helper-process commands, for a configuration
// loader building a neighbor's initial route set from the same textual
// form.
func ParseRouteSpec(spec string) (route.Route, error) {
	return parseRouteSpec(spec)
}

// parseRouteSpec parses the minimal route-spec grammar this module
// supports: "<prefix> [next-hop <ip>] [med <n>] [local-preference <n>]
// [as-path <asn,asn,...>] [origin igp|egp|incomplete] [watchdog <name>]".
// The full attribute grammar the original speaks (flow-spec matches,
// extended communities, aggregator, …) is out of scope (spec.md section
// 1's Non-goals); this covers the fields route.Route actually carries.
func parseRouteSpec(spec string) (route.Route, error) {
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return route.Route{}, errors.New("routespec: empty route spec")
	}

	prefix, err := parsePrefix(fields[0])
	if err != nil {
		return route.Route{}, err
	}
	r := route.Route{
		Family: familyOf(prefix),
		Prefix: prefix,
		Origin: message.OriginIGP,
	}

	i := 1
	for i < len(fields) {
		key := fields[i]
		switch key {
		case "next-hop":
			if i+1 >= len(fields) {
				return route.Route{}, errors.New("routespec: next-hop missing a value")
			}
			ip := net.ParseIP(fields[i+1])
			if ip == nil {
				return route.Route{}, errors.Errorf("routespec: invalid next-hop %q", fields[i+1])
			}
			r.NextHop = ip
			i += 2
		case "med":
			n, err := parseUint(fields, i+1, "med")
			if err != nil {
				return route.Route{}, err
			}
			r.HasMED = true
			r.MED = n
			i += 2
		case "local-preference":
			n, err := parseUint(fields, i+1, "local-preference")
			if err != nil {
				return route.Route{}, err
			}
			r.LocalPref = n
			i += 2
		case "as-path":
			if i+1 >= len(fields) {
				return route.Route{}, errors.New("routespec: as-path missing a value")
			}
			path, err := parseASPath(fields[i+1])
			if err != nil {
				return route.Route{}, err
			}
			r.ASPath = path
			i += 2
		case "origin":
			if i+1 >= len(fields) {
				return route.Route{}, errors.New("routespec: origin missing a value")
			}
			origin, err := parseOrigin(fields[i+1])
			if err != nil {
				return route.Route{}, err
			}
			r.Origin = origin
			i += 2
		case "watchdog":
			if i+1 >= len(fields) {
				return route.Route{}, errors.New("routespec: watchdog missing a value")
			}
			r.Watchdog = fields[i+1]
			i += 2
		default:
			return route.Route{}, errors.Errorf("routespec: unrecognized keyword %q", key)
		}
	}
	return r, nil
}

func parsePrefix(s string) (message.Prefix, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return message.Prefix{}, errors.Errorf("routespec: %q is not a CIDR prefix", s)
	}
	ip := net.ParseIP(parts[0])
	if ip == nil {
		return message.Prefix{}, errors.Errorf("routespec: invalid prefix address %q", parts[0])
	}
	length, err := strconv.Atoi(parts[1])
	if err != nil || length < 0 || length > 128 {
		return message.Prefix{}, errors.Errorf("routespec: invalid prefix length in %q", s)
	}
	return message.Prefix{IP: ip, Length: length}, nil
}

func familyOf(p message.Prefix) message.AFISAFI {
	if p.IP.To4() != nil {
		return message.IPv4Unicast
	}
	return message.IPv6Unicast
}

func parseUint(fields []string, idx int, name string) (uint32, error) {
	if idx >= len(fields) {
		return 0, errors.Errorf("routespec: %s missing a value", name)
	}
	n, err := strconv.ParseUint(fields[idx], 10, 32)
	if err != nil {
		return 0, errors.Errorf("routespec: invalid %s value %q", name, fields[idx])
	}
	return uint32(n), nil
}

func parseASPath(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	path := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, errors.Errorf("routespec: invalid AS-path element %q", p)
		}
		path = append(path, uint32(n))
	}
	return path, nil
}

func parseOrigin(s string) (byte, error) {
	switch s {
	case "igp":
		return message.OriginIGP, nil
	case "egp":
		return message.OriginEGP, nil
	case "incomplete":
		return message.OriginIncomplete, nil
	default:
		return 0, errors.Errorf("routespec: unknown origin %q", s)
	}
}
