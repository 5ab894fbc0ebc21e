package main

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/transitorykris/exard/route"
	"github.com/transitorykris/exard/supervisor"
)

// fileConfig is the bootstrapping configuration this module owns: just
// enough to build an initial neighbor set and start the configured
// helper processes. The attribute/flow-spec grammar and a full
// exabgp-style configuration language are external collaborators
// (spec_full.md section 1's Non-goals) — this is deliberately a thin
// YAML document, not that grammar.
type fileConfig struct {
	Neighbors []neighborConfig `yaml:"neighbors"`
	Processes []processConfig  `yaml:"processes"`
}

type neighborConfig struct {
	LocalAddress    string   `yaml:"local-address"`
	PeerAddress     string   `yaml:"peer-address"`
	LocalAS         uint32   `yaml:"local-as"`
	PeerAS          uint32   `yaml:"peer-as"`
	RouterID        string   `yaml:"router-id"`
	HoldTimeSeconds int      `yaml:"hold-time"`
	GracefulRestart bool     `yaml:"graceful-restart"`
	ReceiveUpdates  bool     `yaml:"receive-updates"`
	Routes          []string `yaml:"routes"`
}

type processConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

func loadConfig(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, errors.Wrapf(err, "bgpd: reading config %q", path)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, errors.Wrapf(err, "bgpd: parsing config %q", path)
	}
	return cfg, nil
}

// neighbors converts the file configuration into the route.Neighbor
// values supervisor.RequestReload expects.
func (c fileConfig) neighbors() ([]route.Neighbor, error) {
	out := make([]route.Neighbor, 0, len(c.Neighbors))
	for _, nc := range c.Neighbors {
		n, err := nc.toNeighbor()
		if err != nil {
			return nil, errors.Wrapf(err, "bgpd: neighbor %s", nc.PeerAddress)
		}
		out = append(out, n)
	}
	return out, nil
}

func (nc neighborConfig) toNeighbor() (route.Neighbor, error) {
	peerAddr := net.ParseIP(nc.PeerAddress)
	if peerAddr == nil {
		return route.Neighbor{}, errors.Errorf("invalid peer-address %q", nc.PeerAddress)
	}
	var localAddr net.IP
	if nc.LocalAddress != "" {
		localAddr = net.ParseIP(nc.LocalAddress)
		if localAddr == nil {
			return route.Neighbor{}, errors.Errorf("invalid local-address %q", nc.LocalAddress)
		}
	}

	routerID, err := nc.routerID()
	if err != nil {
		return route.Neighbor{}, err
	}

	holdTime := route.DefaultHoldTime
	if nc.HoldTimeSeconds > 0 {
		holdTime = time.Duration(nc.HoldTimeSeconds) * time.Second
	}

	routes := make([]route.Route, 0, len(nc.Routes))
	for _, spec := range nc.Routes {
		r, err := supervisor.ParseRouteSpec(spec)
		if err != nil {
			return route.Neighbor{}, errors.Wrapf(err, "route %q", spec)
		}
		routes = append(routes, r)
	}

	return route.Neighbor{
		LocalAddr:       localAddr,
		PeerAddr:        peerAddr,
		LocalASN:        nc.LocalAS,
		PeerASN:         nc.PeerAS,
		RouterID:        routerID,
		HoldTime:        holdTime,
		GracefulRestart: nc.GracefulRestart,
		ReceiveUpdates:  nc.ReceiveUpdates,
		Routes:          routes,
	}, nil
}

func (nc neighborConfig) routerID() (uint32, error) {
	if nc.RouterID == "" {
		return findRouterID()
	}
	ip := net.ParseIP(nc.RouterID).To4()
	if ip == nil {
		return 0, errors.Errorf("invalid router-id %q", nc.RouterID)
	}
	return ipToUint32(ip), nil
}
