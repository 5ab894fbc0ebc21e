package main

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

// findRouterID picks a BGP identifier from the host's own interfaces when
// a neighbor's configuration doesn't set one explicitly: the first global
// unicast IPv4 address it finds (original network.FindBGPIdentifier's
// selection is equally arbitrary — RFC 4271 only requires the identifier
// be unique, not that it mean anything).
func findRouterID() (uint32, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return 0, errors.Wrap(err, "bgpd: listing interfaces")
	}
	for _, iface := range ifs {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			ip4 := ip.To4()
			if ip4 == nil {
				continue
			}
			if ip.IsGlobalUnicast() {
				return ipToUint32(ip4), nil
			}
		}
	}
	return 0, errors.New("bgpd: no usable router-id address found on this host")
}

func ipToUint32(ip4 net.IP) uint32 {
	return binary.BigEndian.Uint32(ip4)
}

func uint32ToIP(u uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, u)
	return ip
}
