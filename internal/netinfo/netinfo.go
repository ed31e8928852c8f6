// Package netinfo finds the addresses other machines on the LAN can use to
// reach this process.
package netinfo

import (
	"net/netip"
	"slices"

	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// LANAddrs returns the IPv4 addresses of every up, non-loopback interface.
func LANAddrs() ([]string, error) {
	ifaces, err := gopsnet.Interfaces()
	if err != nil {
		return nil, err
	}
	return filterLAN(ifaces), nil
}

func filterLAN(ifaces gopsnet.InterfaceStatList) []string {
	var addrs []string
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, ok := parseAddr(a.Addr)
			if !ok || !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			addrs = append(addrs, ip.String())
		}
	}
	return addrs
}

// parseAddr accepts both "10.0.0.5/24" and bare "10.0.0.5".
func parseAddr(s string) (netip.Addr, bool) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr(), true
	}
	ip, err := netip.ParseAddr(s)
	return ip, err == nil
}
