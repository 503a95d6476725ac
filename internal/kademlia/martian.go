package kademlia

import (
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

// IsMartianAddr reports whether a multiaddr's embedded IP (if any) is
// martian. Addresses with no IP component (e.g. bare /p2p-circuit) are
// never treated as martian by this check; callers filtering candidate
// peers should still require at least one non-martian address overall.
func IsMartianAddr(a ma.Multiaddr) bool {
	ip, ok := addrIP(a)
	if !ok {
		return false
	}
	return isMartian(ip)
}

// isMartian reports whether ip is not valid on the public internet: RFC
// 1918 private ranges, loopback, link-local, or multicast — the
// definition used throughout the specification to filter candidate peer
// endpoints before dialing them.
func isMartian(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		for _, block := range privateV4Blocks {
			if block.Contains(v4) {
				return true
			}
		}
	}
	return false
}

var privateV4Blocks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10", // carrier-grade NAT
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}
