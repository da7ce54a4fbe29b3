package addrutil

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// HostFromAddr extracts the host part of an address that may or may not
// carry a port, including unbracketed IPv6 "host:port" forms.
func HostFromAddr(addr string) string {
	a := strings.TrimSpace(addr)
	if a == "" {
		return ""
	}
	if u := strings.Index(a, "://"); u >= 0 {
		a = a[u+3:]
		if slash := strings.IndexByte(a, '/'); slash >= 0 {
			a = a[:slash]
		}
	}

	// Fast path: "host:port" (IPv4 or bracketed IPv6).
	if h, _, err := net.SplitHostPort(a); err == nil {
		return h
	}

	// Handle unbracketed IPv6 "host:port" by peeling off the last ":port".
	if strings.Count(a, ":") > 1 && !strings.HasPrefix(a, "[") {
		if last := strings.LastIndexByte(a, ':'); last > 0 && last < len(a)-1 {
			host := a[:last]
			port := a[last+1:]
			if _, err := strconv.Atoi(port); err == nil {
				if _, err := netip.ParseAddr(host); err == nil {
					return host
				}
			}
		}
	}

	if strings.Contains(a, ":") {
		// Likely raw IPv6 without port.
		return strings.Trim(a, "[]")
	}
	return a
}

// IsLoopback reports whether host is "localhost" or a loopback IP.
func IsLoopback(host string) bool {
	h := HostFromAddr(host)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	addr, err := netip.ParseAddr(h)
	if err != nil {
		return false
	}
	return addr.Unmap().IsLoopback()
}

// BaseURL returns "http://host:port" with IPv6 hosts bracketed.
func BaseURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Subnet24 returns the /24 network containing a non-loopback IPv4 address.
func Subnet24(ip netip.Addr) (netip.Prefix, bool) {
	ip = ip.Unmap()
	if !ip.Is4() || ip.IsLoopback() || ip.IsUnspecified() {
		return netip.Prefix{}, false
	}
	p, err := ip.Prefix(24)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}

// Hosts24 lists the host addresses .1 through .254 of a /24 prefix.
func Hosts24(p netip.Prefix) ([]netip.Addr, error) {
	if !p.Addr().Is4() || p.Bits() != 24 {
		return nil, fmt.Errorf("not an IPv4 /24: %s", p)
	}
	base := p.Masked().Addr().As4()
	hosts := make([]netip.Addr, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, netip.AddrFrom4([4]byte{base[0], base[1], base[2], byte(i)}))
	}
	return hosts, nil
}

// LocalSubnets derives the distinct /24 prefixes of the given interface
// addresses, in first-seen order.
func LocalSubnets(addrs []net.Addr) []netip.Prefix {
	seen := map[netip.Prefix]bool{}
	var out []netip.Prefix
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		p, ok := Subnet24(addr)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
