package addrutil

import (
	"net"
	"net/netip"
	"testing"
)

func TestHostFromAddr(t *testing.T) {
	cases := map[string]string{
		"192.168.1.5:8080":        "192.168.1.5",
		"http://10.0.0.2:80/api":  "10.0.0.2",
		"[::1]:8080":              "::1",
		"2001:db8::1:51820":       "2001:db8::1",
		"localhost":               "localhost",
		"  relay.example.org:80 ": "relay.example.org",
	}
	for in, want := range cases {
		if got := HostFromAddr(in); got != want {
			t.Fatalf("HostFromAddr(%q)=%q want %q", in, got, want)
		}
	}
}

func TestIsLoopback(t *testing.T) {
	for _, h := range []string{"127.0.0.1", "localhost", "http://127.0.0.1:8080", "::1"} {
		if !IsLoopback(h) {
			t.Fatalf("%q should be loopback", h)
		}
	}
	for _, h := range []string{"192.168.1.5", "relay.example.org", ""} {
		if IsLoopback(h) {
			t.Fatalf("%q should not be loopback", h)
		}
	}
}

func TestHosts24(t *testing.T) {
	p, ok := Subnet24(netip.MustParseAddr("192.168.7.42"))
	if !ok {
		t.Fatal("expected ok")
	}
	hosts, err := Hosts24(p)
	if err != nil {
		t.Fatalf("Hosts24: %v", err)
	}
	if len(hosts) != 254 {
		t.Fatalf("hosts=%d", len(hosts))
	}
	if hosts[0].String() != "192.168.7.1" || hosts[253].String() != "192.168.7.254" {
		t.Fatalf("first=%s last=%s", hosts[0], hosts[253])
	}
	if _, ok := Subnet24(netip.MustParseAddr("127.0.0.1")); ok {
		t.Fatal("loopback must not yield a subnet")
	}
}

func TestLocalSubnets_Dedupes(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("192.168.1.10"), Mask: net.CIDRMask(24, 32)},
		&net.IPNet{IP: net.ParseIP("192.168.1.11"), Mask: net.CIDRMask(24, 32)},
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("10.0.5.3"), Mask: net.CIDRMask(16, 32)},
	}
	got := LocalSubnets(addrs)
	if len(got) != 2 || got[0].String() != "192.168.1.0/24" || got[1].String() != "10.0.5.0/24" {
		t.Fatalf("subnets=%v", got)
	}
}

func TestBaseURL(t *testing.T) {
	if got := BaseURL("::1", 8080); got != "http://[::1]:8080" {
		t.Fatalf("got=%q", got)
	}
}
