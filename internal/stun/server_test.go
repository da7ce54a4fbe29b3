package stun

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"testing"
	"time"

	pion "github.com/pion/stun/v3"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"geogram/internal/lifecycle"
	"geogram/internal/logging"
)

func startServer(t *testing.T) (*Server, *net.UDPAddr) {
	t.Helper()
	s := NewServer(0, logging.Discard())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	port := s.LocalAddr().(*net.UDPAddr).Port
	return s, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func dial(t *testing.T, addr *net.UDPAddr) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServer_BindingRoundTrip(t *testing.T) {
	t.Parallel()

	s, addr := startServer(t)
	conn := dial(t, addr)

	req, err := pion.Build(pion.TransactionID, pion.BindingRequest)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := conn.Write(req.Raw); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	res := &pion.Message{Raw: buf[:n]}
	if err := res.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Type != pion.BindingSuccess {
		t.Fatalf("type=%v", res.Type)
	}
	if res.TransactionID != req.TransactionID {
		t.Fatalf("txid=%x want %x", res.TransactionID, req.TransactionID)
	}
	var xor pion.XORMappedAddress
	if err := xor.GetFrom(res); err != nil {
		t.Fatalf("GetFrom: %v", err)
	}
	local := conn.LocalAddr().(*net.UDPAddr)
	got, _ := netip.AddrFromSlice(xor.IP)
	if got.Unmap() != netip.MustParseAddr("127.0.0.1") || xor.Port != local.Port {
		t.Fatalf("mapped=%s local=%s", xor.String(), local)
	}

	deadline := time.Now().Add(time.Second)
	for s.RequestsHandled() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.RequestsHandled() != 1 {
		t.Fatalf("requests=%d", s.RequestsHandled())
	}
}

func TestServer_MalformedGetsNoResponse(t *testing.T) {
	t.Parallel()

	s, addr := startServer(t)
	conn := dial(t, addr)

	valid, err := pion.Build(pion.TransactionID, pion.BindingRequest)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	badCookie := append([]byte(nil), valid.Raw...)
	badCookie[7] ^= 0x01
	badLength := append(append([]byte(nil), valid.Raw...), 0xde, 0xad)

	dropped := func() map[string]float64 {
		out := map[string]float64{}
		for _, reason := range []string{"short", "cookie", "length"} {
			out[reason] = testutil.ToFloat64(droppedTotal.WithLabelValues(reason))
		}
		return out
	}
	before := dropped()

	for _, pkt := range [][]byte{valid.Raw[:12], badCookie, badLength, []byte("hello")} {
		if _, err := conn.Write(pkt); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected timeout, got n=%d err=%v", n, err)
	}
	if s.RequestsHandled() != 0 {
		t.Fatalf("requests=%d", s.RequestsHandled())
	}
	after := dropped()
	for reason, want := range map[string]float64{"short": 2, "cookie": 1, "length": 1} {
		if got := after[reason] - before[reason]; got < want {
			t.Fatalf("dropped{%s} grew by %v, want %v", reason, got, want)
		}
	}
}

func TestServer_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	s := NewServer(0, logging.Discard())
	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := s.LocalAddr().String()
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if s.LocalAddr().String() != first {
		t.Fatalf("second Start rebound the socket")
	}
	s.Stop()
	s.Stop()
	if s.State() != lifecycle.Stopped || s.LocalAddr() != nil {
		t.Fatalf("state=%v addr=%v", s.State(), s.LocalAddr())
	}
}

func TestServer_BindFailure(t *testing.T) {
	t.Parallel()

	busy, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer busy.Close()

	s := NewServer(busy.LocalAddr().(*net.UDPAddr).Port, logging.Discard())
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("expected bind error")
	}
	if s.State() != lifecycle.Failed {
		t.Fatalf("state=%v", s.State())
	}
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := NewServer(0, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()

	deadline := time.Now().Add(time.Second)
	for s.State() != lifecycle.Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if s.State() != lifecycle.Stopped {
		t.Fatalf("state=%v", s.State())
	}
}
