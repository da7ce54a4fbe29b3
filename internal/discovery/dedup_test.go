package discovery

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"geogram/internal/model"
)

func TestDedup_PrefersLANOverLoopback(t *testing.T) {
	t.Parallel()

	loop := model.ScanResult{IP: "127.0.0.1", Port: 8080, Type: model.DeviceRelay, Callsign: "X1ABC"}
	lan := model.ScanResult{IP: "192.168.1.5", Port: 8080, Type: model.DeviceRelay, Callsign: "X1ABC"}

	for _, in := range [][]model.ScanResult{{loop, lan}, {lan, loop}} {
		got := Dedup(in)
		if diff := cmp.Diff([]model.ScanResult{lan}, got); diff != "" {
			t.Fatalf("dedup mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDedup_HigherScoreWins(t *testing.T) {
	t.Parallel()

	thin := model.ScanResult{IP: "192.168.1.9", Port: 3000, Callsign: "X1ABC"}
	rich := model.ScanResult{IP: "192.168.1.9", Port: 3000, Callsign: "x1abc", Version: "1.0", Description: "home"}

	got := Dedup([]model.ScanResult{thin, rich, thin})
	if diff := cmp.Diff([]model.ScanResult{rich}, got); diff != "" {
		t.Fatalf("dedup mismatch (-want +got):\n%s", diff)
	}
}

func TestDedup_DistinctPortsAndKeys(t *testing.T) {
	t.Parallel()

	in := []model.ScanResult{
		{IP: "192.168.1.5", Port: 8080, Callsign: "X1ABC"},
		{IP: "192.168.1.5", Port: 3000, Callsign: "X1ABC"},
		{IP: "192.168.1.6", Port: 80, Description: "kitchen"},
		{IP: "192.168.1.7", Port: 80, Description: "kitchen"},
		{IP: "192.168.1.8", Port: 80},
		{IP: "192.168.1.9", Port: 80},
	}
	if got := Dedup(in); len(got) != 5 {
		t.Fatalf("len=%d: %+v", len(got), got)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   model.ScanResult
		want string
	}{
		{model.ScanResult{IP: "10.0.0.1", Port: 80, Callsign: "x1abc", Description: "d"}, "callsign:X1ABC:80"},
		{model.ScanResult{IP: "10.0.0.1", Port: 80, Description: "d"}, "description:d:80"},
		{model.ScanResult{IP: "10.0.0.1", Port: 80}, "ip:10.0.0.1:80"},
	}
	for _, tc := range cases {
		if got := Key(tc.in); got != tc.want {
			t.Fatalf("Key(%+v)=%q want %q", tc.in, got, tc.want)
		}
	}
}
