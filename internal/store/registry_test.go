package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRegistry_MissingFile_ReturnsEmpty(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "relays.yaml")
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if reg == nil {
		t.Fatalf("registry is nil")
	}
	if len(reg.Relays) != 0 {
		t.Fatalf("relays=%d", len(reg.Relays))
	}
}

func TestSaveRegistry_RoundTrip(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	path := filepath.Join(tmp, "relays.yaml")

	in := &Registry{Relays: []Relay{{URL: "http://192.168.1.5:8080", Callsign: "X1ABC", Preferred: true}}}
	if err := SaveRegistry(path, in); err != nil {
		t.Fatalf("SaveRegistry: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	out, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(out.Relays) != 1 {
		t.Fatalf("relays=%d", len(out.Relays))
	}
	if out.Relays[0].Callsign != "X1ABC" || !out.Relays[0].Preferred {
		t.Fatalf("relay=%+v", out.Relays[0])
	}
	if out.UpdatedAt.IsZero() {
		t.Fatalf("updated_at not set")
	}
}

func TestMerge_FirstRelayBecomesPreferred(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := &Registry{}
	if !reg.Merge(Relay{URL: "http://192.168.1.5:8080", Callsign: "X1ABC"}, now) {
		t.Fatal("expected add")
	}
	if !reg.Merge(Relay{URL: "http://192.168.1.6:8080", Callsign: "X1DEF"}, now) {
		t.Fatal("expected add")
	}
	p, ok := reg.Preferred()
	if !ok || p.Callsign != "X1ABC" {
		t.Fatalf("preferred=%+v ok=%v", p, ok)
	}
	if reg.Relays[1].Preferred {
		t.Fatalf("second relay must not be preferred")
	}
}

func TestMerge_ByURLUpdatesFields(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := &Registry{}
	reg.Merge(Relay{URL: "http://192.168.1.5:8080"}, now)
	if reg.Merge(Relay{URL: "http://192.168.1.5:8080", Callsign: "X1ABC", Version: "1.2.0"}, now.Add(time.Minute)) {
		t.Fatal("expected update, not add")
	}
	if len(reg.Relays) != 1 || reg.Relays[0].Callsign != "X1ABC" || reg.Relays[0].Version != "1.2.0" {
		t.Fatalf("relays=%+v", reg.Relays)
	}
	if !reg.Relays[0].LastSeenAt.After(reg.Relays[0].FirstSeenAt) {
		t.Fatalf("last_seen not refreshed")
	}
}

func TestMerge_ByCallsignPrefersLANOverLoopback(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reg := &Registry{}
	reg.Merge(Relay{URL: "http://127.0.0.1:8080", Callsign: "X1ABC"}, now)
	reg.Merge(Relay{URL: "http://192.168.1.5:8080", Callsign: "x1abc"}, now)
	if len(reg.Relays) != 1 {
		t.Fatalf("relays=%d", len(reg.Relays))
	}
	if reg.Relays[0].URL != "http://192.168.1.5:8080" {
		t.Fatalf("url=%q", reg.Relays[0].URL)
	}

	reg.Merge(Relay{URL: "http://localhost:8080", Callsign: "X1ABC"}, now)
	if reg.Relays[0].URL != "http://192.168.1.5:8080" {
		t.Fatalf("loopback replaced LAN url: %q", reg.Relays[0].URL)
	}
}

func TestRelayStore_Persists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relays.yaml")
	s, err := OpenRelayStore(path)
	if err != nil {
		t.Fatalf("OpenRelayStore: %v", err)
	}
	if _, err := s.Merge(Relay{URL: "http://10.0.0.2:80", Callsign: "X1ABC"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	again, err := OpenRelayStore(path)
	if err != nil {
		t.Fatalf("OpenRelayStore: %v", err)
	}
	list := again.List()
	if len(list) != 1 || !list[0].Preferred {
		t.Fatalf("list=%+v", list)
	}
}
