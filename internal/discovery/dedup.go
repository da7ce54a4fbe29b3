package discovery

import (
	"strconv"
	"strings"
	"sync"

	"geogram/internal/addrutil"
	"geogram/internal/model"
)

// Key identifies a device across the addresses it answers on: callsign and
// port when known, else description and port, else ip and port.
func Key(r model.ScanResult) string {
	port := strconv.Itoa(r.Port)
	switch {
	case r.Callsign != "":
		return "callsign:" + strings.ToUpper(r.Callsign) + ":" + port
	case r.Description != "":
		return "description:" + r.Description + ":" + port
	default:
		return "ip:" + r.IP + ":" + port
	}
}

func score(r model.ScanResult) int {
	n := 0
	for _, s := range []string{r.Callsign, r.Description, r.Location, r.Version} {
		if s != "" {
			n++
		}
	}
	if !addrutil.IsLoopback(r.IP) {
		n++
	}
	return n
}

// replaces reports whether next should take the place of prev under the
// same key.
func replaces(next, prev model.ScanResult) bool {
	if addrutil.IsLoopback(prev.IP) && !addrutil.IsLoopback(next.IP) {
		return true
	}
	return score(next) > score(prev)
}

// resultSet is a keyed, insertion-ordered set of scan results.
type resultSet struct {
	mu    sync.Mutex
	order []string
	byKey map[string]model.ScanResult
}

func newResultSet() *resultSet {
	return &resultSet{byKey: make(map[string]model.ScanResult)}
}

// add stores r and reports whether it was new or replaced an entry.
func (s *resultSet) add(r model.ScanResult) bool {
	key := Key(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byKey[key]
	if !ok {
		s.order = append(s.order, key)
		s.byKey[key] = r
		return true
	}
	if !replaces(r, prev) {
		return false
	}
	s.byKey[key] = r
	return true
}

func (s *resultSet) list() []model.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScanResult, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.byKey[k])
	}
	return out
}

// Dedup collapses results that describe the same device.
func Dedup(results []model.ScanResult) []model.ScanResult {
	s := newResultSet()
	for _, r := range results {
		s.add(r)
	}
	return s.list()
}
