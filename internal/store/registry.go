package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"geogram/internal/addrutil"
)

// Registry persists relays found on the network.
type Registry struct {
	UpdatedAt time.Time `yaml:"updated_at"`
	Relays    []Relay   `yaml:"relays"`
}

// Relay is a known relay endpoint.
type Relay struct {
	URL         string    `yaml:"url"`
	Callsign    string    `yaml:"callsign,omitempty"`
	Name        string    `yaml:"name,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Version     string    `yaml:"version,omitempty"`
	Location    string    `yaml:"location,omitempty"`
	Latitude    *float64  `yaml:"latitude,omitempty"`
	Longitude   *float64  `yaml:"longitude,omitempty"`
	Preferred   bool      `yaml:"preferred"`
	Status      string    `yaml:"status"`
	FirstSeenAt time.Time `yaml:"first_seen_at"`
	LastSeenAt  time.Time `yaml:"last_seen_at"`
}

// LoadRegistry loads the registry from disk. If the file is missing, returns an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, err
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}

	return &reg, nil
}

// SaveRegistry writes the registry to disk.
func SaveRegistry(path string, reg *Registry) error {
	if reg == nil {
		return nil
	}
	reg.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Merge folds a discovered relay into the registry and reports whether a
// new entry was added. Entries are matched by URL first, then by callsign;
// for a callsign match a LAN URL replaces a loopback one but never the
// reverse. When no relay is preferred yet, the merged one becomes preferred.
func (r *Registry) Merge(in Relay, now time.Time) bool {
	idx := r.indexByURL(in.URL)
	if idx < 0 && in.Callsign != "" {
		idx = r.indexByCallsign(in.Callsign)
		if idx >= 0 {
			cur := r.Relays[idx].URL
			if addrutil.IsLoopback(cur) && !addrutil.IsLoopback(in.URL) {
				r.Relays[idx].URL = in.URL
			}
		}
	}

	added := false
	if idx >= 0 {
		e := &r.Relays[idx]
		mergeFields(e, in)
		e.Status = "online"
		e.LastSeenAt = now
	} else {
		in.Preferred = false
		in.Status = "online"
		in.FirstSeenAt = now
		in.LastSeenAt = now
		r.Relays = append(r.Relays, in)
		idx = len(r.Relays) - 1
		added = true
	}

	if r.preferredIndex() < 0 {
		r.Relays[idx].Preferred = true
	}
	return added
}

// Preferred returns the preferred relay, if any.
func (r *Registry) Preferred() (Relay, bool) {
	if i := r.preferredIndex(); i >= 0 {
		return r.Relays[i], true
	}
	return Relay{}, false
}

func (r *Registry) indexByURL(u string) int {
	for i := range r.Relays {
		if strings.EqualFold(r.Relays[i].URL, u) {
			return i
		}
	}
	return -1
}

func (r *Registry) indexByCallsign(cs string) int {
	for i := range r.Relays {
		if strings.EqualFold(r.Relays[i].Callsign, cs) {
			return i
		}
	}
	return -1
}

func (r *Registry) preferredIndex() int {
	for i := range r.Relays {
		if r.Relays[i].Preferred {
			return i
		}
	}
	return -1
}

func mergeFields(dst *Relay, src Relay) {
	if src.Callsign != "" {
		dst.Callsign = src.Callsign
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.Version != "" {
		dst.Version = src.Version
	}
	if src.Location != "" {
		dst.Location = src.Location
	}
	if src.Latitude != nil {
		dst.Latitude = src.Latitude
	}
	if src.Longitude != nil {
		dst.Longitude = src.Longitude
	}
}

// RelayStore is a mutex-guarded registry that is written through to disk
// after every change. An empty path keeps it in memory only.
type RelayStore struct {
	mu   sync.Mutex
	path string
	reg  *Registry
}

// OpenRelayStore loads the registry at path.
func OpenRelayStore(path string) (*RelayStore, error) {
	reg := &Registry{}
	if path != "" {
		var err error
		reg, err = LoadRegistry(path)
		if err != nil {
			return nil, err
		}
	}
	return &RelayStore{path: path, reg: reg}, nil
}

// Merge merges the relay and persists the registry.
func (s *RelayStore) Merge(in Relay) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := s.reg.Merge(in, time.Now().UTC())
	if s.path == "" {
		return added, nil
	}
	return added, SaveRegistry(s.path, s.reg)
}

// List returns a copy of all known relays.
func (s *RelayStore) List() []Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Relay(nil), s.reg.Relays...)
}

// Preferred returns the preferred relay, if any.
func (s *RelayStore) Preferred() (Relay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Preferred()
}
