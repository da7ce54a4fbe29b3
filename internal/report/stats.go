package report

import (
	"time"

	"geogram/internal/model"
)

// Summary describes the scan history within a time window.
type Summary struct {
	Count   int
	From    time.Time
	To      time.Time
	Hosts   int
	ByType  map[model.DeviceType]int
	Located int

	// AvgConnected and MaxConnected cover results that reported a count.
	AvgConnected float64
	MaxConnected int
}

// Summarize computes a summary of the items found at or after since.
func Summarize(items []model.ScanResult, since time.Time) Summary {
	s := Summary{ByType: make(map[model.DeviceType]int)}
	hosts := make(map[string]struct{})
	var connectedSum, connectedN int

	for _, r := range items {
		if r.FoundAt.Before(since) {
			continue
		}
		if s.Count == 0 || r.FoundAt.Before(s.From) {
			s.From = r.FoundAt
		}
		if s.Count == 0 || r.FoundAt.After(s.To) {
			s.To = r.FoundAt
		}
		s.Count++
		s.ByType[r.Type]++
		hosts[r.IP] = struct{}{}
		if r.Latitude != nil && r.Longitude != nil {
			s.Located++
		}
		if r.ConnectedDevices != nil {
			connectedSum += *r.ConnectedDevices
			connectedN++
			s.MaxConnected = max(s.MaxConnected, *r.ConnectedDevices)
		}
	}

	s.Hosts = len(hosts)
	if connectedN > 0 {
		s.AvgConnected = float64(connectedSum) / float64(connectedN)
	}
	return s
}
