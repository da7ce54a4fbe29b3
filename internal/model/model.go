package model

import "time"

// DeviceType classifies a host answering a discovery probe.
type DeviceType string

const (
	DeviceRelay   DeviceType = "relay"
	DeviceDesktop DeviceType = "desktop"
	DeviceClient  DeviceType = "client"
	DeviceUnknown DeviceType = "unknown"
)

// ScanResult is one host found during a network scan. It is never persisted.
type ScanResult struct {
	IP               string
	Port             int
	Type             DeviceType
	Callsign         string
	Name             string
	Version          string
	Description      string
	Location         string
	Latitude         *float64
	Longitude        *float64
	ConnectedDevices *int
	FoundAt          time.Time
}
