package discovery

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"geogram/internal/model"
)

var titleRe = regexp.MustCompile(`(?is)<title>\s*(.*?)\s*</title>`)

// Classify maps a probe response to a device type. The service field wins
// over the rest of the body; relay and station flags also mark a relay.
func Classify(service string, body []byte, relayFlag bool) model.DeviceType {
	if t := classifyText(service); t != model.DeviceUnknown {
		if t == model.DeviceClient && relayFlag {
			return model.DeviceRelay
		}
		return t
	}
	if relayFlag {
		return model.DeviceRelay
	}
	return classifyText(string(body))
}

func classifyText(s string) model.DeviceType {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "geogram relay"),
		strings.Contains(s, "geogram-relay"),
		strings.Contains(s, "geogram station"):
		return model.DeviceRelay
	case strings.Contains(s, "geogram desktop"):
		return model.DeviceDesktop
	case strings.Contains(s, "geogram"):
		return model.DeviceClient
	default:
		return model.DeviceUnknown
	}
}

// parseStatus fills r from a JSON status document. It is lenient about field
// types since peers run different builds.
func parseStatus(body []byte, r *model.ScanResult) bool {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}

	r.Callsign = str(doc, "callsign")
	r.Name = str(doc, "name")
	r.Version = str(doc, "version")
	r.Description = str(doc, "description")
	r.Latitude = num(doc, "latitude")
	r.Longitude = num(doc, "longitude")

	switch loc := doc["location"].(type) {
	case string:
		r.Location = loc
	case map[string]any:
		r.Location = str(loc, "name")
		if r.Latitude == nil {
			r.Latitude = num(loc, "latitude")
		}
		if r.Longitude == nil {
			r.Longitude = num(loc, "longitude")
		}
	}

	if n := num(doc, "connected_devices"); n != nil {
		v := int(*n)
		r.ConnectedDevices = &v
	}

	relayFlag := flag(doc, "relay_mode") || flag(doc, "station_mode")
	r.Type = Classify(str(doc, "service"), body, relayFlag)
	return true
}

// parseRoot classifies a response to GET /, which may be JSON or HTML.
func parseRoot(body []byte, contentType string, r *model.ScanResult) {
	if strings.Contains(contentType, "json") && parseStatus(body, r) {
		return
	}
	if m := titleRe.FindSubmatch(body); m != nil {
		r.Name = string(m[1])
	}
	r.Type = Classify("", body, false)
}

func str(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func num(doc map[string]any, key string) *float64 {
	switch v := doc[key].(type) {
	case float64:
		return &v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func flag(doc map[string]any, key string) bool {
	v, _ := doc[key].(bool)
	return v
}
