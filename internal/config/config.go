package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRelayPort        = 8080
	DefaultMaxZoomLevel     = 15
	DefaultMaxCacheSizeMB   = 100
	DefaultSTUNPort         = 3478
	DefaultProbeTimeoutMs   = 1500
	DefaultBatchSize        = 30
	DefaultStartupDelaySec  = 5
	DefaultScanIntervalSec  = 300
	DefaultSMTPPort         = 25
	DefaultSMTPTimeoutSec   = 30
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultRelayDescription = "Geogram Desktop Relay"
	MaxTileZoom             = 18
)

// DefaultDiscoveryPorts is the fixed list of ports probed on every host.
var DefaultDiscoveryPorts = []int{8080, 80, 8081, 45678, 3000, 5000}

// Config holds the settings of every network component.
type Config struct {
	Callsign  string          `yaml:"callsign"`
	DataDir   string          `yaml:"data_dir"`
	Relay     RelayConfig     `yaml:"relay"`
	STUN      STUNConfig      `yaml:"stun"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Log       LogConfig       `yaml:"log"`
}

// RelayConfig is the persisted form of the relay server settings.
type RelayConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Port              int      `yaml:"port"`
	TileServerEnabled bool     `yaml:"tile_server"`
	OSMFallback       bool     `yaml:"osm_fallback"`
	MaxZoomLevel      int      `yaml:"max_zoom_level"`
	MaxCacheSizeMB    int      `yaml:"max_cache_size_mb"`
	Description       string   `yaml:"description"`
	TilesDir          string   `yaml:"tiles_dir"`
	Location          Location `yaml:"location,omitempty"`
}

// Location is an optional named coordinate advertised by the relay.
type Location struct {
	Name      string   `yaml:"name,omitempty"`
	Latitude  *float64 `yaml:"latitude,omitempty"`
	Longitude *float64 `yaml:"longitude,omitempty"`
}

// STUNConfig configures the STUN binding responder.
type STUNConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DiscoveryConfig configures the LAN scanner.
type DiscoveryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Ports           []int  `yaml:"ports"`
	ProbeTimeoutMs  int    `yaml:"probe_timeout_ms"`
	BatchSize       int    `yaml:"batch_size"`
	StartupDelaySec int    `yaml:"startup_delay_sec"`
	IntervalSec     int    `yaml:"interval_sec"`
	RegistryPath    string `yaml:"registry_path"`
}

// SMTPConfig configures direct-to-MX delivery.
type SMTPConfig struct {
	Hostname   string     `yaml:"hostname"`
	Port       int        `yaml:"port"`
	TimeoutSec int        `yaml:"timeout_sec"`
	DKIM       DKIMConfig `yaml:"dkim,omitempty"`
}

// DKIMConfig enables signing when all fields are set.
type DKIMConfig struct {
	Domain         string `yaml:"domain,omitempty"`
	Selector       string `yaml:"selector,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
}

// Enabled reports whether signing is configured.
func (d DKIMConfig) Enabled() bool {
	return d.Domain != "" && d.Selector != "" && d.PrivateKeyPath != ""
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config with every component enabled and defaults applied.
func Default() Config {
	cfg := Config{
		Relay:     RelayConfig{Enabled: true, TileServerEnabled: true, OSMFallback: true},
		STUN:      STUNConfig{Enabled: true},
		Discovery: DiscoveryConfig{Enabled: true},
	}
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs range checks on the parsed config.
func Validate(cfg Config) error {
	if err := validPort("relay.port", cfg.Relay.Port); err != nil {
		return err
	}
	if err := validPort("stun.port", cfg.STUN.Port); err != nil {
		return err
	}
	if err := validPort("smtp.port", cfg.SMTP.Port); err != nil {
		return err
	}
	if cfg.Relay.MaxZoomLevel < 0 || cfg.Relay.MaxZoomLevel > MaxTileZoom {
		return fmt.Errorf("relay.max_zoom_level must be within [0,%d]", MaxTileZoom)
	}
	if cfg.Relay.MaxCacheSizeMB < 0 {
		return fmt.Errorf("relay.max_cache_size_mb must not be negative")
	}
	for _, p := range cfg.Discovery.Ports {
		if err := validPort("discovery.ports", p); err != nil {
			return err
		}
	}
	if cfg.Discovery.BatchSize < 0 {
		return fmt.Errorf("discovery.batch_size must not be negative")
	}
	d := cfg.SMTP.DKIM
	if (d.Domain != "" || d.Selector != "" || d.PrivateKeyPath != "") && !d.Enabled() {
		return fmt.Errorf("smtp.dkim requires domain, selector and private_key_path")
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", field, port)
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = DefaultRelayPort
	}
	if cfg.Relay.MaxZoomLevel == 0 {
		cfg.Relay.MaxZoomLevel = DefaultMaxZoomLevel
	}
	if cfg.Relay.MaxCacheSizeMB == 0 {
		cfg.Relay.MaxCacheSizeMB = DefaultMaxCacheSizeMB
	}
	if cfg.Relay.Description == "" {
		cfg.Relay.Description = DefaultRelayDescription
	}
	if cfg.Relay.TilesDir == "" && cfg.DataDir != "" {
		cfg.Relay.TilesDir = filepath.Join(cfg.DataDir, "tiles")
	}

	if cfg.STUN.Port == 0 {
		cfg.STUN.Port = DefaultSTUNPort
	}

	if len(cfg.Discovery.Ports) == 0 {
		cfg.Discovery.Ports = append([]int(nil), DefaultDiscoveryPorts...)
	}
	if cfg.Discovery.ProbeTimeoutMs == 0 {
		cfg.Discovery.ProbeTimeoutMs = DefaultProbeTimeoutMs
	}
	if cfg.Discovery.BatchSize == 0 {
		cfg.Discovery.BatchSize = DefaultBatchSize
	}
	if cfg.Discovery.StartupDelaySec == 0 {
		cfg.Discovery.StartupDelaySec = DefaultStartupDelaySec
	}
	if cfg.Discovery.IntervalSec == 0 {
		cfg.Discovery.IntervalSec = DefaultScanIntervalSec
	}
	if cfg.Discovery.RegistryPath == "" && cfg.DataDir != "" {
		cfg.Discovery.RegistryPath = filepath.Join(cfg.DataDir, "relays.yaml")
	}

	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = DefaultSMTPPort
	}
	if cfg.SMTP.TimeoutSec == 0 {
		cfg.SMTP.TimeoutSec = DefaultSMTPTimeoutSec
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
