// Package discovery finds other Geogram nodes on the local network by
// probing a fixed port list across every attached /24 subnet.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"geogram/internal/addrutil"
	"geogram/internal/api"
	"geogram/internal/config"
	"geogram/internal/logging"
	"geogram/internal/model"
	"geogram/internal/store"
)

var (
	ErrScanInProgress = errors.New("scan already in progress")
	ErrCancelled      = errors.New("scan cancelled")
)

// probePaths are tried in order; the first classified answer wins.
var probePaths = []string{"/api/status", "/relay/status", "/"}

// RelaySink receives every relay found by a scan.
type RelaySink interface {
	Merge(store.Relay) (bool, error)
}

// Options configures a Scanner. Zero values take the package defaults.
type Options struct {
	Ports        []int
	Timeout      time.Duration
	BatchSize    int
	StartupDelay time.Duration
	Interval     time.Duration

	Logger   *slog.Logger
	Registry RelaySink
	// Transport performs probe requests; nil builds one without keep-alives.
	Transport http.RoundTripper
	// InterfaceAddrs lists local addresses; nil uses net.InterfaceAddrs.
	InterfaceAddrs func() ([]net.Addr, error)
}

// OptionsFromConfig maps the discovery section of the config file.
func OptionsFromConfig(cfg config.DiscoveryConfig) Options {
	return Options{
		Ports:        cfg.Ports,
		Timeout:      time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
		BatchSize:    cfg.BatchSize,
		StartupDelay: time.Duration(cfg.StartupDelaySec) * time.Second,
		Interval:     time.Duration(cfg.IntervalSec) * time.Second,
	}
}

// ScanOptions tunes one scan.
type ScanOptions struct {
	// Timeout applies to each probe request; zero uses the scanner default.
	Timeout time.Duration
	// Progress is called after every discovery and after every batch.
	Progress func(Progress)
	// ShouldCancel is checked between batches. In-flight probes finish.
	ShouldCancel func() bool
}

// Progress reports scan advancement.
type Progress struct {
	Probed  int
	Total   int
	Batch   int
	Found   *model.ScanResult
	Results []model.ScanResult
}

type target struct {
	host string
	port int
}

// Scanner probes hosts for Geogram peers. Only one scan runs at a time.
type Scanner struct {
	opts      Options
	log       *slog.Logger
	transport http.RoundTripper

	scanning atomic.Bool

	mu   sync.Mutex
	last []model.ScanResult
}

// NewScanner returns a scanner with defaults applied to opts.
func NewScanner(opts Options) *Scanner {
	if len(opts.Ports) == 0 {
		opts.Ports = config.DefaultDiscoveryPorts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultProbeTimeoutMs * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBatchSize
	}
	if opts.StartupDelay <= 0 {
		opts.StartupDelay = config.DefaultStartupDelaySec * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = config.DefaultScanIntervalSec * time.Second
	}
	if opts.InterfaceAddrs == nil {
		opts.InterfaceAddrs = net.InterfaceAddrs
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			DisableKeepAlives:   true,
			MaxIdleConnsPerHost: -1,
			DialContext:         (&net.Dialer{Timeout: opts.Timeout}).DialContext,
		}
	}
	return &Scanner{
		opts:      opts,
		log:       logging.OrDefault(opts.Logger).With("component", "discovery"),
		transport: transport,
	}
}

// Scanning reports whether a scan is running.
func (s *Scanner) Scanning() bool {
	return s.scanning.Load()
}

// ResetScanFlag clears a stuck in-progress flag.
func (s *Scanner) ResetScanFlag() {
	if s.scanning.Swap(false) {
		s.log.Warn("scan flag force-reset")
	}
}

// LastResults returns the results of the last completed scan.
func (s *Scanner) LastResults() []model.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ScanResult(nil), s.last...)
}

// targets lists what a scan probes: loopback first, then every host of every
// local /24, each across the port list.
func (s *Scanner) targets() ([]target, error) {
	hosts := []string{"localhost", "127.0.0.1"}

	addrs, err := s.opts.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, p := range addrutil.LocalSubnets(addrs) {
		ips, err := addrutil.Hosts24(p)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			hosts = append(hosts, ip.String())
		}
	}

	targets := make([]target, 0, len(hosts)*len(s.opts.Ports))
	for _, h := range hosts {
		for _, p := range s.opts.Ports {
			targets = append(targets, target{host: h, port: p})
		}
	}
	return targets, nil
}

// Scan probes every target in batches and returns the deduplicated results.
// A scan stopped by ShouldCancel returns what it found with ErrCancelled.
func (s *Scanner) Scan(ctx context.Context, so ScanOptions) ([]model.ScanResult, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.scanning.Store(false)

	timeout := so.Timeout
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}

	targets, err := s.targets()
	if err != nil {
		scansTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	start := time.Now()
	client := &http.Client{Transport: s.transport}
	found := newResultSet()
	var probed atomic.Int64
	var progressMu sync.Mutex
	report := func(batch int, hit *model.ScanResult) {
		if so.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		so.Progress(Progress{
			Probed:  int(probed.Load()),
			Total:   len(targets),
			Batch:   batch,
			Found:   hit,
			Results: found.list(),
		})
	}

	s.log.Debug("scan started", "targets", len(targets), "timeout", timeout)

	var scanErr error
	for i, batch := 0, 0; i < len(targets); i, batch = i+s.opts.BatchSize, batch+1 {
		if err := ctx.Err(); err != nil {
			scanErr = err
			break
		}
		if so.ShouldCancel != nil && so.ShouldCancel() {
			scanErr = ErrCancelled
			break
		}

		end := min(i+s.opts.BatchSize, len(targets))
		// Bound the batch by every probe path of one host timing out.
		batchCtx, cancel := context.WithTimeout(ctx, time.Duration(len(probePaths))*timeout+time.Second)
		g, gctx := errgroup.WithContext(batchCtx)
		for _, t := range targets[i:end] {
			g.Go(func() error {
				defer probed.Add(1)
				r, ok := s.probe(gctx, client, t, timeout)
				if !ok {
					return nil
				}
				if found.add(r) {
					s.register(r)
					report(batch, &r)
				}
				return nil
			})
		}
		_ = g.Wait()
		cancel()
		report(batch, nil)
	}

	results := found.list()
	s.mu.Lock()
	s.last = results
	s.mu.Unlock()

	elapsed := time.Since(start)
	scanDuration.Observe(elapsed.Seconds())
	lastScanResults.Set(float64(len(results)))
	switch {
	case scanErr == nil:
		scansTotal.WithLabelValues("completed").Inc()
	case errors.Is(scanErr, ErrCancelled):
		scansTotal.WithLabelValues("cancelled").Inc()
	default:
		scansTotal.WithLabelValues("error").Inc()
	}
	s.log.Info("scan finished", "found", len(results), "probed", probed.Load(), "elapsed", elapsed.Round(time.Millisecond), "err", scanErr)
	return results, scanErr
}

// probe asks one host:port for its status on each probe path in turn.
// Failures are expected on most hosts and are not logged.
func (s *Scanner) probe(ctx context.Context, client *http.Client, t target, timeout time.Duration) (model.ScanResult, bool) {
	peer := api.NewClient(addrutil.BaseURL(t.host, t.port), client)
	for _, path := range probePaths {
		r, ok := probePath(ctx, peer, path, timeout)
		if !ok {
			if ctx.Err() != nil {
				return model.ScanResult{}, false
			}
			continue
		}
		r.IP = t.host
		r.Port = t.port
		r.FoundAt = time.Now().UTC()
		return r, true
	}
	return model.ScanResult{}, false
}

func probePath(ctx context.Context, peer *api.Client, path string, timeout time.Duration) (model.ScanResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, contentType, err := peer.Get(ctx, path)
	if err != nil {
		return model.ScanResult{}, false
	}

	var r model.ScanResult
	if path == "/" {
		parseRoot(body, contentType, &r)
	} else if !parseStatus(body, &r) {
		return model.ScanResult{}, false
	}
	return r, r.Type != model.DeviceUnknown
}

func (s *Scanner) register(r model.ScanResult) {
	if r.Type != model.DeviceRelay || s.opts.Registry == nil {
		return
	}
	added, err := s.opts.Registry.Merge(store.Relay{
		URL:         addrutil.BaseURL(r.IP, r.Port),
		Callsign:    r.Callsign,
		Name:        r.Name,
		Description: r.Description,
		Version:     r.Version,
		Location:    r.Location,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Status:      "online",
	})
	if err != nil {
		s.log.Warn("relay registry update failed", "callsign", r.Callsign, "err", err)
		return
	}
	if added {
		s.log.Info("relay discovered", "url", addrutil.BaseURL(r.IP, r.Port), "callsign", r.Callsign)
	}
}

// Serve runs a scan after the startup delay and then on every interval
// until ctx is cancelled.
func (s *Scanner) Serve(ctx context.Context) error {
	timer := time.NewTimer(s.opts.StartupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if _, err := s.Scan(ctx, ScanOptions{}); err != nil {
			switch {
			case errors.Is(err, ErrScanInProgress):
				s.log.Debug("periodic scan skipped", "err", err)
			case ctx.Err() != nil:
				return nil
			default:
				s.log.Warn("periodic scan failed", "err", err)
			}
		}
		timer.Reset(s.opts.Interval)
	}
}
