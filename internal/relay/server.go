// Package relay is the HTTP/WebSocket face of a Geogram node: a status API,
// a chat room stub, a device handshake over WebSocket and a map tile cache.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"geogram/internal/api"
	"geogram/internal/config"
	"geogram/internal/lifecycle"
	"geogram/internal/logging"
)

const (
	// ServerName is the name advertised in the status payload.
	ServerName = "Geogram Desktop Relay"
	// ServiceName lets discovery scanners classify this node as a relay.
	ServiceName = "Geogram Relay"
	// HandshakeServer identifies the server in hello responses.
	HandshakeServer = "geogram-desktop-relay"

	DefaultVersion = "dev"

	shutdownTimeout = 5 * time.Second
)

// Options carries the collaborators of a relay server. Zero values are
// replaced with defaults.
type Options struct {
	Callsign string
	Version  string
	Logger   *slog.Logger
	// Client fetches upstream tiles; nil uses a client with a 10s timeout.
	Client *http.Client
	// Upstreams maps a tile layer to a URL template with {z}, {x} and {y}
	// placeholders; nil uses DefaultUpstreams.
	Upstreams map[string]string
}

// Server is a relay node. Construct it once and pass it around; tests build
// their own instance on an ephemeral port.
type Server struct {
	log      *slog.Logger
	callsign string
	version  string

	state   lifecycle.Machine
	clients *clientRegistry
	tiles   *tileStore

	upgrader websocket.Upgrader
	handler  http.Handler

	mu        sync.Mutex
	settings  config.RelayConfig
	srv       *http.Server
	ln        net.Listener
	done      chan struct{}
	startedAt time.Time
}

// NewServer returns a stopped server with the given settings. A zero port
// picks an ephemeral one on Start.
func NewServer(settings config.RelayConfig, opts Options) *Server {
	log := logging.OrDefault(opts.Logger).With("component", "relay")
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if settings.Description == "" {
		settings.Description = config.DefaultRelayDescription
	}

	s := &Server{
		log:      log,
		callsign: opts.Callsign,
		version:  opts.Version,
		clients:  newClientRegistry(),
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.tiles = newTileStore(log, opts.Client, opts.Upstreams, "Geogram-Relay/"+opts.Version, cacheBytes(settings))
	s.handler = s.routes()
	return s
}

func cacheBytes(settings config.RelayConfig) int64 {
	return int64(settings.MaxCacheSizeMB) << 20
}

// Start binds 0.0.0.0:<port> with address reuse and starts serving. It is a
// no-op when already running. A bind failure moves the server to the error
// state and is returned; no retry is attempted.
func (s *Server) Start() error {
	if !s.state.BeginStart() {
		return nil
	}

	s.mu.Lock()
	port := s.settings.Port
	s.mu.Unlock()

	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		s.state.Set(lifecycle.Failed)
		s.log.Error("bind failed", "port", port, "err", err)
		return fmt.Errorf("relay listen on port %d: %w", port, err)
	}

	s.clients.open()
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelDebug),
	}
	done := make(chan struct{})

	s.mu.Lock()
	s.srv, s.ln, s.done = srv, ln, done
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.state.Set(lifecycle.Running)
	s.log.Info("relay listening", "addr", ln.Addr().String())

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("relay listener stopped", "err", err)
			s.state.Set(lifecycle.Failed)
		}
	}()
	return nil
}

// Stop shuts the listener down, then closes every WebSocket client and
// clears the server state. Upgrades that finish after the listener closed
// are refused. It is a no-op when not running.
func (s *Server) Stop() {
	if !s.state.BeginStop() {
		return
	}

	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.ln, s.done = nil, nil, nil
	s.startedAt = time.Time{}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown timed out", "err", err)
		_ = srv.Close()
	}
	<-done

	closed := s.clients.closeAll()

	s.state.Set(lifecycle.Stopped)
	s.log.Info("relay stopped", "clients_closed", closed)
}

// Serve runs the server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// UpdateSettings replaces the settings. Disabling the tile server drops the
// cached tiles. When the server is running and the port changed, the
// listener is restarted on the new port.
func (s *Server) UpdateSettings(next config.RelayConfig) error {
	if next.Description == "" {
		next.Description = config.DefaultRelayDescription
	}

	s.mu.Lock()
	prev := s.settings
	s.settings = next
	s.mu.Unlock()

	if prev.TileServerEnabled && !next.TileServerEnabled {
		s.tiles.cache.Clear()
	}
	s.tiles.cache.Resize(cacheBytes(next))

	if prev.Port == next.Port || s.state.Get() != lifecycle.Running {
		return nil
	}
	s.log.Info("relay port changed, restarting", "old_port", prev.Port, "new_port", next.Port)
	s.Stop()
	return s.Start()
}

// Settings returns a copy of the current settings.
func (s *Server) Settings() config.RelayConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// State returns the current run state.
func (s *Server) State() lifecycle.State {
	return s.state.Get()
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Handler exposes the routing table with its middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ConnectedClients returns a snapshot of the live WebSocket clients.
func (s *Server) ConnectedClients() []ClientInfo {
	return s.clients.snapshot()
}

// TileCache returns the in-memory tile cache.
func (s *Server) TileCache() *TileCache {
	return s.tiles.cache
}

// Status builds the payload served at /api/status.
func (s *Server) Status() api.Status {
	s.mu.Lock()
	settings := s.settings
	startedAt := s.startedAt
	s.mu.Unlock()

	var uptime int64
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	st := api.Status{
		Service:          ServiceName,
		Name:             ServerName,
		Version:          s.version,
		Callsign:         s.callsign,
		Description:      settings.Description,
		Platform:         runtime.GOOS,
		ConnectedDevices: s.clients.count(),
		Uptime:           uptime,
		RelayMode:        true,
		Latitude:         settings.Location.Latitude,
		Longitude:        settings.Location.Longitude,
		TileServer:       settings.TileServerEnabled,
		OSMFallback:      settings.OSMFallback,
		CacheSize:        s.tiles.cache.Len(),
		CacheSizeBytes:   s.tiles.cache.Bytes(),
	}
	if name := settings.Location.Name; name != "" {
		st.Location = &name
	}
	return st
}
