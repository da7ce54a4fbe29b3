// Package stun answers RFC 5389 Binding Requests so peers can learn their
// public address. Client addresses are never logged or retained.
package stun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"geogram/internal/lifecycle"
	"geogram/internal/logging"
)

const DefaultPort = 3478

// Server is a UDP binding responder. Datagrams are handled one at a time in
// arrival order.
type Server struct {
	port int
	log  *slog.Logger

	state    lifecycle.Machine
	mu       sync.Mutex
	conn     *net.UDPConn
	done     chan struct{}
	requests atomic.Uint64
}

// NewServer returns a stopped server for the given UDP port (0 picks an
// ephemeral port).
func NewServer(port int, logger *slog.Logger) *Server {
	return &Server{port: port, log: logging.OrDefault(logger).With("component", "stun")}
}

// Start binds the socket and starts the read loop. It is a no-op when the
// server is already running.
func (s *Server) Start() error {
	if !s.state.BeginStart() {
		return nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.port})
	if err != nil {
		s.state.Set(lifecycle.Failed)
		s.log.Error("bind failed", "port", s.port, "err", err)
		return fmt.Errorf("stun listen on port %d: %w", s.port, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	s.state.Set(lifecycle.Running)
	s.log.Info("STUN server listening", "addr", conn.LocalAddr().String())

	go s.serve(conn, done)
	return nil
}

// Stop closes the socket and waits for the read loop to exit. It is a no-op
// when the server is not running.
func (s *Server) Stop() {
	if !s.state.BeginStop() {
		return
	}

	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		<-done
	}
	s.state.Set(lifecycle.Stopped)
	s.log.Info("STUN server stopped", "requests_handled", s.requests.Load())
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

// State returns the current run state.
func (s *Server) State() lifecycle.State {
	return s.state.Get()
}

// LocalAddr returns the bound address, or nil when stopped.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// RequestsHandled is the number of binding responses sent.
func (s *Server) RequestsHandled() uint64 {
	return s.requests.Load()
}

func (s *Server) serve(conn *net.UDPConn, done chan struct{}) {
	defer close(done)

	var buf [64 << 10]byte
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf[:])
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("read failed", "err", err)
			continue
		}

		tx, err := ParseBindingRequest(buf[:n])
		if err != nil {
			droppedTotal.WithLabelValues(dropReason(err)).Inc()
			continue
		}

		res, err := BindingResponse(tx, from)
		if err != nil {
			droppedTotal.WithLabelValues("address").Inc()
			continue
		}
		if _, err := conn.WriteToUDPAddrPort(res, from); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("write failed", "err", err)
			continue
		}
		s.requests.Add(1)
		requestsTotal.Inc()
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrTooShort):
		return "short"
	case errors.Is(err, ErrBadCookie):
		return "cookie"
	case errors.Is(err, ErrLengthMismatch):
		return "length"
	case errors.Is(err, ErrNotBindingRequest):
		return "type"
	default:
		return "other"
	}
}
