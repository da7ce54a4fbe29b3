package relay

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"geogram/internal/api"
)

const (
	wsReadLimit    = 64 << 10
	wsWriteTimeout = 10 * time.Second
)

// ClientInfo is a snapshot of one connected WebSocket client.
type ClientInfo struct {
	ID           int64
	Callsign     string
	ConnectedAt  time.Time
	LastActivity time.Time
}

type wsClient struct {
	id          int64
	conn        *websocket.Conn
	connectedAt time.Time

	// gorilla/websocket allows one concurrent writer per connection.
	writeMu sync.Mutex

	mu           sync.Mutex
	callsign     string
	lastActivity time.Time
}

func (c *wsClient) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *wsClient) setCallsign(callsign string) {
	c.mu.Lock()
	c.callsign = callsign
	c.mu.Unlock()
}

func (c *wsClient) info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{ID: c.id, Callsign: c.callsign, ConnectedAt: c.connectedAt, LastActivity: c.lastActivity}
}

func (c *wsClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) writeText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) close() {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// clientRegistry tracks live WebSocket clients by id. Once closed it
// refuses new clients until reopened.
type clientRegistry struct {
	mu      sync.Mutex
	clients map[int64]*wsClient
	lastID  int64
	closed  bool
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[int64]*wsClient)}
}

// add registers conn under a millisecond timestamp id, bumped past the last
// issued id so ids stay unique. It returns nil when the registry is closed.
func (r *clientRegistry) add(conn *websocket.Conn) *wsClient {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	id := now.UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id

	c := &wsClient{id: id, conn: conn, connectedAt: now, lastActivity: now}
	r.clients[id] = c
	wsClients.Set(float64(len(r.clients)))
	return c
}

func (r *clientRegistry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
	wsClients.Set(float64(len(r.clients)))
}

func (r *clientRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *clientRegistry) snapshot() []ClientInfo {
	r.mu.Lock()
	clients := make([]*wsClient, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	out := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.info())
	}
	return out
}

// byCallsign returns the first client whose hello announced callsign.
func (r *clientRegistry) byCallsign(callsign string) *wsClient {
	r.mu.Lock()
	clients := make([]*wsClient, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	var match *wsClient
	for _, c := range clients {
		if strings.EqualFold(c.info().Callsign, callsign) && (match == nil || c.id < match.id) {
			match = c
		}
	}
	return match
}

// others returns every client except the one with id.
func (r *clientRegistry) others(id int64) []*wsClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*wsClient, 0, len(r.clients))
	for cid, c := range r.clients {
		if cid != id {
			out = append(out, c)
		}
	}
	return out
}

func (r *clientRegistry) open() {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
}

// closeAll closes the registry, then removes and closes every client and
// returns how many there were.
func (r *clientRegistry) closeAll() int {
	r.mu.Lock()
	r.closed = true
	clients := r.clients
	r.clients = make(map[int64]*wsClient)
	wsClients.Set(0)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return len(clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	c := s.clients.add(conn)
	if c == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	s.log.Info("websocket client connected", "client_id", c.id)

	defer func() {
		s.clients.remove(c.id)
		_ = conn.Close()
		s.log.Info("websocket client disconnected", "client_id", c.id)
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				s.log.Debug("websocket read failed", "client_id", c.id, "err", err)
			}
			return
		}
		c.touch()
		if kind != websocket.TextMessage {
			continue
		}
		if err := s.handleFrame(c, data); err != nil {
			s.log.Debug("websocket frame failed", "client_id", c.id, "err", err)
		}
	}
}

func (s *Server) handleFrame(c *wsClient, data []byte) error {
	var env api.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Type {
	case api.TypeHello:
		callsign := env.Callsign
		if callsign == "" {
			callsign = env.ID
		}
		c.setCallsign(callsign)
		s.log.Info("hello received", "client_id", c.id, "callsign", callsign)
		return c.writeJSON(api.HelloResponse{
			Type:     api.TypeHelloResponse,
			Server:   HandshakeServer,
			Version:  s.version,
			Callsign: s.callsign,
		})
	case api.TypePing:
		return c.writeJSON(api.Pong{Type: api.TypePong, Timestamp: time.Now().UnixMilli()})
	case api.TypeRTCOffer, api.TypeRTCAnswer, api.TypeRTCICE:
		if env.To == "" {
			s.broadcast(c, env.Type, data)
			return nil
		}
		return s.sendTo(env.Type, env.To, data)
	case api.TypeFileRequest, api.TypeFileAvailable:
		s.broadcast(c, env.Type, data)
		return nil
	case api.TypeFileFetch, api.TypeFileChunk, api.TypeFileComplete:
		if env.To == "" {
			return nil
		}
		return s.sendTo(env.Type, env.To, data)
	default:
		return nil
	}
}

// sendTo forwards data unchanged to the client announced as callsign.
func (s *Server) sendTo(kind, callsign string, data []byte) error {
	target := s.clients.byCallsign(callsign)
	if target == nil {
		wsRoutedTotal.WithLabelValues(kind, "no_target").Inc()
		s.log.Debug("websocket target not connected", "type", kind, "to", callsign)
		return nil
	}
	if err := target.writeText(data); err != nil {
		wsRoutedTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	wsRoutedTotal.WithLabelValues(kind, "delivered").Inc()
	return nil
}

// broadcast forwards data unchanged to every client except from.
func (s *Server) broadcast(from *wsClient, kind string, data []byte) {
	for _, c := range s.clients.others(from.id) {
		if err := c.writeText(data); err != nil {
			wsRoutedTotal.WithLabelValues(kind, "error").Inc()
			s.log.Debug("websocket broadcast failed", "client_id", c.id, "err", err)
			continue
		}
		wsRoutedTotal.WithLabelValues(kind, "delivered").Inc()
	}
}
