package relay

import (
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geogram/internal/api"
)

const maxPostBody = 64 << 10

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, h))
	}

	handle("/api/status", s.handleStatus)
	handle("/status", s.handleStatus)
	handle("/{$}", s.handleIndex)
	handle("/api/chat/rooms", s.handleChatRooms)
	handle("/api/chat/rooms/{roomId}/messages", s.handleChatMessages)
	handle("/tiles/", s.handleTile)
	mux.Handle("/metrics", promhttp.Handler())

	return s.middleware(mux)
}

// middleware dispatches WebSocket upgrades before anything else, then sets
// CORS headers, answers preflights and converts handler panics into 500s.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.log.Error("request handler panicked", "method", r.Method, "path", r.URL.Path, "panic", rec)
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
		}()

		if websocket.IsWebSocketUpgrade(r) {
			s.handleWebSocket(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Name}}</title></head>
<body>
<h1>{{.Name}}</h1>
<p>{{.Description}}</p>
<ul>
<li>Callsign: {{.Callsign}}</li>
<li>Version: {{.Version}}</li>
<li>Connected devices: {{.ConnectedDevices}}</li>
<li>Uptime: {{.Uptime}}s</li>
<li>Tile server: {{if .TileServer}}enabled{{else}}disabled{{end}}</li>
</ul>
<p>Status: <a href="/api/status">/api/status</a></p>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexPage.Execute(w, s.Status()); err != nil {
		s.log.Debug("render index", "err", err)
	}
}

func (s *Server) handleChatRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, api.ChatRoomsResponse{
		Rooms: []api.ChatRoom{{
			ID:          "general",
			Name:        "General",
			Description: "General discussion",
			MemberCount: s.clients.count(),
		}},
	})
}

// Messages are not stored yet: GET always lists nothing and POST is
// acknowledged and dropped.
func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, api.ChatMessagesResponse{RoomID: roomID, Messages: []api.ChatMessage{}})
	case http.MethodPost:
		n, _ := io.Copy(io.Discard, io.LimitReader(r.Body, maxPostBody))
		s.log.Debug("chat message accepted", "room", roomID, "bytes", n)
		writeJSON(w, http.StatusCreated, api.PostMessageResponse{Success: true, RoomID: roomID})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	req, err := ParseTilePath(r.URL.Path, r.URL.Query().Get("layer"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings := s.Settings()
	if !settings.TileServerEnabled {
		writeJSONError(w, http.StatusNotFound, "tile server disabled")
		return
	}

	tile, ok := s.tiles.Lookup(r.Context(), req, settings)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "tile not found")
		return
	}
	w.Header().Set("Content-Type", tile.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tile.Data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}
