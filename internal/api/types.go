package api

// Status is the payload of GET /api/status on a relay.
type Status struct {
	Service          string   `json:"service,omitempty"`
	Name             string   `json:"name"`
	Version          string   `json:"version"`
	Callsign         string   `json:"callsign"`
	Description      string   `json:"description"`
	Platform         string   `json:"platform,omitempty"`
	ConnectedDevices int      `json:"connected_devices"`
	Uptime           int64    `json:"uptime"`
	RelayMode        bool     `json:"relay_mode"`
	StationMode      bool     `json:"station_mode,omitempty"`
	Location         *string  `json:"location"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	TileServer       bool     `json:"tile_server"`
	OSMFallback      bool     `json:"osm_fallback"`
	CacheSize        int      `json:"cache_size"`
	CacheSizeBytes   int64    `json:"cache_size_bytes"`
}

// Message types exchanged over the relay WebSocket.
const (
	TypeHello         = "hello"
	TypeHelloResponse = "hello_response"
	TypePing          = "ping"
	TypePong          = "pong"

	// WebRTC signaling, delivered to the client named in "to" or to every
	// other client when "to" is empty.
	TypeRTCOffer  = "rtc_offer"
	TypeRTCAnswer = "rtc_answer"
	TypeRTCICE    = "rtc_ice"

	// File sharing. Requests and announcements go to every other client;
	// transfers go only to the client named in "to".
	TypeFileRequest   = "file_request"
	TypeFileAvailable = "file_available"
	TypeFileFetch     = "file_fetch"
	TypeFileChunk     = "file_chunk"
	TypeFileComplete  = "file_complete"
)

// Envelope is decoded first to dispatch on the message type. Routed
// messages are forwarded verbatim, so fields beyond these are preserved.
type Envelope struct {
	Type     string `json:"type"`
	Callsign string `json:"callsign,omitempty"`
	// ID is the older hello field for the client identity.
	ID   string `json:"id,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// HelloResponse answers a client hello.
type HelloResponse struct {
	Type     string `json:"type"`
	Server   string `json:"server"`
	Version  string `json:"version"`
	Callsign string `json:"callsign"`
}

// Pong answers a client ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ChatRoom describes a chat room hosted by the relay.
type ChatRoom struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MemberCount int    `json:"member_count"`
}

// ChatRoomsResponse lists rooms.
type ChatRoomsResponse struct {
	Rooms []ChatRoom `json:"rooms"`
}

// ChatMessage is a single room message.
type ChatMessage struct {
	Callsign  string `json:"callsign"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ChatMessagesResponse lists messages of a room.
type ChatMessagesResponse struct {
	RoomID   string        `json:"room_id"`
	Messages []ChatMessage `json:"messages"`
}

// PostMessageResponse acknowledges a posted message.
type PostMessageResponse struct {
	Success bool   `json:"success"`
	RoomID  string `json:"room_id"`
}
