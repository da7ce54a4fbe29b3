package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_ErrorIncludesBody(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"nope"}`))
	}))
	defer s.Close()

	c := NewClient(s.URL, nil)
	_, err := c.Status(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	got := err.Error()
	if want := "400"; !strings.Contains(got, want) {
		t.Fatalf("error missing status: %q", got)
	}
	if want := `"error":"nope"`; !strings.Contains(got, want) {
		t.Fatalf("error missing body: %q", got)
	}
}

func TestClient_Status(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(Status{Name: "n", Callsign: "X1ABC", ConnectedDevices: 2, RelayMode: true})
	}))
	defer s.Close()

	st, err := NewClient(s.URL+"/", nil).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Callsign != "X1ABC" || st.ConnectedDevices != 2 || !st.RelayMode {
		t.Fatalf("status=%+v", st)
	}
}

func TestClient_PostMessageEscapesRoom(t *testing.T) {
	t.Parallel()

	var gotPath string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(PostMessageResponse{Success: true, RoomID: "a b"})
	}))
	defer s.Close()

	resp, err := NewClient(s.URL, nil).PostMessage(context.Background(), "a b", ChatMessage{Content: "hi"})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if !resp.Success {
		t.Fatalf("resp=%+v", resp)
	}
	if gotPath != "/api/chat/rooms/a%20b/messages" {
		t.Fatalf("path=%q", gotPath)
	}
}

func TestClient_ChatRooms(t *testing.T) {
	t.Parallel()

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/chat/rooms" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"rooms":[{"id":"general","name":"General","description":"d","member_count":3}]}`))
	}))
	defer s.Close()

	got, err := NewClient(s.URL, nil).ChatRooms(context.Background())
	if err != nil {
		t.Fatalf("ChatRooms: %v", err)
	}
	want := ChatRoomsResponse{Rooms: []ChatRoom{{ID: "general", Name: "General", Description: "d", MemberCount: 3}}}
	if len(got.Rooms) != 1 || got.Rooms[0] != want.Rooms[0] {
		t.Fatalf("rooms=%+v want %+v", got, want)
	}
}
