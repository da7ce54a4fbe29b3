package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBody caps how much of a peer response is read.
const maxBody = 256 << 10

// Client is a thin HTTP client for a peer's relay API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
// A nil httpClient gets a 10 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// BaseURL returns the peer URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	if err := c.getJSON(ctx, "/api/status", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// ChatRooms lists the rooms hosted by the peer.
func (c *Client) ChatRooms(ctx context.Context) (ChatRoomsResponse, error) {
	var resp ChatRoomsResponse
	if err := c.getJSON(ctx, "/api/chat/rooms", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// PostMessage posts a chat message to a room.
func (c *Client) PostMessage(ctx context.Context, roomID string, msg ChatMessage) (PostMessageResponse, error) {
	var resp PostMessageResponse
	path := "/api/chat/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.postJSON(ctx, path, msg, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Get performs a GET and returns the (size-capped) body and content type of
// a 2xx response.
func (c *Client) Get(ctx context.Context, path string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return nil, "", err
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, "", err
	}
	return body, res.Header.Get("Content-Type"), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(io.LimitReader(res.Body, maxBody))
	return decoder.Decode(out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, _, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg != "" {
		return fmt.Errorf("request failed: %s: %s", res.Status, msg)
	}
	return fmt.Errorf("request failed: %s", res.Status)
}
