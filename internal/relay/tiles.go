package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"geogram/internal/config"
)

const (
	LayerStandard  = "standard"
	LayerSatellite = "satellite"

	upstreamTimeout = 10 * time.Second
	maxTileBytes    = 4 << 20
)

// DefaultUpstreams are the tile sources used when a tile is neither in
// memory nor on disk.
var DefaultUpstreams = map[string]string{
	LayerStandard:  "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
	LayerSatellite: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
}

var (
	pngSignature  = []byte{0x89, 'P', 'N', 'G'}
	jpegSignature = []byte{0xFF, 0xD8, 0xFF}

	tilePathRe = regexp.MustCompile(`^/tiles/([^/]+)/(\d{1,2})/(\d{1,7})/(\d{1,7})\.png$`)

	ErrBadTilePath = errors.New("invalid tile path")
	ErrBadZoom     = fmt.Errorf("zoom must be within [0,%d]", config.MaxTileZoom)
)

// TileRequest identifies one tile of one layer.
type TileRequest struct {
	Callsign string
	Layer    string
	Z, X, Y  int
}

// Key is the cache key "{layer}/{z}/{x}/{y}".
func (t TileRequest) Key() string {
	return fmt.Sprintf("%s/%d/%d/%d", t.Layer, t.Z, t.X, t.Y)
}

// ParseTilePath parses /tiles/{callsign}/{z}/{x}/{y}.png. Unknown layers map
// to the standard layer.
func ParseTilePath(path, layer string) (TileRequest, error) {
	m := tilePathRe.FindStringSubmatch(path)
	if m == nil {
		return TileRequest{}, ErrBadTilePath
	}
	z, _ := strconv.Atoi(m[2])
	x, _ := strconv.Atoi(m[3])
	y, _ := strconv.Atoi(m[4])
	if z < 0 || z > config.MaxTileZoom {
		return TileRequest{}, ErrBadZoom
	}
	if layer != LayerSatellite {
		layer = LayerStandard
	}
	return TileRequest{Callsign: m[1], Layer: layer, Z: z, X: x, Y: y}, nil
}

// Tile is a resolved tile image.
type Tile struct {
	Data        []byte
	ContentType string
	Source      string
}

// tileStore resolves tiles from memory, then disk, then upstream.
type tileStore struct {
	log       *slog.Logger
	client    *http.Client
	upstreams map[string]string
	userAgent string
	cache     *TileCache
}

func newTileStore(log *slog.Logger, client *http.Client, upstreams map[string]string, userAgent string, maxBytes int64) *tileStore {
	if client == nil {
		client = &http.Client{Timeout: upstreamTimeout}
	}
	if upstreams == nil {
		upstreams = DefaultUpstreams
	}
	return &tileStore{
		log:       log,
		client:    client,
		upstreams: upstreams,
		userAgent: userAgent,
		cache:     NewTileCache(maxBytes),
	}
}

// Lookup returns the tile for req, or false when no source has it. Upstream
// failures are logged and reported as a miss.
func (p *tileStore) Lookup(ctx context.Context, req TileRequest, settings config.RelayConfig) (Tile, bool) {
	key := req.Key()

	if data, ok := p.cache.Get(key); ok {
		tileLookupsTotal.WithLabelValues("memory").Inc()
		return Tile{Data: data, ContentType: contentType(data), Source: "memory"}, true
	}

	diskPath := ""
	if settings.TilesDir != "" {
		diskPath = filepath.Join(settings.TilesDir, req.Layer,
			strconv.Itoa(req.Z), strconv.Itoa(req.X), strconv.Itoa(req.Y)+".png")
		if data, err := os.ReadFile(diskPath); err == nil && len(data) > 0 {
			p.cache.Put(key, data)
			tileLookupsTotal.WithLabelValues("disk").Inc()
			return Tile{Data: data, ContentType: contentType(data), Source: "disk"}, true
		}
	}

	if !settings.OSMFallback {
		tileLookupsTotal.WithLabelValues("miss").Inc()
		return Tile{}, false
	}

	data, err := p.fetch(ctx, req)
	if err != nil {
		p.log.Debug("upstream tile fetch failed", "tile", key, "err", err)
		tileLookupsTotal.WithLabelValues("error").Inc()
		return Tile{}, false
	}

	if diskPath != "" {
		if err := writeTile(diskPath, data); err != nil {
			p.log.Warn("tile disk cache write failed", "path", diskPath, "err", err)
		}
	}
	if req.Z <= settings.MaxZoomLevel {
		p.cache.Put(key, data)
	}
	tileLookupsTotal.WithLabelValues("upstream").Inc()
	return Tile{Data: data, ContentType: contentType(data), Source: "upstream"}, true
}

func (p *tileStore) fetch(ctx context.Context, req TileRequest) ([]byte, error) {
	tmpl, ok := p.upstreams[req.Layer]
	if !ok {
		return nil, fmt.Errorf("no upstream for layer %q", req.Layer)
	}
	url := strings.NewReplacer(
		"{z}", strconv.Itoa(req.Z),
		"{x}", strconv.Itoa(req.X),
		"{y}", strconv.Itoa(req.Y),
	).Replace(tmpl)

	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, err
	}
	if !validTile(req.Layer, data) {
		return nil, errors.New("upstream returned a non-image body")
	}
	return data, nil
}

// validTile accepts PNG for every layer; satellite imagery is also served
// as JPEG by the default upstream.
func validTile(layer string, data []byte) bool {
	if bytes.HasPrefix(data, pngSignature) {
		return true
	}
	return layer == LayerSatellite && bytes.HasPrefix(data, jpegSignature)
}

func contentType(data []byte) string {
	if bytes.HasPrefix(data, jpegSignature) {
		return "image/jpeg"
	}
	return "image/png"
}

func writeTile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
