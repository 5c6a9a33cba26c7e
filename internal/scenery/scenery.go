// Package scenery packs the static world shared by every session: the displaced
// terrain grid with its surface bands, the river ribbon and the scattered trees.
// Game clients fetch it once instead of sampling the field themselves.
package scenery

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"

	"github.com/golang/snappy"

	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/placement"
	"dronerace/broker/internal/terrain"
)

const (
	// EncodingSnappy marks grids packed as little-endian values compressed with snappy.
	EncodingSnappy = "snappy"

	riverWidth = 40.0
	riverRows  = 200
)

// Grid is a packed vertex grid. Heights hold float32 values, Surfaces one byte per vertex.
type Grid struct {
	Columns  int    `json:"columns"`
	Rows     int    `json:"rows"`
	Encoding string `json:"encoding"`
	Heights  string `json:"heights"`
	Surfaces string `json:"surfaces,omitempty"`
}

// RiverPoint samples the water ribbon along z.
type RiverPoint struct {
	Z float64 `json:"z"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tree is the wire shape of one placed tree.
type Tree struct {
	X             float64 `json:"x"`
	Z             float64 `json:"z"`
	BaseY         float64 `json:"baseY"`
	TrunkHeight   float64 `json:"trunkHeight"`
	FoliageRadius float64 `json:"foliageRadius"`
	Shade         float64 `json:"shade"`
	LeanX         float64 `json:"leanX"`
	LeanZ         float64 `json:"leanZ"`
	RotationY     float64 `json:"rotationY"`
	Snowy         bool    `json:"snowy,omitempty"`
}

// World is the complete static scene.
type World struct {
	Size       float64            `json:"size"`
	Segments   int                `json:"segments"`
	BaseY      float64            `json:"baseY"`
	Parameters map[string]float64 `json:"parameters"`
	Terrain    Grid               `json:"terrain"`
	RiverWidth float64            `json:"riverWidth"`
	River      []RiverPoint       `json:"river"`
	Trees      []Tree             `json:"trees"`
}

// Options tunes the generated scene.
type Options struct {
	Size     float64
	Segments int
	BaseY    float64
	Forest   placement.Config
}

// DefaultOptions matches the collision field used by the sessions and plants the stock forest.
func DefaultOptions() Options {
	return Options{
		Size:     terrain.DefaultSize,
		Segments: terrain.DefaultSegments,
		BaseY:    terrain.DefaultBaseY,
		Forest:   placement.DefaultConfig(),
	}
}

// Build samples the terrain mesh, the river strip and the forest.
func Build(opts Options) (*World, error) {
	mesh, err := terrain.BuildMesh(opts.Size, opts.Segments, opts.BaseY)
	if err != nil {
		return nil, fmt.Errorf("terrain mesh: %w", err)
	}
	grid, err := packMesh(mesh)
	if err != nil {
		return nil, err
	}
	strip, err := terrain.BuildRiverStrip(riverWidth, opts.Size, 1, riverRows)
	if err != nil {
		return nil, fmt.Errorf("river strip: %w", err)
	}

	world := &World{
		Size:       opts.Size,
		Segments:   opts.Segments,
		BaseY:      opts.BaseY,
		Parameters: terrain.Parameters(),
		Terrain:    grid,
		RiverWidth: riverWidth,
		River:      make([]RiverPoint, 0, strip.Rows),
	}
	//1.- Two vertices per row; their midpoint is the centerline.
	for j := 0; j < strip.Rows; j++ {
		left, right := strip.At(0, j), strip.At(strip.Columns-1, j)
		world.River = append(world.River, RiverPoint{Z: left.Z, X: (left.X + right.X) / 2, Y: left.Y})
	}
	for _, tree := range placement.Scatter(opts.Forest) {
		world.Trees = append(world.Trees, Tree{
			X:             tree.X,
			Z:             tree.Z,
			BaseY:         tree.BaseY,
			TrunkHeight:   tree.TrunkHeight,
			FoliageRadius: tree.FoliageRadius,
			Shade:         tree.Shade,
			LeanX:         tree.LeanX,
			LeanZ:         tree.LeanZ,
			RotationY:     tree.RotationY,
			Snowy:         tree.Snowy,
		})
	}
	return world, nil
}

func packMesh(mesh *terrain.Mesh) (Grid, error) {
	heights := new(bytes.Buffer)
	surfaces := make([]byte, 0, len(mesh.Vertices))
	for _, v := range mesh.Vertices {
		if err := binary.Write(heights, binary.LittleEndian, float32(v.Y)); err != nil {
			return Grid{}, fmt.Errorf("pack heights: %w", err)
		}
		surfaces = append(surfaces, byte(v.Surface))
	}
	return Grid{
		Columns:  mesh.Columns,
		Rows:     mesh.Rows,
		Encoding: EncodingSnappy,
		Heights:  base64.StdEncoding.EncodeToString(snappy.Encode(nil, heights.Bytes())),
		Surfaces: base64.StdEncoding.EncodeToString(snappy.Encode(nil, surfaces)),
	}, nil
}

// UnpackHeights decodes the height samples of a grid.
func UnpackHeights(grid Grid) ([]float32, error) {
	raw, err := unpack(grid, grid.Heights)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("height payload has %d bytes", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

// UnpackSurfaces decodes the per-vertex surface bands of a grid.
func UnpackSurfaces(grid Grid) ([]terrain.Surface, error) {
	raw, err := unpack(grid, grid.Surfaces)
	if err != nil {
		return nil, err
	}
	out := make([]terrain.Surface, len(raw))
	for i, b := range raw {
		out[i] = terrain.Surface(b)
	}
	return out, nil
}

func unpack(grid Grid, payload string) ([]byte, error) {
	if grid.Encoding != EncodingSnappy {
		return nil, fmt.Errorf("unsupported grid encoding %q", grid.Encoding)
	}
	compressed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode grid: %w", err)
	}
	return snappy.Decode(nil, compressed)
}

// Server builds the scene on first request and serves the cached JSON afterwards.
type Server struct {
	opts Options
	log  *logging.Logger

	once sync.Once
	body []byte
	err  error
}

// NewServer prepares a lazily built scene.
func NewServer(opts Options, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.L()
	}
	return &Server{opts: opts, log: logger}
}

func (s *Server) load() ([]byte, error) {
	s.once.Do(func() {
		world, err := Build(s.opts)
		if err != nil {
			s.err = err
			return
		}
		s.body, s.err = json.Marshal(world)
		if s.err == nil {
			s.log.Info("scenery built",
				logging.Int("trees", len(world.Trees)),
				logging.Int("bytes", len(s.body)),
			)
		}
	})
	return s.body, s.err
}

// ServeHTTP writes the static world as JSON.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := s.load()
	if err != nil {
		s.log.Error("scenery build failed", logging.Error(err))
		http.Error(w, "scenery unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(body)
}
