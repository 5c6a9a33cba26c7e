package terrain

import (
	"errors"
	"math"
)

const (
	// DefaultSize is the edge length of the playable square map.
	DefaultSize = 1200.0
	// DefaultSegments is the number of grid cells per edge.
	DefaultSegments = 180
	// DefaultBaseY lowers the whole surface so the spawn floor sits just below the drone.
	DefaultBaseY = -2.0
)

// ErrInvalidGrid reports a non-positive size or segment count.
var ErrInvalidGrid = errors.New("terrain grid requires positive size and segments")

// HeightField is a regular grid sampled from Height. It backs the collision surface and
// shares its samples with the mesh so both agree at every grid node.
type HeightField struct {
	size        float64
	segments    int
	elementSize float64
	originX     float64
	originZ     float64
	baseY       float64
	samples     []float64
}

// FieldOption customises a height field.
type FieldOption func(*HeightField)

// WithBaseY overrides the vertical offset applied by SurfaceY.
func WithBaseY(y float64) FieldOption {
	return func(f *HeightField) {
		f.baseY = y
	}
}

// NewHeightField samples Height on a (segments+1)^2 grid centred on the origin.
func NewHeightField(size float64, segments int, opts ...FieldOption) (*HeightField, error) {
	if size <= 0 || segments <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		return nil, ErrInvalidGrid
	}
	field := &HeightField{
		size:        size,
		segments:    segments,
		elementSize: size / float64(segments),
		originX:     -size / 2,
		originZ:     -size / 2,
		baseY:       DefaultBaseY,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(field)
		}
	}
	stride := segments + 1
	field.samples = make([]float64, stride*stride)
	for j := 0; j < stride; j++ {
		z := field.originZ + float64(j)*field.elementSize
		for i := 0; i < stride; i++ {
			x := field.originX + float64(i)*field.elementSize
			field.samples[j*stride+i] = Height(x, z)
		}
	}
	return field, nil
}

// Segments returns the number of cells per edge.
func (f *HeightField) Segments() int { return f.segments }

// Size returns the edge length covered by the grid.
func (f *HeightField) Size() float64 { return f.size }

// ElementSize returns the spacing between neighbouring samples.
func (f *HeightField) ElementSize() float64 { return f.elementSize }

// Origin returns the world coordinate of sample (0, 0) including the base offset.
func (f *HeightField) Origin() (x, y, z float64) { return f.originX, f.baseY, f.originZ }

// Sample returns the stored height at grid node (i, j). Indices are clamped to the grid.
func (f *HeightField) Sample(i, j int) float64 {
	i = clampIndex(i, f.segments)
	j = clampIndex(j, f.segments)
	return f.samples[j*(f.segments+1)+i]
}

// HeightAt interpolates the grid at (x, z), splitting each cell into two triangles.
// Coordinates outside the grid fall back to the analytic field.
func (f *HeightField) HeightAt(x, z float64) float64 {
	if f == nil {
		return Height(x, z)
	}
	gx := (x - f.originX) / f.elementSize
	gz := (z - f.originZ) / f.elementSize
	if gx < 0 || gz < 0 || gx > float64(f.segments) || gz > float64(f.segments) || math.IsNaN(gx) || math.IsNaN(gz) {
		return Height(x, z)
	}
	i := int(math.Floor(gx))
	j := int(math.Floor(gz))
	if i >= f.segments {
		i = f.segments - 1
	}
	if j >= f.segments {
		j = f.segments - 1
	}
	fx := gx - float64(i)
	fz := gz - float64(j)

	h00 := f.Sample(i, j)
	h10 := f.Sample(i+1, j)
	h01 := f.Sample(i, j+1)
	h11 := f.Sample(i+1, j+1)
	if fx+fz <= 1 {
		return h00 + (h10-h00)*fx + (h01-h00)*fz
	}
	return h11 + (h01-h11)*(1-fx) + (h10-h11)*(1-fz)
}

// SurfaceY returns the world elevation of the collision surface at (x, z).
func (f *HeightField) SurfaceY(x, z float64) float64 {
	if f == nil {
		return Height(x, z) + DefaultBaseY
	}
	return f.HeightAt(x, z) + f.baseY
}

func clampIndex(v, segments int) int {
	if v < 0 {
		return 0
	}
	if v > segments {
		return segments
	}
	return v
}
