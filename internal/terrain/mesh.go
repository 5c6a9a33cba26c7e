package terrain

import "math"

// Surface classifies a vertex for material selection.
type Surface int

const (
	SurfaceSand Surface = iota
	SurfaceDirt
	SurfaceGrass
	SurfaceRockLow
	SurfaceRockHigh
	SurfaceSnow
	SurfaceRiverbed
)

// riverbedReach is the lateral distance from the centerline painted as riverbed.
const riverbedReach = 16.0

func (s Surface) String() string {
	switch s {
	case SurfaceSand:
		return "sand"
	case SurfaceDirt:
		return "dirt"
	case SurfaceGrass:
		return "grass"
	case SurfaceRockLow:
		return "rock_low"
	case SurfaceRockHigh:
		return "rock_high"
	case SurfaceSnow:
		return "snow"
	case SurfaceRiverbed:
		return "riverbed"
	default:
		return "unknown"
	}
}

// Classify picks the material band for a vertex at (x, z) with height h.
func Classify(x, z, h float64) Surface {
	switch {
	case math.Abs(x-RiverCenterline(z)) < riverbedReach:
		return SurfaceRiverbed
	case h > 55:
		return SurfaceSnow
	case h > 35:
		return SurfaceRockHigh
	case h > 15:
		return SurfaceRockLow
	case h > 5:
		return SurfaceGrass
	case h > 2:
		return SurfaceDirt
	default:
		return SurfaceSand
	}
}

// Vertex is one displaced mesh vertex in world space.
type Vertex struct {
	X, Y, Z float64
	Surface Surface
}

// Mesh is a row-major vertex grid with (Columns x Rows) vertices.
type Mesh struct {
	Columns  int
	Rows     int
	Vertices []Vertex
}

// At returns the vertex in column i and row j.
func (m *Mesh) At(i, j int) Vertex {
	return m.Vertices[j*m.Columns+i]
}

// BuildMesh displaces a size x size plane with segments cells per edge using the same
// sampling grid as HeightField. baseY offsets the rendered surface.
func BuildMesh(size float64, segments int, baseY float64) (*Mesh, error) {
	if size <= 0 || segments <= 0 {
		return nil, ErrInvalidGrid
	}
	stride := segments + 1
	step := size / float64(segments)
	mesh := &Mesh{Columns: stride, Rows: stride, Vertices: make([]Vertex, 0, stride*stride)}
	for j := 0; j < stride; j++ {
		z := -size/2 + float64(j)*step
		for i := 0; i < stride; i++ {
			x := -size/2 + float64(i)*step
			h := Height(x, z)
			mesh.Vertices = append(mesh.Vertices, Vertex{X: x, Y: h + baseY, Z: z, Surface: Classify(x, z, h)})
		}
	}
	return mesh, nil
}

// BuildRiverStrip lays out the water ribbon: cols x rows cells, width across the
// centerline and length along z, with every vertex at the local river surface.
func BuildRiverStrip(width, length float64, cols, rows int) (*Mesh, error) {
	if width <= 0 || length <= 0 || cols <= 0 || rows <= 0 {
		return nil, ErrInvalidGrid
	}
	mesh := &Mesh{Columns: cols + 1, Rows: rows + 1, Vertices: make([]Vertex, 0, (cols+1)*(rows+1))}
	for j := 0; j <= rows; j++ {
		z := -length/2 + float64(j)*length/float64(rows)
		center := RiverCenterline(z)
		y := RiverSurfaceY(z)
		for i := 0; i <= cols; i++ {
			offset := -width/2 + float64(i)*width/float64(cols)
			mesh.Vertices = append(mesh.Vertices, Vertex{X: center + offset, Y: y, Z: z, Surface: SurfaceRiverbed})
		}
	}
	return mesh, nil
}
