package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// SignedDistanceField exposes the sampling contract for overlap queries.
type SignedDistanceField interface {
	Sample(point mgl64.Vec3) float64
}

// SampleFunc adapts a function into a SignedDistanceField.
type SampleFunc func(mgl64.Vec3) float64

// Sample invokes the wrapped sampling function.
func (s SampleFunc) Sample(point mgl64.Vec3) float64 {
	return s(point)
}

// SphereField describes an analytic sphere signed distance function.
type SphereField struct {
	Center mgl64.Vec3
	Radius float64
}

// Sample calculates the signed distance from a point to the sphere surface.
func (s SphereField) Sample(point mgl64.Vec3) float64 {
	return point.Sub(s.Center).Len() - s.Radius
}

// BoxField is an oriented box given by its centre, half extents and rotation.
type BoxField struct {
	Center      mgl64.Vec3
	HalfExtents mgl64.Vec3
	Rotation    mgl64.Quat
}

// NewBoxField builds a box from full dimensions and an Euler rotation applied in XYZ order.
func NewBoxField(center, size, euler mgl64.Vec3) BoxField {
	return BoxField{
		Center:      center,
		HalfExtents: size.Mul(0.5),
		Rotation:    EulerXYZ(euler),
	}
}

// Sample returns the exact signed distance to the box surface.
func (b BoxField) Sample(point mgl64.Vec3) float64 {
	//1.- Move the point into the box frame.
	rotation := b.Rotation
	if rotation.Len() == 0 {
		rotation = mgl64.QuatIdent()
	}
	local := rotation.Conjugate().Rotate(point.Sub(b.Center))

	//2.- Combine the outside distance with the deepest inside component.
	q := mgl64.Vec3{
		math.Abs(local[0]) - b.HalfExtents[0],
		math.Abs(local[1]) - b.HalfExtents[1],
		math.Abs(local[2]) - b.HalfExtents[2],
	}
	outside := mgl64.Vec3{math.Max(q[0], 0), math.Max(q[1], 0), math.Max(q[2], 0)}.Len()
	inside := math.Min(math.Max(q[0], math.Max(q[1], q[2])), 0)
	return outside + inside
}

// EulerXYZ composes a rotation from Euler angles applied about X, then Y, then Z.
func EulerXYZ(euler mgl64.Vec3) mgl64.Quat {
	qx := mgl64.QuatRotate(euler[0], mgl64.Vec3{1, 0, 0})
	qy := mgl64.QuatRotate(euler[1], mgl64.Vec3{0, 1, 0})
	qz := mgl64.QuatRotate(euler[2], mgl64.Vec3{0, 0, 1})
	return qx.Mul(qy).Mul(qz)
}

// SphereIntersection evaluates whether a bounding sphere penetrates the field.
func SphereIntersection(field SignedDistanceField, center mgl64.Vec3, radius float64) (bool, float64) {
	separation := field.Sample(center) - radius
	return separation <= 0, separation
}

// Gradient estimates the outward surface normal of field at point with central differences.
func Gradient(field SignedDistanceField, point mgl64.Vec3) mgl64.Vec3 {
	const h = 1e-4
	g := mgl64.Vec3{
		field.Sample(point.Add(mgl64.Vec3{h, 0, 0})) - field.Sample(point.Sub(mgl64.Vec3{h, 0, 0})),
		field.Sample(point.Add(mgl64.Vec3{0, h, 0})) - field.Sample(point.Sub(mgl64.Vec3{0, h, 0})),
		field.Sample(point.Add(mgl64.Vec3{0, 0, h})) - field.Sample(point.Sub(mgl64.Vec3{0, 0, h})),
	}
	if g.Len() == 0 {
		return mgl64.Vec3{0, 1, 0}
	}
	return g.Normalize()
}
