// Package physics integrates the drone body against the terrain height field and
// reports overlaps with trigger volumes.
package physics

import "github.com/go-gl/mathgl/mgl64"

// DefaultLinearDamping matches the drone's airframe drag.
const DefaultLinearDamping = 0.88

// Body is the rigid body surface the drone controller drives.
type Body interface {
	Tag() string
	Position() mgl64.Vec3
	SetPosition(p mgl64.Vec3)
	Velocity() mgl64.Vec3
	SetVelocity(v mgl64.Vec3)
	Orientation() mgl64.Quat
	SetOrientation(q mgl64.Quat)
	SetAngularVelocity(w mgl64.Vec3)
}

// SphereBody is a dynamic sphere with linear damping.
type SphereBody struct {
	tag           string
	radius        float64
	mass          float64
	linearDamping float64
	maxSpeed      float64
	position      mgl64.Vec3
	velocity      mgl64.Vec3
	orientation   mgl64.Quat
	angular       mgl64.Vec3
}

// BodyOption customises a SphereBody.
type BodyOption func(*SphereBody)

// WithLinearDamping overrides the damping coefficient.
func WithLinearDamping(d float64) BodyOption {
	return func(b *SphereBody) {
		if d >= 0 {
			b.linearDamping = d
		}
	}
}

// WithMaxSpeed clamps the body's speed after each integration step.
func WithMaxSpeed(limit float64) BodyOption {
	return func(b *SphereBody) {
		b.maxSpeed = limit
	}
}

// WithMass sets the body's mass.
func WithMass(mass float64) BodyOption {
	return func(b *SphereBody) {
		if mass > 0 {
			b.mass = mass
		}
	}
}

// NewSphereBody creates a body resting at position.
func NewSphereBody(tag string, position mgl64.Vec3, radius float64, opts ...BodyOption) *SphereBody {
	body := &SphereBody{
		tag:           tag,
		radius:        radius,
		mass:          1,
		linearDamping: DefaultLinearDamping,
		position:      position,
		orientation:   mgl64.QuatIdent(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(body)
		}
	}
	return body
}

func (b *SphereBody) Tag() string                     { return b.tag }
func (b *SphereBody) Radius() float64                 { return b.radius }
func (b *SphereBody) Mass() float64                   { return b.mass }
func (b *SphereBody) Position() mgl64.Vec3            { return b.position }
func (b *SphereBody) SetPosition(p mgl64.Vec3)        { b.position = p }
func (b *SphereBody) Velocity() mgl64.Vec3            { return b.velocity }
func (b *SphereBody) SetVelocity(v mgl64.Vec3)        { b.velocity = v }
func (b *SphereBody) Orientation() mgl64.Quat         { return b.orientation }
func (b *SphereBody) SetOrientation(q mgl64.Quat)     { b.orientation = q }
func (b *SphereBody) AngularVelocity() mgl64.Vec3     { return b.angular }
func (b *SphereBody) SetAngularVelocity(w mgl64.Vec3) { b.angular = w }
