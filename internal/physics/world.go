package physics

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ErrDuplicateTrigger reports a trigger registered twice under the same id.
var ErrDuplicateTrigger = errors.New("trigger already registered")

// Ground provides the elevation of the collision surface.
type Ground interface {
	SurfaceY(x, z float64) float64
}

// Trigger is a volume that reports overlaps. Solid triggers also push bodies out.
type Trigger struct {
	ID    string
	Field SignedDistanceField
	Solid bool
}

// Contact describes one body overlapping one trigger during a step.
type Contact struct {
	Trigger  string
	OtherTag string
	// Began is true only on the first step of a continuous overlap.
	Began bool
	Depth float64
}

type overlapKey struct {
	trigger string
	tag     string
}

// World owns the bodies, the ground and the trigger volumes of one session.
type World struct {
	gravity  mgl64.Vec3
	ground   Ground
	bodies   []*SphereBody
	triggers []Trigger
	index    map[string]int
	overlaps map[overlapKey]bool
	grounded map[string]bool
}

// WorldOption customises a World.
type WorldOption func(*World)

// WithGravity overrides the zero-gravity default.
func WithGravity(g mgl64.Vec3) WorldOption {
	return func(w *World) {
		w.gravity = g
	}
}

// NewWorld creates an empty world. A nil ground disables terrain contact.
func NewWorld(ground Ground, opts ...WorldOption) *World {
	w := &World{
		ground:   ground,
		index:    make(map[string]int),
		overlaps: make(map[overlapKey]bool),
		grounded: make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// AddBody registers a dynamic body.
func (w *World) AddBody(body *SphereBody) {
	if body == nil {
		return
	}
	w.bodies = append(w.bodies, body)
}

// AddTrigger registers a trigger volume. Triggers are evaluated in registration order.
func (w *World) AddTrigger(t Trigger) error {
	if _, exists := w.index[t.ID]; exists {
		return ErrDuplicateTrigger
	}
	w.index[t.ID] = len(w.triggers)
	w.triggers = append(w.triggers, t)
	return nil
}

// ClearTriggers removes every trigger and forgets all overlaps.
func (w *World) ClearTriggers() {
	w.triggers = nil
	w.index = make(map[string]int)
	w.overlaps = make(map[overlapKey]bool)
}

// Triggers returns the number of registered trigger volumes.
func (w *World) Triggers() int { return len(w.triggers) }

// Grounded reports whether the tagged body touched the terrain during the last step.
func (w *World) Grounded(tag string) bool { return w.grounded[tag] }

// Step advances every body by dt seconds and returns the trigger overlaps of this step.
func (w *World) Step(dt float64) []Contact {
	if dt <= 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return nil
	}
	var contacts []Contact
	for _, body := range w.bodies {
		//1.- Integrate the free motion.
		integrateBody(body, w.gravity, dt)

		//2.- Keep the sphere above the height field.
		w.grounded[body.tag] = w.resolveGround(body)

		//3.- Report trigger overlaps and resolve solid ones.
		for _, trigger := range w.triggers {
			if trigger.Field == nil {
				continue
			}
			key := overlapKey{trigger: trigger.ID, tag: body.tag}
			hit, separation := SphereIntersection(trigger.Field, body.position, body.radius)
			if !hit {
				delete(w.overlaps, key)
				continue
			}
			began := !w.overlaps[key]
			w.overlaps[key] = true
			if trigger.Solid {
				pushOut(body, trigger.Field, separation)
			}
			contacts = append(contacts, Contact{
				Trigger:  trigger.ID,
				OtherTag: body.tag,
				Began:    began,
				Depth:    -separation,
			})
		}
	}
	return contacts
}

func (w *World) resolveGround(body *SphereBody) bool {
	if w.ground == nil {
		return false
	}
	floor := w.ground.SurfaceY(body.position[0], body.position[2]) + body.radius
	if body.position[1] >= floor {
		return false
	}
	body.position[1] = floor
	if body.velocity[1] < 0 {
		body.velocity[1] = 0
	}
	return true
}

func pushOut(body *SphereBody, field SignedDistanceField, separation float64) {
	normal := Gradient(field, body.position)
	body.position = body.position.Add(normal.Mul(-separation))
	if into := body.velocity.Dot(normal); into < 0 {
		body.velocity = body.velocity.Sub(normal.Mul(into))
	}
}
