// Package course lays out the gates and pickups of a level and turns trigger contacts
// into score and energy changes.
package course

import (
	"fmt"
	"math"

	"dronerace/broker/internal/physics"

	"github.com/go-gl/mathgl/mgl64"
)

// PilotTag is the only body tag that can pass gates or collect pickups.
const PilotTag = "drone"

// GateSize is the trigger box of an unscaled gate.
var GateSize = mgl64.Vec3{4, 4, 1}

// Gate is a one-shot trigger box along the course.
type Gate struct {
	Index    int
	Position mgl64.Vec3
	Rotation mgl64.Vec3
	Scale    float64
	active   bool
}

// NewGate creates an active gate.
func NewGate(index int, position, rotation mgl64.Vec3) *Gate {
	return &Gate{Index: index, Position: position, Rotation: rotation, Scale: 1, active: true}
}

// Active reports whether the gate can still be passed.
func (g *Gate) Active() bool { return g.active }

// TriggerID names the gate's trigger volume.
func (g *Gate) TriggerID() string { return fmt.Sprintf("gate-%d", g.Index) }

// Field returns the gate's trigger volume.
func (g *Gate) Field() physics.SignedDistanceField {
	return physics.NewBoxField(g.Position, GateSize.Mul(g.Scale), g.Rotation)
}

// HandleContact deactivates the gate on the first began contact with the pilot.
// It reports whether the gate was passed by this contact.
func (g *Gate) HandleContact(contact physics.Contact) bool {
	if !g.active || !contact.Began || contact.OtherTag != PilotTag {
		return false
	}
	g.active = false
	return true
}

// Layout generates the winding gate path for count gates.
func Layout(count int) []*Gate {
	if count <= 0 {
		return nil
	}
	gates := make([]*Gate, 0, count)
	for i := 0; i < count; i++ {
		f := float64(i)
		position := mgl64.Vec3{
			math.Sin(f*0.45)*60 + math.Cos(f*0.2)*20,
			12 + math.Sin(f*0.35)*8 + math.Cos(f*0.6)*4,
			-40 - f*60,
		}
		rotation := mgl64.Vec3{0, math.Sin(f*0.3) * 0.4, math.Sin(f*0.2) * 0.5}
		gates = append(gates, NewGate(i, position, rotation))
	}
	return gates
}
