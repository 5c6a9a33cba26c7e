package course

import (
	"fmt"

	"dronerace/broker/internal/physics"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// CoreRadius is the pickup sphere of an energy core.
	CoreRadius = 0.6
	// CoreScore is awarded once per collected core.
	CoreScore = 100
	// CoreEnergy is restored once per collected core.
	CoreEnergy = 20.0
	// ObstacleDrain is removed from energy on every new obstacle contact.
	ObstacleDrain = 10.0
)

// EnergyCore is a one-shot pickup.
type EnergyCore struct {
	Index     int
	Position  mgl64.Vec3
	collected bool
}

// Collected reports whether the core was already picked up.
func (c *EnergyCore) Collected() bool { return c.collected }

// TriggerID names the core's trigger volume.
func (c *EnergyCore) TriggerID() string { return fmt.Sprintf("core-%d", c.Index) }

// HandleContact collects the core on the first began contact with the pilot.
func (c *EnergyCore) HandleContact(contact physics.Contact) bool {
	if c.collected || !contact.Began || contact.OtherTag != PilotTag {
		return false
	}
	c.collected = true
	return true
}

// Obstacle is a solid box that drains energy whenever the pilot hits it.
type Obstacle struct {
	Index    int
	Position mgl64.Vec3
	Size     mgl64.Vec3
	Rotation mgl64.Vec3
	hits     int
}

// TriggerID names the obstacle's volume.
func (o *Obstacle) TriggerID() string { return fmt.Sprintf("obstacle-%d", o.Index) }

// Hits counts the contacts that drained energy.
func (o *Obstacle) Hits() int { return o.hits }

// HandleContact reports whether this contact starts a new hit.
func (o *Obstacle) HandleContact(contact physics.Contact) bool {
	if !contact.Began || contact.OtherTag != PilotTag {
		return false
	}
	o.hits++
	return true
}
