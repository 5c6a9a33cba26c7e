package course

import (
	"dronerace/broker/internal/physics"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// DefaultGates is the length of the first level.
	DefaultGates = 20
	maxGates     = 40
)

// Store is the slice of the game store the course mutates.
type Store interface {
	PassGate()
	AddScore(points int)
	AddEnergy(amount float64)
	UseEnergy(amount float64)
}

// EventKind names a course event.
type EventKind string

const (
	EventGatePassed    EventKind = "gate_passed"
	EventCoreCollected EventKind = "core_collected"
	EventObstacleHit   EventKind = "obstacle_hit"
)

// Event records one scoring contact.
type Event struct {
	Kind  EventKind `json:"kind"`
	Index int       `json:"index"`
}

// Level describes what a level number lays out.
type Level struct {
	Number        int
	Gates         int
	CoreEvery     int
	ObstacleEvery int
}

// LevelFor returns the layout rules of level n. Levels below one use the first level.
func LevelFor(n int) Level {
	if n <= 1 {
		return Level{Number: 1, Gates: DefaultGates, CoreEvery: 4}
	}
	gates := DefaultGates + 5*(n-1)
	if gates > maxGates {
		gates = maxGates
	}
	return Level{Number: n, Gates: gates, CoreEvery: 5, ObstacleEvery: 3}
}

// Course holds the gates and pickups of one level.
type Course struct {
	level     Level
	gates     []*Gate
	cores     []*EnergyCore
	obstacles []*Obstacle
}

// New lays out level n.
func New(n int) *Course {
	level := LevelFor(n)
	c := &Course{level: level, gates: Layout(level.Gates)}

	//1.- Cores hover between consecutive gates.
	if level.CoreEvery > 0 {
		for i := level.CoreEvery - 1; i+1 < len(c.gates); i += level.CoreEvery {
			mid := c.gates[i].Position.Add(c.gates[i+1].Position).Mul(0.5)
			c.cores = append(c.cores, &EnergyCore{Index: len(c.cores), Position: mid})
		}
	}

	//2.- Obstacles flank selected gates on the outside of the bend.
	if level.ObstacleEvery > 0 {
		for i := level.ObstacleEvery - 1; i < len(c.gates); i += level.ObstacleEvery {
			gate := c.gates[i]
			side := 8.0
			if gate.Position[0] > 0 {
				side = -8
			}
			c.obstacles = append(c.obstacles, &Obstacle{
				Index:    len(c.obstacles),
				Position: gate.Position.Add(mgl64.Vec3{side, 0, 0}),
				Size:     mgl64.Vec3{3, 3, 3},
				Rotation: gate.Rotation,
			})
		}
	}
	return c
}

// Level returns the rules the course was built from.
func (c *Course) Level() Level { return c.level }

// Gates returns the gates in course order.
func (c *Course) Gates() []*Gate { return c.gates }

// Cores returns the energy cores.
func (c *Course) Cores() []*EnergyCore { return c.cores }

// Obstacles returns the obstacles.
func (c *Course) Obstacles() []*Obstacle { return c.obstacles }

// TotalGates returns the number of gates in the level.
func (c *Course) TotalGates() int { return len(c.gates) }

// NextGate returns the lowest-index gate that is still active.
func (c *Course) NextGate() (*Gate, bool) {
	for _, gate := range c.gates {
		if gate.Active() {
			return gate, true
		}
	}
	return nil, false
}

// Register adds every volume of the course to the world in processing order.
func (c *Course) Register(w *physics.World) error {
	for _, gate := range c.gates {
		if err := w.AddTrigger(physics.Trigger{ID: gate.TriggerID(), Field: gate.Field()}); err != nil {
			return err
		}
	}
	for _, core := range c.cores {
		field := physics.SphereField{Center: core.Position, Radius: CoreRadius}
		if err := w.AddTrigger(physics.Trigger{ID: core.TriggerID(), Field: field}); err != nil {
			return err
		}
	}
	for _, obstacle := range c.obstacles {
		field := physics.NewBoxField(obstacle.Position, obstacle.Size, obstacle.Rotation)
		if err := w.AddTrigger(physics.Trigger{ID: obstacle.TriggerID(), Field: field, Solid: true}); err != nil {
			return err
		}
	}
	return nil
}

// Process applies contacts to store. Gates are handled in index order, then cores, then
// obstacles, so simultaneous contacts always score the same way.
func (c *Course) Process(contacts []physics.Contact, store Store) []Event {
	if len(contacts) == 0 {
		return nil
	}
	byTrigger := make(map[string][]physics.Contact, len(contacts))
	for _, contact := range contacts {
		byTrigger[contact.Trigger] = append(byTrigger[contact.Trigger], contact)
	}

	var events []Event
	for _, gate := range c.gates {
		for _, contact := range byTrigger[gate.TriggerID()] {
			if gate.HandleContact(contact) {
				store.PassGate()
				events = append(events, Event{Kind: EventGatePassed, Index: gate.Index})
			}
		}
	}
	for _, core := range c.cores {
		for _, contact := range byTrigger[core.TriggerID()] {
			if core.HandleContact(contact) {
				store.AddScore(CoreScore)
				store.AddEnergy(CoreEnergy)
				events = append(events, Event{Kind: EventCoreCollected, Index: core.Index})
			}
		}
	}
	for _, obstacle := range c.obstacles {
		for _, contact := range byTrigger[obstacle.TriggerID()] {
			if obstacle.HandleContact(contact) {
				store.UseEnergy(ObstacleDrain)
				events = append(events, Event{Kind: EventObstacleHit, Index: obstacle.Index})
			}
		}
	}
	return events
}
