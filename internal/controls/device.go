package controls

import (
	"math"
	"sync"
)

const (
	// TouchThreshold is the joystick deflection needed to register a direction.
	TouchThreshold = 0.2
	// GyroDeadZone is the tilt, in degrees, ignored around the neutral pose.
	GyroDeadZone = 5.0
	// GyroForwardLimit caps forward pitch so a device laid flat is not read as full forward.
	GyroForwardLimit = 55.0
)

// Touch maps the two on-screen joysticks to control updates.
type Touch struct {
	sink      Sink
	threshold float64
}

// NewTouch returns a touch producer with the stock threshold.
func NewTouch(sink Sink) *Touch {
	return &Touch{sink: sink, threshold: TouchThreshold}
}

// Move handles the movement joystick. Positive y is pushed away from the pilot.
func (t *Touch) Move(x, y float64) {
	if t == nil || t.sink == nil || !finite(x, y) {
		return
	}
	t.sink.Submit(Command{Source: SourceTouch, Update: Update{
		Forward:  Bool(y > t.threshold),
		Backward: Bool(y < -t.threshold),
		Left:     Bool(x < -t.threshold),
		Right:    Bool(x > t.threshold),
	}})
}

// Altitude handles the climb joystick.
func (t *Touch) Altitude(y float64) {
	if t == nil || t.sink == nil || !finite(y, 0) {
		return
	}
	t.sink.Submit(Command{Source: SourceTouch, Update: Update{
		Up:   Bool(y > t.threshold),
		Down: Bool(y < -t.threshold),
	}})
}

// Release clears every direction owned by the joysticks.
func (t *Touch) Release() {
	if t == nil || t.sink == nil {
		return
	}
	f := Bool(false)
	t.sink.Submit(Command{Source: SourceTouch, Update: Update{
		Forward: f, Backward: f, Left: f, Right: f, Up: f, Down: f,
	}})
}

// Gyro maps device tilt to the horizontal directions while enabled.
type Gyro struct {
	mu      sync.Mutex
	sink    Sink
	enabled bool
}

// NewGyro returns a disabled gyro producer.
func NewGyro(sink Sink) *Gyro {
	return &Gyro{sink: sink}
}

// Enabled reports whether orientation events are applied.
func (g *Gyro) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// SetEnabled toggles tilt steering. Disabling releases the four horizontal fields.
func (g *Gyro) SetEnabled(on bool) {
	g.mu.Lock()
	g.enabled = on
	g.mu.Unlock()
	if on || g.sink == nil {
		return
	}
	f := Bool(false)
	g.sink.Submit(Command{Source: SourceGyro, Update: Update{Forward: f, Backward: f, Left: f, Right: f}})
}

// Orientation applies a tilt reading in degrees. beta is front-back, gamma is left-right.
func (g *Gyro) Orientation(beta, gamma float64) bool {
	if g == nil || g.sink == nil || !finite(beta, gamma) {
		return false
	}
	g.mu.Lock()
	enabled := g.enabled
	g.mu.Unlock()
	if !enabled {
		return false
	}
	g.sink.Submit(Command{Source: SourceGyro, Update: Update{
		Forward:  Bool(beta > GyroDeadZone && beta < GyroForwardLimit),
		Backward: Bool(beta < -GyroDeadZone),
		Left:     Bool(gamma < -GyroDeadZone),
		Right:    Bool(gamma > GyroDeadZone),
	}})
	return true
}

func finite(a, b float64) bool {
	return !math.IsNaN(a) && !math.IsInf(a, 0) && !math.IsNaN(b) && !math.IsInf(b, 0)
}
