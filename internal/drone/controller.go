// Package drone turns the merged control state into drone motion, tilt, flips and a
// chase camera.
package drone

import (
	"math"

	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/physics"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// Tag identifies the drone body to trigger volumes.
	Tag = "drone"
	// BodyRadius is the collision sphere of the airframe.
	BodyRadius = 0.5

	CruiseSpeed      = 16.0
	BoostSpeed       = 28.0
	TurnRate         = 2.2
	FlipAngularSpeed = 6.5
	TiltRate         = 6.0
	PitchForward     = -0.28
	PitchBackward    = 0.22
	RollLeft         = 0.20
	RollRight        = -0.20

	CameraDistance = 5.5
	CameraHeight   = 1.8
	CameraRate     = 7.0
	LookAhead      = 2.0
	LookDrop       = 0.3

	fullTurn = 2 * math.Pi
	// flipTolerance absorbs float drift so a flip ends on the step that reaches a full turn.
	flipTolerance = 1e-9
)

var (
	// Spawn is the initial body position.
	Spawn = mgl64.Vec3{0, 5, 0}
	// InitialCamera is where the chase camera starts before it settles.
	InitialCamera = mgl64.Vec3{0, 5, 10}
)

// Mode is the controller's flight mode.
type Mode int

const (
	Cruising Mode = iota
	Flipping
)

func (m Mode) String() string {
	if m == Flipping {
		return "flipping"
	}
	return "cruising"
}

// Flip is an in-progress full rotation.
type Flip struct {
	Axis      controls.Axis
	Direction float64
	Progress  float64
}

// Camera is the chase camera pose.
type Camera struct {
	Position mgl64.Vec3
	LookAt   mgl64.Vec3
}

// FlipSource yields at most one pending flip per call.
type FlipSource interface {
	Consume() (controls.FlipRequest, bool)
}

// State is a read-only view of the controller after a step.
type State struct {
	Mode        Mode
	Flip        *Flip
	Yaw         float64
	Pitch       float64
	Roll        float64
	VisualX     float64
	VisualZ     float64
	Position    mgl64.Vec3
	Velocity    mgl64.Vec3
	Orientation mgl64.Quat
	Camera      Camera
}

// Controller owns the pilot-facing state of one drone body.
type Controller struct {
	body    physics.Body
	yaw     float64
	pitch   float64
	roll    float64
	visualX float64
	visualZ float64
	flip    *Flip
	camera  Camera
	flips   uint64
}

// NewController binds a controller to body and places it at the spawn pose.
func NewController(body physics.Body) *Controller {
	c := &Controller{body: body}
	c.Reset()
	return c
}

// Reset restores the spawn pose, clears any flip and recentres the camera.
func (c *Controller) Reset() {
	c.yaw, c.pitch, c.roll = 0, 0, 0
	c.visualX, c.visualZ = 0, 0
	c.flip = nil
	c.camera = Camera{Position: InitialCamera, LookAt: Spawn}
	if c.body != nil {
		c.body.SetPosition(Spawn)
		c.body.SetVelocity(mgl64.Vec3{})
		c.body.SetOrientation(mgl64.QuatIdent())
		c.body.SetAngularVelocity(mgl64.Vec3{})
	}
}

// RequestFlip starts a flip unless one is already running. It reports whether the flip began.
func (c *Controller) RequestFlip(req controls.FlipRequest) bool {
	if c.flip != nil || req.Validate() != nil {
		return false
	}
	req = req.Normalize()
	c.flip = &Flip{Axis: req.Axis, Direction: float64(req.Direction)}
	c.flips++
	return true
}

// Mode returns the current flight mode.
func (c *Controller) Mode() Mode {
	if c.flip != nil {
		return Flipping
	}
	return Cruising
}

// FlipsStarted counts flips accepted since construction.
func (c *Controller) FlipsStarted() uint64 { return c.flips }

// Step advances the controller by dt seconds using input and at most one pending flip.
func (c *Controller) Step(dt float64, input controls.State, pending FlipSource) {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return
	}

	//1.- Consume one pending flip; it is dropped when a flip is already running.
	if pending != nil {
		if req, ok := pending.Consume(); ok {
			c.RequestFlip(req)
		}
	}

	//2.- Left and right steer the heading.
	if input.Left {
		c.yaw += TurnRate * dt
	}
	if input.Right {
		c.yaw -= TurnRate * dt
	}

	//3.- Either advance the flip or ease the cosmetic tilt toward the input.
	if c.flip != nil {
		c.advanceFlip(dt)
	} else {
		c.ease(dt, input)
	}

	if c.body == nil {
		return
	}

	//4.- Override the velocity only on axes with active input.
	speed := CruiseSpeed
	if input.Boost {
		speed = BoostSpeed
	}
	forward := mgl64.Vec3{-math.Sin(c.yaw), 0, -math.Cos(c.yaw)}
	velocity := c.body.Velocity()
	if input.Forward || input.Backward {
		var horizontal mgl64.Vec3
		if input.Forward {
			horizontal = horizontal.Add(forward.Mul(speed))
		}
		if input.Backward {
			horizontal = horizontal.Sub(forward.Mul(speed))
		}
		velocity[0] = horizontal[0]
		velocity[2] = horizontal[2]
	}
	if input.Up {
		velocity[1] = speed
	}
	if input.Down {
		velocity[1] = -speed
	}
	c.body.SetVelocity(velocity)

	//5.- The body carries yaw only; tilt and flips stay visual.
	c.body.SetOrientation(mgl64.QuatRotate(c.yaw, mgl64.Vec3{0, 1, 0}))
	c.body.SetAngularVelocity(mgl64.Vec3{})

	//6.- Chase camera trails behind and above the drone.
	c.follow(dt, c.body.Position())
}

func (c *Controller) advanceFlip(dt float64) {
	c.flip.Progress += FlipAngularSpeed * dt
	if c.flip.Progress >= fullTurn-flipTolerance {
		c.flip = nil
		c.visualX, c.visualZ = 0, 0
		return
	}
	angle := c.flip.Direction * c.flip.Progress
	if c.flip.Axis == controls.AxisZ {
		c.visualZ = angle
	} else {
		c.visualX = angle
	}
}

func (c *Controller) ease(dt float64, input controls.State) {
	targetPitch, targetRoll := 0.0, 0.0
	if input.Forward {
		targetPitch = PitchForward
	} else if input.Backward {
		targetPitch = PitchBackward
	}
	if input.Left {
		targetRoll = RollLeft
	} else if input.Right {
		targetRoll = RollRight
	}
	alpha := decay(TiltRate, dt)
	c.pitch += (targetPitch - c.pitch) * alpha
	c.roll += (targetRoll - c.roll) * alpha
	c.visualX = c.pitch
	c.visualZ = c.roll
}

func (c *Controller) follow(dt float64, position mgl64.Vec3) {
	sin, cos := math.Sin(c.yaw), math.Cos(c.yaw)
	target := position.Add(mgl64.Vec3{sin * CameraDistance, CameraHeight, cos * CameraDistance})
	alpha := decay(CameraRate, dt)
	c.camera.Position = c.camera.Position.Add(target.Sub(c.camera.Position).Mul(alpha))
	c.camera.LookAt = position.Sub(mgl64.Vec3{sin * LookAhead, LookDrop, cos * LookAhead})
}

// decay converts a rate into the exponential interpolation factor for dt.
func decay(rate, dt float64) float64 {
	return 1 - math.Exp(-rate*dt)
}

// State returns a snapshot of the controller and its body.
func (c *Controller) State() State {
	state := State{
		Mode:    c.Mode(),
		Yaw:     c.yaw,
		Pitch:   c.pitch,
		Roll:    c.roll,
		VisualX: c.visualX,
		VisualZ: c.visualZ,
		Camera:  c.camera,
	}
	if c.flip != nil {
		flip := *c.flip
		state.Flip = &flip
	}
	if c.body != nil {
		state.Position = c.body.Position()
		state.Velocity = c.body.Velocity()
		state.Orientation = c.body.Orientation()
	}
	return state
}
