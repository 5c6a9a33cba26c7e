package drone

import (
	"math"
	"testing"

	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/physics"

	"github.com/go-gl/mathgl/mgl64"
)

func newTestController() (*Controller, *physics.SphereBody) {
	body := physics.NewSphereBody(Tag, mgl64.Vec3{}, BodyRadius)
	return NewController(body), body
}

func TestResetPlacesDroneAtSpawn(t *testing.T) {
	c, body := newTestController()
	body.SetVelocity(mgl64.Vec3{1, 2, 3})
	c.RequestFlip(controls.FlipRequest{Axis: controls.AxisX, Direction: 1})
	c.Reset()
	if body.Position() != Spawn || body.Velocity() != (mgl64.Vec3{}) {
		t.Fatalf("unexpected pose after reset: %v %v", body.Position(), body.Velocity())
	}
	if c.Mode() != Cruising {
		t.Fatal("reset should cancel flips")
	}
}

func TestFlipCompletesAfterFullTurn(t *testing.T) {
	c, _ := newTestController()
	slot := controls.NewFlipSlot()
	slot.Trigger(controls.FlipRequest{Axis: controls.AxisX, Direction: 1})

	duration := 2 * math.Pi / FlipAngularSpeed
	steps := 120
	dt := duration / float64(steps)

	c.Step(dt, controls.State{}, slot)
	if c.Mode() != Flipping {
		t.Fatal("expected flip to start")
	}
	state := c.State()
	if state.Flip == nil || state.Flip.Axis != controls.AxisX || math.Abs(state.VisualX-FlipAngularSpeed*dt) > 1e-12 {
		t.Fatalf("unexpected flip state %+v", state)
	}
	for i := 1; i < steps; i++ {
		c.Step(dt, controls.State{}, slot)
	}
	if c.Mode() != Cruising {
		t.Fatalf("flip should have completed, progress=%v", c.State().Flip)
	}
	state = c.State()
	if state.VisualX != 0 || state.VisualZ != 0 {
		t.Fatalf("visual rotation not reset: x=%v z=%v", state.VisualX, state.VisualZ)
	}
}

func TestSecondFlipWhileFlippingIsDropped(t *testing.T) {
	c, _ := newTestController()
	slot := controls.NewFlipSlot()
	slot.Trigger(controls.FlipRequest{Axis: controls.AxisZ, Direction: -1})
	c.Step(0.05, controls.State{}, slot)

	slot.Trigger(controls.FlipRequest{Axis: controls.AxisX, Direction: 1})
	c.Step(0.05, controls.State{}, slot)
	state := c.State()
	if state.Flip == nil || state.Flip.Axis != controls.AxisZ || state.Flip.Direction != -1 {
		t.Fatalf("second request altered the running flip: %+v", state.Flip)
	}
	if slot.Pending() {
		t.Fatal("dropped request should still be consumed")
	}
	if state.VisualZ >= 0 {
		t.Fatalf("negative side flip should rotate negatively, got %v", state.VisualZ)
	}
	if c.RequestFlip(controls.FlipRequest{Axis: controls.AxisX, Direction: 1}) {
		t.Fatal("direct request during a flip must be ignored")
	}
	if c.FlipsStarted() != 1 {
		t.Fatalf("expected one flip started, got %d", c.FlipsStarted())
	}
}

func TestYawFollowsLeftAndRight(t *testing.T) {
	c, _ := newTestController()
	c.Step(0.5, controls.State{Left: true}, nil)
	if got := c.State().Yaw; math.Abs(got-TurnRate*0.5) > 1e-12 {
		t.Fatalf("yaw after left = %v", got)
	}
	c.Step(0.5, controls.State{Left: true, Right: true}, nil)
	if got := c.State().Yaw; math.Abs(got-TurnRate*0.5) > 1e-12 {
		t.Fatalf("opposing inputs should cancel, yaw = %v", got)
	}
}

func TestVelocityOverridesOnlyActiveAxes(t *testing.T) {
	c, body := newTestController()
	body.SetVelocity(mgl64.Vec3{3, -2, 4})

	c.Step(0.016, controls.State{Up: true}, nil)
	if v := body.Velocity(); v[0] != 3 || v[2] != 4 || v[1] != CruiseSpeed {
		t.Fatalf("climb should only touch the vertical axis, got %v", v)
	}

	c.Step(0.016, controls.State{Forward: true, Boost: true}, nil)
	v := body.Velocity()
	if math.Abs(v[2]+BoostSpeed) > 1e-9 || math.Abs(v[0]) > 1e-9 {
		t.Fatalf("boosted forward at yaw 0 should be -z, got %v", v)
	}
	if v[1] != CruiseSpeed {
		t.Fatalf("vertical velocity should persist without input, got %v", v[1])
	}

	c.Step(0.016, controls.State{Forward: true, Backward: true, Down: true}, nil)
	v = body.Velocity()
	if v[0] != 0 || v[2] != 0 || v[1] != -CruiseSpeed {
		t.Fatalf("opposing horizontal input should zero the plane, got %v", v)
	}
}

func TestOrientationCarriesYawOnly(t *testing.T) {
	c, body := newTestController()
	body.SetAngularVelocity(mgl64.Vec3{1, 1, 1})
	c.Step(0.25, controls.State{Left: true, Forward: true}, nil)
	want := mgl64.QuatRotate(TurnRate*0.25, mgl64.Vec3{0, 1, 0})
	if !body.Orientation().ApproxEqual(want) {
		t.Fatalf("orientation = %v want %v", body.Orientation(), want)
	}
	if body.AngularVelocity() != (mgl64.Vec3{}) {
		t.Fatal("angular velocity should be zeroed")
	}
	state := c.State()
	if state.Pitch >= 0 || state.Roll <= 0 {
		t.Fatalf("expected forward pitch and left roll, got pitch=%v roll=%v", state.Pitch, state.Roll)
	}
	if state.Pitch < PitchForward || state.Roll > RollLeft {
		t.Fatalf("tilt overshot its target: %+v", state)
	}
}

func TestTiltConvergesToTarget(t *testing.T) {
	c, _ := newTestController()
	for i := 0; i < 300; i++ {
		c.Step(1.0/60, controls.State{Backward: true, Right: true}, nil)
	}
	state := c.State()
	if math.Abs(state.Pitch-PitchBackward) > 1e-4 || math.Abs(state.Roll-RollRight) > 1e-4 {
		t.Fatalf("tilt did not settle: pitch=%v roll=%v", state.Pitch, state.Roll)
	}
	if state.VisualX != state.Pitch || state.VisualZ != state.Roll {
		t.Fatal("visual rotation should mirror the tilt while cruising")
	}
}

func TestCameraTrailsBehindDrone(t *testing.T) {
	c, body := newTestController()
	for i := 0; i < 600; i++ {
		c.Step(1.0/60, controls.State{}, nil)
	}
	cam := c.State().Camera
	pos := body.Position()
	want := pos.Add(mgl64.Vec3{0, CameraHeight, CameraDistance})
	if cam.Position.Sub(want).Len() > 1e-3 {
		t.Fatalf("camera did not settle behind drone: %v want %v", cam.Position, want)
	}
	if cam.LookAt.Sub(pos.Sub(mgl64.Vec3{0, LookDrop, LookAhead})).Len() > 1e-12 {
		t.Fatalf("unexpected look target %v", cam.LookAt)
	}
}

func TestInvalidStepIsIgnored(t *testing.T) {
	c, _ := newTestController()
	c.Step(math.NaN(), controls.State{Left: true}, nil)
	if c.State().Yaw != 0 {
		t.Fatal("NaN step should not advance yaw")
	}
}
