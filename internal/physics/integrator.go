package physics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

func clampMagnitude(vector mgl64.Vec3, limit float64) mgl64.Vec3 {
	//1.- Skip clamping when the limit disables the guard.
	if !(limit > 0) {
		return vector
	}
	magnitude := vector.Len()
	if magnitude == 0 || magnitude <= limit {
		return vector
	}
	//2.- Scale uniformly so the resulting magnitude matches the limit.
	return vector.Mul(limit / magnitude)
}

// dampVelocity applies linear damping as a per-second retention factor.
func dampVelocity(velocity mgl64.Vec3, damping, step float64) mgl64.Vec3 {
	if damping <= 0 {
		return velocity
	}
	if damping >= 1 {
		return mgl64.Vec3{}
	}
	return velocity.Mul(math.Pow(1-damping, step))
}

// integrateBody advances one sphere by step seconds under gravity and damping.
func integrateBody(body *SphereBody, gravity mgl64.Vec3, step float64) {
	//1.- Skip invalid timesteps.
	if body == nil || step <= 0 || math.IsNaN(step) {
		return
	}
	//2.- Accelerate, damp and clamp the velocity.
	velocity := body.velocity.Add(gravity.Mul(step))
	velocity = dampVelocity(velocity, body.linearDamping, step)
	velocity = clampMagnitude(velocity, body.maxSpeed)
	body.velocity = velocity
	//3.- Advance the position with semi-implicit Euler.
	body.position = body.position.Add(velocity.Mul(step))
	//4.- Spin the orientation by any residual angular velocity.
	if spin := body.angular.Len(); spin > 0 {
		delta := mgl64.QuatRotate(spin*step, body.angular.Mul(1/spin))
		body.orientation = delta.Mul(body.orientation).Normalize()
	}
}
