package controls

import (
	"errors"
	"fmt"
	"sync"
)

// Axis selects the model axis a flip rotates around.
type Axis string

const (
	// AxisX is a front or back flip.
	AxisX Axis = "x"
	// AxisZ is a side roll.
	AxisZ Axis = "z"
)

// ErrInvalidFlip reports a flip request with an unknown axis or zero direction.
var ErrInvalidFlip = errors.New("invalid flip request")

// FlipRequest asks for one full rotation around Axis in Direction (+1 or -1).
type FlipRequest struct {
	Axis      Axis `json:"axis"`
	Direction int  `json:"dir"`
}

// Validate rejects unknown axes and zero directions.
func (f FlipRequest) Validate() error {
	if f.Axis != AxisX && f.Axis != AxisZ {
		return fmt.Errorf("%w: axis %q", ErrInvalidFlip, f.Axis)
	}
	if f.Direction == 0 {
		return fmt.Errorf("%w: zero direction", ErrInvalidFlip)
	}
	return nil
}

// Normalize clamps the direction to its sign.
func (f FlipRequest) Normalize() FlipRequest {
	if f.Direction > 0 {
		f.Direction = 1
	} else if f.Direction < 0 {
		f.Direction = -1
	}
	return f
}

// FlipTrigger accepts flip requests.
type FlipTrigger interface {
	Trigger(req FlipRequest)
}

// FlipSlot holds at most one pending flip. A newer request overwrites an unread one and
// Consume is an atomic check-and-clear.
type FlipSlot struct {
	mu sync.Mutex
	ch chan FlipRequest
}

// NewFlipSlot returns an empty slot.
func NewFlipSlot() *FlipSlot {
	return &FlipSlot{ch: make(chan FlipRequest, 1)}
}

// Trigger stores req, replacing any request not yet consumed.
func (s *FlipSlot) Trigger(req FlipRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
	default:
	}
	s.ch <- req.Normalize()
}

// Consume takes the pending request, if any.
func (s *FlipSlot) Consume() (FlipRequest, bool) {
	select {
	case req := <-s.ch:
		return req, true
	default:
		return FlipRequest{}, false
	}
}

// Pending reports whether a request is waiting.
func (s *FlipSlot) Pending() bool {
	return len(s.ch) > 0
}

// Clear drops any pending request.
func (s *FlipSlot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
	default:
	}
}
