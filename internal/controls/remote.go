package controls

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// RemoteThreshold is the joystick deflection a paired controller must exceed.
const RemoteThreshold = 0.5

// Remote message types understood from a paired controller.
const (
	MessageJoystick  = "joystick"
	MessageButton    = "button"
	MessageHandshake = "handshake"
	MessageControls  = "controls"
	MessageFlip      = "flip"
)

// Joystick and button identifiers.
const (
	StickMove    = "move"
	StickLook    = "look"
	ActionBoost  = "boost"
	ActionFlip   = "flip"
	maxNameRunes = 32
)

var (
	// ErrUnknownMessage reports a controller frame with an unsupported type.
	ErrUnknownMessage = errors.New("unknown controller message")
	// ErrUnknownControl reports a joystick or button id the relay does not map.
	ErrUnknownControl = errors.New("unknown controller control")
)

// RemoteMessage is one decoded controller frame.
type RemoteMessage struct {
	Type     string       `json:"type"`
	ID       string       `json:"id,omitempty"`
	X        float64      `json:"x,omitempty"`
	Y        float64      `json:"y,omitempty"`
	Action   string       `json:"action,omitempty"`
	Pressed  bool         `json:"pressed,omitempty"`
	Name     string       `json:"name,omitempty"`
	Controls *Update      `json:"controls,omitempty"`
	Flip     *FlipRequest `json:"flip,omitempty"`
	Axis     Axis         `json:"axis,omitempty"`
	Dir      int          `json:"dir,omitempty"`
	// Seq and SentAt are optional; controllers that send them get replay and staleness checks.
	Seq    uint64 `json:"seq,omitempty"`
	SentAt int64  `json:"sentAt,omitempty"`
}

// Remote applies frames from a paired controller device.
type Remote struct {
	mu        sync.Mutex
	sink      Sink
	flips     FlipTrigger
	threshold float64
	name      string
	frames    uint64
}

// NewRemote wires a remote producer.
func NewRemote(sink Sink, flips FlipTrigger) *Remote {
	return &Remote{sink: sink, flips: flips, threshold: RemoteThreshold}
}

// Name returns the label announced by the controller handshake.
func (r *Remote) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// Frames returns how many frames were applied since construction.
func (r *Remote) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Handle maps msg onto the control sink or flip slot.
func (r *Remote) Handle(msg RemoteMessage) error {
	if r == nil {
		return nil
	}
	var update Update
	switch msg.Type {
	case MessageJoystick:
		if !finite(msg.X, msg.Y) {
			return fmt.Errorf("%w: non-finite joystick axis", ErrUnknownControl)
		}
		switch msg.ID {
		case StickMove:
			update = Update{
				Forward:  Bool(msg.Y > r.threshold),
				Backward: Bool(msg.Y < -r.threshold),
				Left:     Bool(msg.X < -r.threshold),
				Right:    Bool(msg.X > r.threshold),
			}
		case StickLook:
			update = Update{
				Up:   Bool(msg.Y > r.threshold),
				Down: Bool(msg.Y < -r.threshold),
			}
		default:
			return fmt.Errorf("%w: joystick %q", ErrUnknownControl, msg.ID)
		}
	case MessageButton:
		switch msg.Action {
		case ActionBoost:
			update = Update{Boost: Bool(msg.Pressed)}
		case ActionFlip:
			if msg.Pressed && r.flips != nil {
				r.flips.Trigger(FlipRequest{Axis: AxisX, Direction: 1})
			}
		default:
			return fmt.Errorf("%w: button %q", ErrUnknownControl, msg.Action)
		}
	case MessageHandshake:
		name := strings.TrimSpace(msg.Name)
		if runes := []rune(name); len(runes) > maxNameRunes {
			name = string(runes[:maxNameRunes])
		}
		r.mu.Lock()
		r.name = name
		r.mu.Unlock()
	case MessageControls:
		if msg.Controls != nil {
			update = *msg.Controls
		}
	case MessageFlip:
		req := FlipRequest{Axis: msg.Axis, Direction: msg.Dir}
		if msg.Flip != nil {
			req = *msg.Flip
		}
		if err := req.Validate(); err != nil {
			return err
		}
		if r.flips != nil {
			r.flips.Trigger(req)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}

	if !update.Empty() && r.sink != nil {
		r.sink.Submit(Command{Source: SourceRemote, Update: update})
	}
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
	return nil
}

// Disconnect releases every control field. It runs synchronously so no stale input
// survives the loss of the data channel.
func (r *Remote) Disconnect() {
	if r == nil || r.sink == nil {
		return
	}
	r.sink.Submit(Command{Source: SourceRemote, Update: Neutral()})
}

// Droppable reports whether losing msg cannot leave a control stuck. Only joystick frames
// that deflect past the threshold qualify; a later frame supersedes them.
func (m RemoteMessage) Droppable() bool {
	if m.Type != MessageJoystick {
		return false
	}
	return math.Abs(m.X) > RemoteThreshold || math.Abs(m.Y) > RemoteThreshold
}
