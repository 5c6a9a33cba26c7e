package controls

import (
	"strings"
	"sync"
	"time"
)

// DoubleTapWindow is the longest gap between two presses that still counts as a double tap.
const DoubleTapWindow = 350 * time.Millisecond

// KeyEvent is a normalised key transition from the game client.
type KeyEvent struct {
	Key    string `json:"key"`
	Down   bool   `json:"down"`
	Repeat bool   `json:"repeat,omitempty"`
}

type keyBinding int

const (
	bindNone keyBinding = iota
	bindForward
	bindBackward
	bindLeft
	bindRight
	bindUp
	bindDown
	bindBoost
	bindRollLeft
	bindRollRight
)

func bindingFor(key string) keyBinding {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "w", "arrowup":
		return bindForward
	case "s", "arrowdown":
		return bindBackward
	case "a", "arrowleft":
		return bindLeft
	case "d", "arrowright":
		return bindRight
	case "space", "spacebar":
		return bindUp
	case "shift":
		return bindDown
	case "b":
		return bindBoost
	case "q":
		return bindRollLeft
	case "e":
		return bindRollRight
	}
	if key == " " {
		return bindUp
	}
	return bindNone
}

// Keyboard maps key transitions to control updates and flip gestures.
type Keyboard struct {
	mu       sync.Mutex
	sink     Sink
	flips    FlipTrigger
	now      func() time.Time
	window   time.Duration
	lastDown map[keyBinding]time.Time
}

// KeyboardOption customises a Keyboard.
type KeyboardOption func(*Keyboard)

// WithKeyboardClock injects a deterministic clock.
func WithKeyboardClock(now func() time.Time) KeyboardOption {
	return func(k *Keyboard) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeyboard wires a keyboard producer to its sink and flip trigger.
func NewKeyboard(sink Sink, flips FlipTrigger, opts ...KeyboardOption) *Keyboard {
	k := &Keyboard{
		sink:     sink,
		flips:    flips,
		now:      time.Now,
		window:   DoubleTapWindow,
		lastDown: make(map[keyBinding]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Handle applies ev and reports whether the key is bound.
func (k *Keyboard) Handle(ev KeyEvent) bool {
	if k == nil {
		return false
	}
	binding := bindingFor(ev.Key)
	if binding == bindNone {
		return false
	}

	//1.- Side flips fire on the press edge only.
	if binding == bindRollLeft || binding == bindRollRight {
		if ev.Down && !ev.Repeat && k.flips != nil {
			dir := -1
			if binding == bindRollRight {
				dir = 1
			}
			k.flips.Trigger(FlipRequest{Axis: AxisZ, Direction: dir})
		}
		return true
	}

	//2.- Forward and backward presses inside the window become front or back flips.
	if ev.Down && !ev.Repeat && (binding == bindForward || binding == bindBackward) {
		if req, ok := k.detectDoubleTap(binding); ok && k.flips != nil {
			k.flips.Trigger(req)
		}
	}

	//3.- Every bound key also drives its held flag.
	if k.sink != nil {
		k.sink.Submit(Command{Source: SourceKeyboard, Update: updateFor(binding, ev.Down)})
	}
	return true
}

func (k *Keyboard) detectDoubleTap(binding keyBinding) (FlipRequest, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	last, seen := k.lastDown[binding]
	if seen && now.Sub(last) <= k.window {
		delete(k.lastDown, binding)
		dir := 1
		if binding == bindBackward {
			dir = -1
		}
		return FlipRequest{Axis: AxisX, Direction: dir}, true
	}
	k.lastDown[binding] = now
	return FlipRequest{}, false
}

func updateFor(binding keyBinding, pressed bool) Update {
	v := Bool(pressed)
	switch binding {
	case bindForward:
		return Update{Forward: v}
	case bindBackward:
		return Update{Backward: v}
	case bindLeft:
		return Update{Left: v}
	case bindRight:
		return Update{Right: v}
	case bindUp:
		return Update{Up: v}
	case bindDown:
		return Update{Down: v}
	case bindBoost:
		return Update{Boost: v}
	}
	return Update{}
}
