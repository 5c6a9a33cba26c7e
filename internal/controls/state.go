// Package controls merges pilot input from every producer into a single control state.
package controls

import "sync"

// State is the merged, boolean intent of the pilot.
type State struct {
	Forward  bool `json:"forward"`
	Backward bool `json:"backward"`
	Left     bool `json:"left"`
	Right    bool `json:"right"`
	Up       bool `json:"up"`
	Down     bool `json:"down"`
	Boost    bool `json:"boost"`
}

// Update is a partial state. Nil fields are left untouched when applied.
type Update struct {
	Forward  *bool `json:"forward,omitempty"`
	Backward *bool `json:"backward,omitempty"`
	Left     *bool `json:"left,omitempty"`
	Right    *bool `json:"right,omitempty"`
	Up       *bool `json:"up,omitempty"`
	Down     *bool `json:"down,omitempty"`
	Boost    *bool `json:"boost,omitempty"`
}

// Bool returns a pointer to v for building updates.
func Bool(v bool) *bool { return &v }

// Apply merges u into s field by field.
func (s State) Apply(u Update) State {
	if u.Forward != nil {
		s.Forward = *u.Forward
	}
	if u.Backward != nil {
		s.Backward = *u.Backward
	}
	if u.Left != nil {
		s.Left = *u.Left
	}
	if u.Right != nil {
		s.Right = *u.Right
	}
	if u.Up != nil {
		s.Up = *u.Up
	}
	if u.Down != nil {
		s.Down = *u.Down
	}
	if u.Boost != nil {
		s.Boost = *u.Boost
	}
	return s
}

// Empty reports whether u carries no fields.
func (u Update) Empty() bool {
	return u.Forward == nil && u.Backward == nil && u.Left == nil && u.Right == nil &&
		u.Up == nil && u.Down == nil && u.Boost == nil
}

// Neutral releases all seven fields.
func Neutral() Update {
	return Update{
		Forward:  Bool(false),
		Backward: Bool(false),
		Left:     Bool(false),
		Right:    Bool(false),
		Up:       Bool(false),
		Down:     Bool(false),
		Boost:    Bool(false),
	}
}

// Source names the producer of a command.
type Source string

const (
	SourceKeyboard Source = "keyboard"
	SourceTouch    Source = "touch"
	SourceGyro     Source = "gyro"
	SourceRemote   Source = "remote"
	SourceStore    Source = "store"
)

// Command is one partial update emitted by a producer.
type Command struct {
	Source Source
	Update Update
}

// Sink accepts control commands.
type Sink interface {
	Submit(cmd Command) State
}

// Reducer folds commands into the authoritative State in arrival order.
type Reducer struct {
	mu      sync.Mutex
	state   State
	applied uint64
	bySrc   map[Source]uint64
}

// NewReducer returns a reducer holding the neutral state.
func NewReducer() *Reducer {
	return &Reducer{bySrc: make(map[Source]uint64)}
}

// Submit applies cmd atomically and returns the resulting state.
func (r *Reducer) Submit(cmd Command) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = r.state.Apply(cmd.Update)
	r.applied++
	r.bySrc[cmd.Source]++
	return r.state
}

// Snapshot returns a copy of the current state.
func (r *Reducer) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Applied returns how many commands each source has submitted.
func (r *Reducer) Applied() map[Source]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[Source]uint64, len(r.bySrc))
	for src, n := range r.bySrc {
		counts[src] = n
	}
	return counts
}
