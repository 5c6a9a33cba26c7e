// Package store holds the game state of one session: score, energy, gate progress,
// status and the control inputs feeding the drone.
package store

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"dronerace/broker/internal/controls"
)

const (
	// GateReward is added for every gate passed.
	GateReward = 500
	// WinBonus is added when the last gate is passed.
	WinBonus = 5000
	// MaxEnergy is the full energy bar.
	MaxEnergy = 100.0
)

// Status is the lifecycle of a run.
type Status string

const (
	StatusPlaying  Status = "playing"
	StatusGameOver Status = "gameover"
	StatusWon      Status = "won"
)

// Screen is the presentation screen the game client should show.
type Screen string

const (
	ScreenIntro       Screen = "intro"
	ScreenLevelSelect Screen = "levelSelect"
	ScreenPlaying     Screen = "playing"
)

var (
	// ErrInvalidTransition reports a status change other than playing to gameover or won.
	ErrInvalidTransition = errors.New("invalid game status transition")
	// ErrUnknownScreen reports a screen name the game does not have.
	ErrUnknownScreen = errors.New("unknown game screen")
	// ErrInvalidLevel reports a level below one.
	ErrInvalidLevel = errors.New("level must be at least 1")
)

// ParseScreen validates a screen name.
func ParseScreen(raw string) (Screen, error) {
	switch screen := Screen(raw); screen {
	case ScreenIntro, ScreenLevelSelect, ScreenPlaying:
		return screen, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScreen, raw)
	}
}

// Snapshot is a consistent copy of the store.
type Snapshot struct {
	Score       int            `json:"score"`
	Energy      float64        `json:"energy"`
	Status      Status         `json:"gameStatus"`
	Screen      Screen         `json:"gameScreen"`
	Level       int            `json:"level"`
	GatesPassed int            `json:"gatesPassed"`
	TotalGates  int            `json:"totalGates"`
	GyroEnabled bool           `json:"gyroEnabled"`
	PendingFlip bool           `json:"pendingFlip"`
	Controls    controls.State `json:"controls"`
}

// Store is the game state of one session. All methods are safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	score       int
	energy      float64
	status      Status
	screen      Screen
	level       int
	gatesPassed int
	totalGates  int
	gyro        bool

	reducer *controls.Reducer
	flips   *controls.FlipSlot

	subMu       sync.Mutex
	subscribers map[int]func(Snapshot)
	nextSub     int
}

// New returns a store on the intro screen with a full energy bar.
func New() *Store {
	return &Store{
		energy:      MaxEnergy,
		status:      StatusPlaying,
		screen:      ScreenIntro,
		level:       1,
		reducer:     controls.NewReducer(),
		flips:       controls.NewFlipSlot(),
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Controls returns the reducer producers submit into.
func (s *Store) Controls() *controls.Reducer { return s.reducer }

// Flips returns the pending flip slot.
func (s *Store) Flips() *controls.FlipSlot { return s.flips }

// Subscribe registers fn for change notifications and returns its cancel function.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	if len(s.subscribers) == 0 {
		s.subMu.Unlock()
		return
	}
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subscribers[id])
	}
	s.subMu.Unlock()

	snapshot := s.Snapshot()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// mutate runs fn under the lock and notifies subscribers when it reports a change.
func (s *Store) mutate(fn func() bool) {
	s.mu.Lock()
	changed := fn()
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Snapshot returns a consistent copy of the state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	snapshot := Snapshot{
		Score:       s.score,
		Energy:      s.energy,
		Status:      s.status,
		Screen:      s.screen,
		Level:       s.level,
		GatesPassed: s.gatesPassed,
		TotalGates:  s.totalGates,
		GyroEnabled: s.gyro,
	}
	s.mu.Unlock()
	snapshot.PendingFlip = s.flips.Pending()
	snapshot.Controls = s.reducer.Snapshot()
	return snapshot
}

// SetGameScreen switches the presentation screen.
func (s *Store) SetGameScreen(screen Screen) error {
	if _, err := ParseScreen(string(screen)); err != nil {
		return err
	}
	s.mutate(func() bool {
		changed := s.screen != screen
		s.screen = screen
		return changed
	})
	return nil
}

// SetLevel selects the level to play next.
func (s *Store) SetLevel(level int) error {
	if level < 1 {
		return ErrInvalidLevel
	}
	s.mutate(func() bool {
		changed := s.level != level
		s.level = level
		return changed
	})
	return nil
}

// SetTotalGates declares the gate count of the running course and restarts gate progress.
func (s *Store) SetTotalGates(count int) {
	if count < 0 {
		count = 0
	}
	s.mutate(func() bool {
		s.totalGates = count
		s.gatesPassed = 0
		return true
	})
}

// PassGate records a gate passage while playing. Reaching the last gate adds the win
// bonus and ends the run as won.
func (s *Store) PassGate() {
	s.mutate(func() bool {
		if s.status != StatusPlaying {
			return false
		}
		if s.totalGates > 0 && s.gatesPassed >= s.totalGates {
			return false
		}
		s.gatesPassed++
		s.score += GateReward
		if s.totalGates > 0 && s.gatesPassed == s.totalGates {
			s.score += WinBonus
			s.status = StatusWon
		}
		return true
	})
}

// AddScore adds points. The score never drops below zero.
func (s *Store) AddScore(points int) {
	s.mutate(func() bool {
		next := s.score + points
		if next < 0 {
			next = 0
		}
		changed := next != s.score
		s.score = next
		return changed
	})
}

// UseEnergy spends amount, clamped into [0, MaxEnergy].
func (s *Store) UseEnergy(amount float64) {
	s.adjustEnergy(-amount)
}

// AddEnergy restores amount, clamped into [0, MaxEnergy].
func (s *Store) AddEnergy(amount float64) {
	s.adjustEnergy(amount)
}

func (s *Store) adjustEnergy(delta float64) {
	if math.IsNaN(delta) {
		return
	}
	s.mutate(func() bool {
		next := s.energy + delta
		if next < 0 {
			next = 0
		}
		if next > MaxEnergy {
			next = MaxEnergy
		}
		changed := next != s.energy
		s.energy = next
		return changed
	})
}

// SetGameStatus moves a playing run to gameover or won. Leaving a terminal status is
// only possible through ResetGame.
func (s *Store) SetGameStatus(status Status) error {
	var err error
	s.mutate(func() bool {
		if status == s.status {
			return false
		}
		if s.status != StatusPlaying || (status != StatusGameOver && status != StatusWon) {
			err = fmt.Errorf("%w: %s to %s", ErrInvalidTransition, s.status, status)
			return false
		}
		s.status = status
		return true
	})
	return err
}

// ResetGame starts a fresh run on the same course.
func (s *Store) ResetGame() {
	s.flips.Clear()
	s.mutate(func() bool {
		s.score = 0
		s.energy = MaxEnergy
		s.status = StatusPlaying
		s.gatesPassed = 0
		return true
	})
}

// TriggerFlip queues a flip for the next controller step.
func (s *Store) TriggerFlip(axis controls.Axis, direction int) error {
	req := controls.FlipRequest{Axis: axis, Direction: direction}
	if err := req.Validate(); err != nil {
		return err
	}
	s.flips.Trigger(req)
	s.notify()
	return nil
}

// ClearFlip drops a pending flip.
func (s *Store) ClearFlip() {
	s.flips.Clear()
}

// SetControls merges a partial control update.
func (s *Store) SetControls(update controls.Update) controls.State {
	state := s.reducer.Submit(controls.Command{Source: controls.SourceStore, Update: update})
	return state
}

// SetGyroEnabled records whether tilt steering is on.
func (s *Store) SetGyroEnabled(enabled bool) {
	s.mutate(func() bool {
		changed := s.gyro != enabled
		s.gyro = enabled
		return changed
	})
}
