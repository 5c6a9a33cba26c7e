// Package session wires the terrain, drone, physics world, course and game store of
// one race into a steppable unit, and manages the set of live sessions.
package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"dronerace/broker/internal/config"
	"dronerace/broker/internal/course"
	"dronerace/broker/internal/drone"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/physics"
	"dronerace/broker/internal/replay"
	"dronerace/broker/internal/store"
	"dronerace/broker/internal/terrain"

	"github.com/go-gl/mathgl/mgl64"
)

// Recorded event types.
const (
	EventFlip   = "flip"
	EventStatus = "status"
	EventReset  = "reset"
	EventLevel  = "level"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Recorder persists a flight. *replay.Writer satisfies it.
type Recorder interface {
	AppendEvent(tick uint64, simulatedMs int64, eventType string, payload []byte) error
	AppendPose(tick uint64, simulatedMs int64, pose replay.Pose) error
	SetHeaderMetadata(level, totalGates int, terrain replay.TerrainParameters)
	Flush() error
	Close() error
}

// Option customises a Session.
type Option func(*Session)

// WithLogger attaches a logger; the session adds its id to every entry.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithRecorder records every step of the session.
func WithRecorder(recorder Recorder) Option {
	return func(s *Session) {
		s.recorder = recorder
	}
}

// WithEnergyPolicy decides what an empty energy bar does.
func WithEnergyPolicy(policy config.EnergyPolicy) Option {
	return func(s *Session) {
		if policy != "" {
			s.policy = policy
		}
	}
}

// WithLevel selects the starting level.
func WithLevel(level int) Option {
	return func(s *Session) {
		if level >= 1 {
			s.startLevel = level
		}
	}
}

// Session is one race: a drone flying a course over a terrain field.
type Session struct {
	id       string
	log      *logging.Logger
	policy   config.EnergyPolicy
	recorder Recorder

	mu         sync.Mutex
	ground     physics.Ground
	store      *store.Store
	body       *physics.SphereBody
	world      *physics.World
	drone      *drone.Controller
	course     *course.Course
	startLevel int
	tick       uint64
	elapsed    time.Duration
	lastStatus store.Status
	lastFlips  uint64
	closed     bool
}

// New builds a session over ground. The drone starts at the spawn point and the course of
// the starting level is registered with the physics world.
func New(id string, ground physics.Ground, opts ...Option) (*Session, error) {
	s := &Session{
		id:         id,
		log:        logging.L(),
		policy:     config.DefaultEnergyPolicy,
		ground:     ground,
		store:      store.New(),
		startLevel: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(logging.Session(id))

	//1.- The drone body flies without gravity; the controller owns its velocity.
	s.body = physics.NewSphereBody(drone.Tag, drone.Spawn, drone.BodyRadius)
	s.world = physics.NewWorld(ground)
	s.world.AddBody(s.body)
	s.drone = drone.NewController(s.body)

	//2.- Lay out the first course and declare its gate count to the store.
	if err := s.store.SetLevel(s.startLevel); err != nil {
		return nil, err
	}
	if err := s.buildCourseLocked(s.startLevel); err != nil {
		return nil, err
	}
	s.lastStatus = s.store.Snapshot().Status
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Store exposes the game store producers write controls into.
func (s *Session) Store() *store.Store { return s.store }

func (s *Session) buildCourseLocked(level int) error {
	s.world.ClearTriggers()
	s.course = course.New(level)
	if err := s.course.Register(s.world); err != nil {
		return err
	}
	s.store.SetTotalGates(s.course.TotalGates())
	if s.recorder != nil {
		s.recorder.SetHeaderMetadata(level, s.course.TotalGates(), replay.TerrainParameters(terrain.Parameters()))
	}
	return nil
}

// Step advances the session by one fixed step. The drone only flies while the playing
// screen is shown; gates and pickups only score while the run is playing.
func (s *Session) Step(dt time.Duration) {
	if dt <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.store.Snapshot().Screen != store.ScreenPlaying {
		return
	}
	seconds := dt.Seconds()
	s.tick++
	s.elapsed += dt

	//1.- Read the merged controls once and fly the drone, consuming any pending flip.
	input := s.store.Controls().Snapshot()
	s.drone.Step(seconds, input, s.store.Flips())
	if started := s.drone.FlipsStarted(); started != s.lastFlips {
		s.lastFlips = started
		if flip := s.drone.State().Flip; flip != nil {
			s.record(EventFlip, map[string]interface{}{"axis": flip.Axis, "dir": flip.Direction})
		}
	}

	//2.- Integrate the body and collect trigger contacts.
	contacts := s.world.Step(seconds)

	//3.- Score the course while the run is live.
	if s.store.Snapshot().Status == store.StatusPlaying {
		for _, event := range s.course.Process(contacts, s.store) {
			s.record(string(event.Kind), event)
		}
	}

	//4.- Apply the energy policy before sampling the final state.
	snap := s.store.Snapshot()
	if s.policy == config.EnergyPolicyGameOver && snap.Status == store.StatusPlaying && snap.Energy <= 0 {
		if err := s.store.SetGameStatus(store.StatusGameOver); err != nil {
			s.log.Warn("energy policy transition failed", logging.Error(err))
		}
		snap = s.store.Snapshot()
	}
	if snap.Status != s.lastStatus {
		s.log.Info("game status changed",
			logging.Tick(s.tick),
			logging.String("from", string(s.lastStatus)),
			logging.String("to", string(snap.Status)),
			logging.Int("score", snap.Score),
		)
		s.lastStatus = snap.Status
		s.record(EventStatus, map[string]interface{}{"status": snap.Status, "score": snap.Score, "gatesPassed": snap.GatesPassed})
	}

	//5.- Sample the pose for the flight recording.
	if s.recorder != nil {
		if err := s.recorder.AppendPose(s.tick, s.elapsed.Milliseconds(), s.poseLocked(snap)); err != nil {
			s.log.Warn("flight frame dropped", logging.Error(err), logging.Tick(s.tick))
		}
	}
}

func (s *Session) poseLocked(snap store.Snapshot) replay.Pose {
	state := s.drone.State()
	q := state.Orientation
	return replay.Pose{
		Position:    state.Position,
		Velocity:    state.Velocity,
		Orientation: [4]float64{q.W, q.V[0], q.V[1], q.V[2]},
		Energy:      snap.Energy,
		Score:       snap.Score,
		GatesPassed: snap.GatesPassed,
		Flipping:    state.Mode == drone.Flipping,
	}
}

func (s *Session) record(eventType string, payload interface{}) {
	if s.recorder == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("flight event encode failed", logging.Error(err), logging.String("type", eventType))
		return
	}
	if err := s.recorder.AppendEvent(s.tick, s.elapsed.Milliseconds(), eventType, data); err != nil {
		s.log.Warn("flight event dropped", logging.Error(err), logging.String("type", eventType), logging.Tick(s.tick))
	}
}

// Reset starts a fresh run: store defaults, spawn pose and a freshly laid out course.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.resetLocked()
}

func (s *Session) resetLocked() error {
	s.store.ResetGame()
	s.drone.Reset()
	if err := s.buildCourseLocked(s.store.Snapshot().Level); err != nil {
		return err
	}
	s.lastStatus = store.StatusPlaying
	s.lastFlips = s.drone.FlipsStarted()
	s.record(EventReset, map[string]interface{}{"level": s.store.Snapshot().Level})
	return nil
}

// SelectLevel switches to level n and restarts the run on its course.
func (s *Session) SelectLevel(level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.store.SetLevel(level); err != nil {
		return err
	}
	s.record(EventLevel, map[string]interface{}{"level": level})
	return s.resetLocked()
}

// Flush pushes buffered recording frames to disk.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorder == nil || s.closed {
		return nil
	}
	return s.recorder.Flush()
}

// Close stops the session and finalises its recording. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Close()
}

// Closed reports whether Close ran.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Recording reports whether the session writes a flight recording.
func (s *Session) Recording() bool { return s.recorder != nil }

// Camera is the chase camera in a snapshot.
type Camera struct {
	Position mgl64.Vec3 `json:"position"`
	LookAt   mgl64.Vec3 `json:"lookAt"`
}

// FlipView is an in-progress flip in a snapshot.
type FlipView struct {
	Axis      string  `json:"axis"`
	Direction float64 `json:"dir"`
	Progress  float64 `json:"progress"`
}

// Snapshot is the presentation read model of a session.
type Snapshot struct {
	ID          string         `json:"id"`
	Tick        uint64         `json:"tick"`
	ElapsedMs   int64          `json:"elapsedMs"`
	Mode        string         `json:"mode"`
	Flip        *FlipView      `json:"flip,omitempty"`
	Position    mgl64.Vec3     `json:"position"`
	Velocity    mgl64.Vec3     `json:"velocity"`
	Orientation [4]float64     `json:"orientation"`
	Yaw         float64        `json:"yaw"`
	Pitch       float64        `json:"pitch"`
	Roll        float64        `json:"roll"`
	VisualX     float64        `json:"visualX"`
	VisualZ     float64        `json:"visualZ"`
	Camera      Camera         `json:"camera"`
	Grounded    bool           `json:"grounded"`
	NextGate    int            `json:"nextGate"`
	Store       store.Snapshot `json:"store"`
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.drone.State()
	q := state.Orientation
	snap := Snapshot{
		ID:          s.id,
		Tick:        s.tick,
		ElapsedMs:   s.elapsed.Milliseconds(),
		Mode:        state.Mode.String(),
		Position:    state.Position,
		Velocity:    state.Velocity,
		Orientation: [4]float64{q.W, q.V[0], q.V[1], q.V[2]},
		Yaw:         state.Yaw,
		Pitch:       state.Pitch,
		Roll:        state.Roll,
		VisualX:     state.VisualX,
		VisualZ:     state.VisualZ,
		Camera:      Camera{Position: state.Camera.Position, LookAt: state.Camera.LookAt},
		Grounded:    s.world.Grounded(drone.Tag),
		NextGate:    -1,
		Store:       s.store.Snapshot(),
	}
	if state.Flip != nil {
		snap.Flip = &FlipView{Axis: string(state.Flip.Axis), Direction: state.Flip.Direction, Progress: state.Flip.Progress}
	}
	if gate, ok := s.course.NextGate(); ok {
		snap.NextGate = gate.Index
	}
	return snap
}
