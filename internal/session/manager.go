package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dronerace/broker/internal/config"
	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/physics"
	"dronerace/broker/internal/simulation"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity reports that the manager already hosts its maximum number of sessions.
	ErrCapacity = errors.New("session capacity reached")
)

// RecorderFactory opens the recorder of a new session.
type RecorderFactory func(sessionID string) (Recorder, error)

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger handed to every session.
func WithManagerLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.log = logger
		}
	}
}

// WithTickRate sets how many steps per second the manager runs.
func WithTickRate(hz float64) ManagerOption {
	return func(m *Manager) {
		if hz > 0 {
			m.hz = hz
		}
	}
}

// WithRecorderFactory records every new session.
func WithRecorderFactory(factory RecorderFactory) ManagerOption {
	return func(m *Manager) {
		m.recorders = factory
	}
}

// WithDefaultEnergyPolicy applies policy to every new session.
func WithDefaultEnergyPolicy(policy config.EnergyPolicy) ManagerOption {
	return func(m *Manager) {
		if policy != "" {
			m.policy = policy
		}
	}
}

// WithMaxSessions caps concurrent sessions. Zero means unlimited.
func WithMaxSessions(limit int) ManagerOption {
	return func(m *Manager) {
		if limit >= 0 {
			m.limit = limit
		}
	}
}

// WithIDGenerator replaces the uuid generator, mainly for tests.
func WithIDGenerator(next func() string) ManagerOption {
	return func(m *Manager) {
		if next != nil {
			m.nextID = next
		}
	}
}

// Manager owns the live sessions and steps them from one fixed-rate loop.
type Manager struct {
	log       *logging.Logger
	ground    physics.Ground
	hz        float64
	policy    config.EnergyPolicy
	limit     int
	recorders RecorderFactory
	nextID    func() string
	monitor   *simulation.TickMonitor

	mu       sync.RWMutex
	sessions map[string]*Session
	loop     *simulation.Loop
	created  uint64
}

// NewManager creates a manager whose sessions fly over ground.
func NewManager(ground physics.Ground, opts ...ManagerOption) *Manager {
	m := &Manager{
		log:      logging.L(),
		ground:   ground,
		hz:       config.DefaultTickHz,
		policy:   config.DefaultEnergyPolicy,
		nextID:   uuid.NewString,
		monitor:  simulation.NewTickMonitor(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.monitor.SetBudget(time.Duration(float64(time.Second) / m.hz))
	return m
}

// Monitor exposes the step duration statistics.
func (m *Manager) Monitor() *simulation.TickMonitor { return m.monitor }

// TickRate returns the configured steps per second.
func (m *Manager) TickRate() float64 { return m.hz }

// Create starts a new session with a fresh id.
func (m *Manager) Create(opts ...Option) (*Session, error) {
	id := m.nextID()

	m.mu.Lock()
	if m.limit > 0 && len(m.sessions) >= m.limit {
		m.mu.Unlock()
		return nil, ErrCapacity
	}
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("duplicate session id %q", id)
	}
	m.mu.Unlock()

	//1.- Session defaults come first so per-call options may override them.
	base := []Option{WithLogger(m.log), WithEnergyPolicy(m.policy)}
	if m.recorders != nil {
		recorder, err := m.recorders(id)
		if err != nil {
			m.log.Warn("flight recorder unavailable", logging.Error(err), logging.Session(id))
		} else if recorder != nil {
			base = append(base, WithRecorder(recorder))
		}
	}
	s, err := New(id, m.ground, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.created++
	m.mu.Unlock()
	m.log.Info("session created", logging.Session(id))
	return s, nil
}

// Get looks up a session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.log.Info("session removed", logging.Session(id))
	return s.Close()
}

// IDs returns the live session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Created counts sessions created since start.
func (m *Manager) Created() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.created
}

// Snapshots returns every session snapshot ordered by id.
func (m *Manager) Snapshots() []Snapshot {
	sessions := m.ordered()
	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// SessionSnapshot returns the snapshot of one live session.
func (m *Manager) SessionSnapshot(id string) (Snapshot, bool) {
	s, ok := m.Get(id)
	if !ok || s.Closed() {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (m *Manager) ordered() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].id < sessions[j].id })
	return sessions
}

// StepAll advances every session by one step in id order.
func (m *Manager) StepAll(dt time.Duration) {
	for _, s := range m.ordered() {
		s.Step(dt)
	}
}

// Start runs the fixed-step loop until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.loop != nil && m.loop.Running() {
		m.mu.Unlock()
		return
	}
	m.loop = simulation.NewLoop(m.hz, m.StepAll, simulation.WithMonitor(m.monitor))
	loop := m.loop
	m.mu.Unlock()
	loop.Start(ctx)
}

// Running reports whether the step loop is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	loop := m.loop
	m.mu.RUnlock()
	return loop.Running()
}

// Stop halts the loop and closes every session.
func (m *Manager) Stop() error {
	m.mu.Lock()
	loop := m.loop
	m.loop = nil
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	var errs error
	for _, s := range sessions {
		errs = errors.Join(errs, s.Close())
	}
	return errs
}

// FlushRecordings flushes every recording session and returns how many were flushed.
func (m *Manager) FlushRecordings() (int, error) {
	var errs error
	flushed := 0
	for _, s := range m.ordered() {
		if !s.Recording() {
			continue
		}
		if err := s.Flush(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", s.id, err))
			continue
		}
		flushed++
	}
	return flushed, errs
}
