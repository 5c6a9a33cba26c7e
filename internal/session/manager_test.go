package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dronerace/broker/internal/logging"
	"dronerace/broker/internal/store"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s-%02d", n)
	}
}

func newTestManager(opts ...ManagerOption) *Manager {
	base := []ManagerOption{WithManagerLogger(logging.NewTestLogger()), WithIDGenerator(sequentialIDs())}
	return NewManager(nil, append(base, opts...)...)
}

func TestManagerLifecycle(t *testing.T) {
	m := newTestManager()
	first, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ids := m.IDs(); len(ids) != 2 || ids[0] != first.ID() || ids[1] != second.ID() {
		t.Fatalf("unexpected ids %v", ids)
	}
	if got, ok := m.Get(second.ID()); !ok || got != second {
		t.Fatal("Get did not return the created session")
	}
	if err := m.Remove(first.ID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !first.Closed() {
		t.Fatal("removed session should be closed")
	}
	if err := m.Remove(first.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if m.Len() != 1 || m.Created() != 2 {
		t.Fatalf("unexpected counts len=%d created=%d", m.Len(), m.Created())
	}
}

func TestManagerCapacity(t *testing.T) {
	m := newTestManager(WithMaxSessions(1))
	if _, err := m.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestStepAllAdvancesPlayingSessionsOnly(t *testing.T) {
	m := newTestManager()
	playing, _ := m.Create()
	idle, _ := m.Create()
	if err := playing.Store().SetGameScreen(store.ScreenPlaying); err != nil {
		t.Fatalf("SetGameScreen: %v", err)
	}
	m.StepAll(step)
	m.StepAll(step)
	if playing.Snapshot().Tick != 2 || idle.Snapshot().Tick != 0 {
		t.Fatalf("unexpected ticks playing=%d idle=%d", playing.Snapshot().Tick, idle.Snapshot().Tick)
	}
	snaps := m.Snapshots()
	if len(snaps) != 2 || snaps[0].ID != playing.ID() {
		t.Fatalf("snapshots not ordered by id: %+v", snaps)
	}
}

func TestManagerLoopStepsAndStopCloses(t *testing.T) {
	m := newTestManager(WithTickRate(200))
	s, _ := m.Create()
	if err := s.Store().SetGameScreen(store.ScreenPlaying); err != nil {
		t.Fatalf("SetGameScreen: %v", err)
	}
	m.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for s.Snapshot().Tick == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Snapshot().Tick == 0 {
		t.Fatal("loop never stepped the session")
	}
	if !s.Closed() || m.Len() != 0 {
		t.Fatal("Stop should close and forget every session")
	}
	if m.Monitor().Snapshot().Samples == 0 {
		t.Fatal("monitor saw no steps")
	}
}

func TestRecorderFactory(t *testing.T) {
	recorders := map[string]*fakeRecorder{}
	m := newTestManager(WithRecorderFactory(func(id string) (Recorder, error) {
		if id == "s-02" {
			return nil, errors.New("disk full")
		}
		r := &fakeRecorder{}
		recorders[id] = r
		return r, nil
	}))
	recorded, err := m.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	plain, err := m.Create()
	if err != nil {
		t.Fatalf("a failing recorder must not block the session: %v", err)
	}
	if !recorded.Recording() || plain.Recording() {
		t.Fatalf("unexpected recording flags %v %v", recorded.Recording(), plain.Recording())
	}
	flushed, err := m.FlushRecordings()
	if err != nil || flushed != 1 || recorders["s-01"].flushes != 1 {
		t.Fatalf("FlushRecordings flushed=%d err=%v", flushed, err)
	}
}
