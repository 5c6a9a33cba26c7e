package telemetry

import (
	"context"

	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/session"
)

// SnapshotSource looks up the current read model of a session.
type SnapshotSource interface {
	SessionSnapshot(sessionID string) (session.Snapshot, bool)
}

// ControlResult summarises how a pushed controller frame was handled.
type ControlResult struct {
	Accepted   bool
	Disconnect bool
	Err        error
}

// ControlSink feeds controller frames into the same pipeline WebSocket controllers use.
type ControlSink interface {
	SubmitControl(ctx context.Context, sessionID, clientID string, msg controls.RemoteMessage) ControlResult
	// ReleaseControl zeroes the remote controls of sessionID once clientID's channel closes.
	ReleaseControl(sessionID, clientID string)
}

// Bridge aggregates the dependencies required by the telemetry service.
type Bridge interface {
	SnapshotSource
	ControlSink
}
