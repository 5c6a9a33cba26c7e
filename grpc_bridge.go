package main

import (
	"context"
	"errors"

	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/relay"
	"dronerace/broker/internal/session"
	"dronerace/broker/internal/telemetry"
)

// brokerBridge exposes the session manager and relay hub to the telemetry service and
// the session read model endpoints.
type brokerBridge struct {
	manager *session.Manager
	hub     *relay.Hub
}

func newBrokerBridge(manager *session.Manager, hub *relay.Hub) *brokerBridge {
	return &brokerBridge{manager: manager, hub: hub}
}

// SessionSnapshot returns the read model of one live session.
func (b *brokerBridge) SessionSnapshot(id string) (session.Snapshot, bool) {
	if b == nil || b.manager == nil {
		return session.Snapshot{}, false
	}
	return b.manager.SessionSnapshot(id)
}

// Snapshots lists every live session.
func (b *brokerBridge) Snapshots() []session.Snapshot {
	if b == nil || b.manager == nil {
		return nil
	}
	return b.manager.Snapshots()
}

// SubmitControl reuses the WebSocket controller path so gRPC frames are validated,
// gated and echoed exactly like phone frames.
func (b *brokerBridge) SubmitControl(ctx context.Context, sessionID, clientID string, msg controls.RemoteMessage) telemetry.ControlResult {
	if b == nil || b.hub == nil {
		return telemetry.ControlResult{Err: errors.New("broker bridge is not configured")}
	}
	//1.- Respect the per-frame deadline before touching session state.
	if err := ctx.Err(); err != nil {
		return telemetry.ControlResult{Err: err}
	}
	result := b.hub.Submit(sessionID, clientID, msg)
	return telemetry.ControlResult{
		Accepted:   result.Accepted,
		Disconnect: result.Disconnect,
		Err:        result.Err,
	}
}

// ReleaseControl neutralises the remote controls a closed gRPC stream was holding.
func (b *brokerBridge) ReleaseControl(sessionID, clientID string) {
	if b == nil || b.hub == nil {
		return
	}
	b.hub.ReleaseRemote(sessionID, clientID)
}

var _ telemetry.Bridge = (*brokerBridge)(nil)
