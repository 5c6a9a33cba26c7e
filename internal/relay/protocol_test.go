package relay

import (
	"errors"
	"testing"

	"dronerace/broker/internal/controls"
)

func TestDecodeRegistration(t *testing.T) {
	reg, err := DecodeRegistration([]byte(`{"type":"register","role":" Controller ","session":" s-1 ","token":"abc"}`))
	if err != nil {
		t.Fatalf("DecodeRegistration: %v", err)
	}
	if reg.Role != RoleController || reg.Session != "s-1" || reg.Token != "abc" {
		t.Fatalf("unexpected registration %+v", reg)
	}
	if _, err := DecodeRegistration([]byte(`{"type":"register","role":"viewer"}`)); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if _, err := DecodeRegistration([]byte(`{"type":"key"}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
}

func TestDecodeRejectsUntypedFrames(t *testing.T) {
	for _, raw := range []string{`[]`, `{}`, `{"type":"  "}`, `not json`} {
		if _, err := DecodeGame([]byte(raw)); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("%s: expected ErrMalformedMessage, got %v", raw, err)
		}
		if _, err := DecodeController([]byte(raw)); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("%s: expected ErrMalformedMessage, got %v", raw, err)
		}
	}
}

func TestDecodeControllerFrame(t *testing.T) {
	msg, err := DecodeController([]byte(`{"type":"joystick","id":"move","x":-0.8,"y":0.1,"seq":7,"sentAt":1700000000000}`))
	if err != nil {
		t.Fatalf("DecodeController: %v", err)
	}
	if msg.Type != controls.MessageJoystick || msg.X != -0.8 || msg.Seq != 7 || msg.SentAt != 1700000000000 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !msg.Droppable() {
		t.Fatal("deflected joystick frames are droppable")
	}
}
