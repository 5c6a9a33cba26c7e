package input

import (
	"math"
	"testing"
	"time"

	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/logging"
)

func TestValidatorAcceptsControllerFrames(t *testing.T) {
	validator := NewValidator(DefaultConstraints, logging.NewTestLogger())
	frames := []controls.RemoteMessage{
		{Type: controls.MessageJoystick, ID: controls.StickMove, X: 0.3, Y: -1},
		{Type: controls.MessageJoystick, ID: controls.StickLook, Y: 1.02},
		{Type: controls.MessageButton, Action: controls.ActionFlip, Pressed: true},
		{Type: controls.MessageFlip, Axis: controls.AxisZ, Dir: -1},
		{Type: controls.MessageHandshake, Name: "phone"},
		{Type: controls.MessageControls},
	}
	for _, frame := range frames {
		if decision := validator.Validate("client-A", frame); !decision.Accepted {
			t.Fatalf("frame %+v rejected: %+v", frame, decision)
		}
	}
	if validator.Metrics() != nil {
		t.Fatal("valid frames must not record violations")
	}
}

func TestValidatorRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name  string
		frame controls.RemoteMessage
		want  ValidationReason
	}{
		{"type", controls.RemoteMessage{Type: "teleport"}, ValidationReasonType},
		{"stick", controls.RemoteMessage{Type: controls.MessageJoystick, ID: "aux"}, ValidationReasonJoystickID},
		{"range", controls.RemoteMessage{Type: controls.MessageJoystick, ID: controls.StickMove, X: 3}, ValidationReasonAxisRange},
		{"nan", controls.RemoteMessage{Type: controls.MessageJoystick, ID: controls.StickMove, Y: math.NaN()}, ValidationReasonAxisRange},
		{"button", controls.RemoteMessage{Type: controls.MessageButton, Action: "fire"}, ValidationReasonButtonAction},
		{"flip", controls.RemoteMessage{Type: controls.MessageFlip, Axis: "y", Dir: 1}, ValidationReasonFlip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator := NewValidator(DefaultConstraints, logging.NewTestLogger())
			decision := validator.Validate("client-A", tc.frame)
			if decision.Accepted || decision.Reason != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, decision)
			}
			if validator.Metrics()["client-A"].Violations[tc.want] != 1 {
				t.Fatalf("violation not counted: %+v", validator.Metrics())
			}
		})
	}
}

func TestValidatorCooldownAndDisconnect(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(0)}
	cfg := Constraints{InvalidBurstLimit: 2, InvalidBurstWindow: time.Second, CooldownDuration: 100 * time.Millisecond, MaxCooldownStrikes: 2}
	validator := NewValidator(cfg, logging.NewTestLogger(), WithValidatorClock(clock))
	bad := controls.RemoteMessage{Type: "bogus"}
	good := controls.RemoteMessage{Type: controls.MessageButton, Action: controls.ActionBoost}

	if d := validator.Validate("c", bad); !d.Warn || d.Cooldown != 0 {
		t.Fatalf("expected a warning before the cooldown, got %+v", d)
	}
	if d := validator.Validate("c", bad); d.Cooldown != cfg.CooldownDuration || d.Disconnect {
		t.Fatalf("expected the first cooldown, got %+v", d)
	}
	if d := validator.Validate("c", good); d.Accepted || d.Reason != ValidationReasonCooldownActive {
		t.Fatalf("expected cooldown to block valid frames, got %+v", d)
	}

	clock.Advance(200 * time.Millisecond)
	if d := validator.Validate("c", good); !d.Accepted {
		t.Fatalf("expected acceptance after cooldown, got %+v", d)
	}
	validator.Validate("c", bad)
	if d := validator.Validate("c", bad); !d.Disconnect {
		t.Fatalf("expected disconnect after the second strike, got %+v", d)
	}
	counters := validator.Metrics()["c"]
	if counters.Cooldowns != 2 || counters.Disconnects != 1 {
		t.Fatalf("unexpected counters %+v", counters)
	}

	validator.Forget("c")
	if validator.Metrics() != nil {
		t.Fatal("Forget should drop the client")
	}
}
