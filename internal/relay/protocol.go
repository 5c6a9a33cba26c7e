package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dronerace/broker/internal/controls"
)

// Role distinguishes the two kinds of relay connection.
type Role string

const (
	RoleGame       Role = "game"
	RoleController Role = "controller"
)

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleGame, RoleController:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// Outbound event names.
const (
	EventRegistered             = "registered"
	EventControllerConnected    = "controller-connected"
	EventControllerDisconnected = "controller-disconnected"
	EventGameConnected          = "game-connected"
	EventControls               = "controls"
	EventFlip                   = "flip"
	EventState                  = "state"
	EventStore                  = "store"
	EventError                  = "error"
)

// Inbound game client message types. Controllers speak controls.RemoteMessage.
const (
	MessageRegister   = "register"
	MessageKey        = "key"
	MessageTouch      = "touch"
	MessageGyro       = "gyro"
	MessageGyroEnable = "gyro-enable"
	MessageReset      = "reset"
	MessageScreen     = "screen"
	MessageLevel      = "level"
)

// Touch sticks understood from the game client.
const (
	TouchMove     = "move"
	TouchAltitude = "altitude"
	TouchRelease  = "release"
)

var (
	// ErrUnknownRole reports a registration with an unsupported role.
	ErrUnknownRole = errors.New("unknown relay role")
	// ErrMalformedMessage reports a frame that is not a JSON object with a type.
	ErrMalformedMessage = errors.New("malformed relay message")
)

// Registration identifies a connection. It arrives as query parameters or as the
// first message of a connection opened without a role.
type Registration struct {
	Type    string `json:"type,omitempty"`
	Role    Role   `json:"role"`
	Session string `json:"session,omitempty"`
	Token   string `json:"token,omitempty"`
}

// GameMessage is one decoded game client frame.
type GameMessage struct {
	Type    string  `json:"type"`
	Key     string  `json:"key,omitempty"`
	Down    bool    `json:"down,omitempty"`
	Repeat  bool    `json:"repeat,omitempty"`
	Stick   string  `json:"stick,omitempty"`
	X       float64 `json:"x,omitempty"`
	Y       float64 `json:"y,omitempty"`
	Beta    float64 `json:"beta,omitempty"`
	Gamma   float64 `json:"gamma,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
	Screen  string  `json:"screen,omitempty"`
	Level   int     `json:"level,omitempty"`
}

// Event is the envelope of every outbound message.
type Event struct {
	Type                string          `json:"type"`
	Role                Role            `json:"role,omitempty"`
	Session             string          `json:"session,omitempty"`
	ClientID            string          `json:"clientId,omitempty"`
	ControllerConnected *bool           `json:"controllerConnected,omitempty"`
	GameConnected       *bool           `json:"gameConnected,omitempty"`
	Controls            *controls.State `json:"controls,omitempty"`
	Axis                controls.Axis   `json:"axis,omitempty"`
	Dir                 int             `json:"dir,omitempty"`
	Name                string          `json:"name,omitempty"`
	Message             string          `json:"message,omitempty"`
	Data                any             `json:"data,omitempty"`
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}

func boolPtr(v bool) *bool { return &v }

type envelope struct {
	Type string `json:"type"`
}

func peekType(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(env.Type) == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return env.Type, nil
}

// DecodeRegistration parses a register message.
func DecodeRegistration(raw []byte) (Registration, error) {
	kind, err := peekType(raw)
	if err != nil {
		return Registration{}, err
	}
	if kind != MessageRegister {
		return Registration{}, fmt.Errorf("%w: expected %q, got %q", ErrMalformedMessage, MessageRegister, kind)
	}
	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return Registration{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	role, err := ParseRole(string(reg.Role))
	if err != nil {
		return Registration{}, err
	}
	reg.Role = role
	reg.Session = strings.TrimSpace(reg.Session)
	reg.Token = strings.TrimSpace(reg.Token)
	return reg, nil
}

// DecodeGame parses a game client frame.
func DecodeGame(raw []byte) (GameMessage, error) {
	if _, err := peekType(raw); err != nil {
		return GameMessage{}, err
	}
	var msg GameMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return GameMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// DecodeController parses a controller frame.
func DecodeController(raw []byte) (controls.RemoteMessage, error) {
	if _, err := peekType(raw); err != nil {
		return controls.RemoteMessage{}, err
	}
	var msg controls.RemoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return controls.RemoteMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}
