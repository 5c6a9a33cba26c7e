package input

import (
	"math"
	"sync"
	"time"

	"dronerace/broker/internal/controls"
	"dronerace/broker/internal/logging"
)

// ValidationReason identifies why a controller frame was rejected.
type ValidationReason string

const (
	ValidationReasonNone           ValidationReason = ""
	ValidationReasonType           ValidationReason = "unknown_type"
	ValidationReasonJoystickID     ValidationReason = "joystick_id"
	ValidationReasonAxisRange      ValidationReason = "axis_range"
	ValidationReasonButtonAction   ValidationReason = "button_action"
	ValidationReasonFlip           ValidationReason = "flip"
	ValidationReasonCooldownActive ValidationReason = "cooldown_active"
)

// Constraints configures the axis limit and the cooldown policy of the validator.
type Constraints struct {
	// AxisLimit bounds joystick axes; a small margin over 1 absorbs device rounding.
	AxisLimit          float64
	InvalidBurstLimit  int
	InvalidBurstWindow time.Duration
	CooldownDuration   time.Duration
	MaxCooldownStrikes int
}

// DefaultConstraints is the baseline for phone controllers.
var DefaultConstraints = Constraints{
	AxisLimit:          1.05,
	InvalidBurstLimit:  5,
	InvalidBurstWindow: time.Second,
	CooldownDuration:   500 * time.Millisecond,
	MaxCooldownStrikes: 3,
}

// ValidationDecision summarises the result of a Validate call.
type ValidationDecision struct {
	Accepted   bool
	Reason     ValidationReason
	Warn       bool
	Disconnect bool
	Cooldown   time.Duration
}

// ValidationCounters aggregates per-client violation statistics.
type ValidationCounters struct {
	Violations  map[ValidationReason]uint64 `json:"violations,omitempty"`
	Cooldowns   uint64                      `json:"cooldowns"`
	Disconnects uint64                      `json:"disconnects"`
}

// ValidatorOption customises validator construction.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the clock used to determine cooldown windows.
func WithValidatorClock(clock Clock) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

type validatorClientState struct {
	firstInvalid  time.Time
	invalidCount  int
	cooldownUntil time.Time
	strikes       int
}

// Validator rejects malformed controller frames and puts clients that keep sending
// them into a cooldown, asking for a disconnect after repeated cooldowns.
type Validator struct {
	mu      sync.Mutex
	cfg     Constraints
	clock   Clock
	logger  *logging.Logger
	clients map[string]*validatorClientState
	metrics map[string]ValidationCounters
}

// NewValidator builds a validator; zero fields take the defaults.
func NewValidator(cfg Constraints, logger *logging.Logger, opts ...ValidatorOption) *Validator {
	if cfg.AxisLimit <= 0 {
		cfg.AxisLimit = DefaultConstraints.AxisLimit
	}
	if cfg.InvalidBurstLimit <= 0 {
		cfg.InvalidBurstLimit = DefaultConstraints.InvalidBurstLimit
	}
	if cfg.InvalidBurstWindow <= 0 {
		cfg.InvalidBurstWindow = DefaultConstraints.InvalidBurstWindow
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = DefaultConstraints.CooldownDuration
	}
	if cfg.MaxCooldownStrikes <= 0 {
		cfg.MaxCooldownStrikes = DefaultConstraints.MaxCooldownStrikes
	}
	if logger == nil {
		logger = logging.L()
	}
	v := &Validator{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*validatorClientState),
		metrics: make(map[string]ValidationCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate checks msg and records a violation when it is malformed.
func (v *Validator) Validate(clientID string, msg controls.RemoteMessage) ValidationDecision {
	if v == nil {
		return ValidationDecision{Accepted: true}
	}
	now := v.clock.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	state := v.clients[clientID]
	if state == nil {
		state = &validatorClientState{}
		v.clients[clientID] = state
	}

	if !state.cooldownUntil.IsZero() && now.Before(state.cooldownUntil) {
		return ValidationDecision{Accepted: false, Reason: ValidationReasonCooldownActive, Cooldown: state.cooldownUntil.Sub(now)}
	}
	if reason := v.check(msg); reason != ValidationReasonNone {
		return v.registerViolationLocked(clientID, state, now, reason)
	}
	//1.- A valid frame ends the current burst.
	state.invalidCount = 0
	state.firstInvalid = time.Time{}
	return ValidationDecision{Accepted: true}
}

func (v *Validator) check(msg controls.RemoteMessage) ValidationReason {
	switch msg.Type {
	case controls.MessageJoystick:
		if msg.ID != controls.StickMove && msg.ID != controls.StickLook {
			return ValidationReasonJoystickID
		}
		if !v.inRange(msg.X) || !v.inRange(msg.Y) {
			return ValidationReasonAxisRange
		}
	case controls.MessageButton:
		if msg.Action != controls.ActionBoost && msg.Action != controls.ActionFlip {
			return ValidationReasonButtonAction
		}
	case controls.MessageFlip:
		req := controls.FlipRequest{Axis: msg.Axis, Direction: msg.Dir}
		if msg.Flip != nil {
			req = *msg.Flip
		}
		if req.Validate() != nil {
			return ValidationReasonFlip
		}
	case controls.MessageHandshake, controls.MessageControls:
	default:
		return ValidationReasonType
	}
	return ValidationReasonNone
}

func (v *Validator) inRange(value float64) bool {
	return !math.IsNaN(value) && math.Abs(value) <= v.cfg.AxisLimit
}

func (v *Validator) registerViolationLocked(clientID string, state *validatorClientState, now time.Time, reason ValidationReason) ValidationDecision {
	counters := v.metrics[clientID]
	if counters.Violations == nil {
		counters.Violations = make(map[ValidationReason]uint64)
	}
	counters.Violations[reason]++

	decision := ValidationDecision{Accepted: false, Reason: reason}

	//1.- Count violations inside the burst window.
	if state.invalidCount == 0 || now.Sub(state.firstInvalid) > v.cfg.InvalidBurstWindow {
		state.firstInvalid = now
		state.invalidCount = 1
	} else {
		state.invalidCount++
	}
	decision.Warn = v.cfg.InvalidBurstLimit-state.invalidCount == 1

	//2.- A full burst starts a cooldown; too many cooldowns ask for a disconnect.
	if state.invalidCount >= v.cfg.InvalidBurstLimit {
		state.cooldownUntil = now.Add(v.cfg.CooldownDuration)
		state.invalidCount = 0
		state.firstInvalid = time.Time{}
		state.strikes++
		counters.Cooldowns++
		if state.strikes >= v.cfg.MaxCooldownStrikes {
			decision.Disconnect = true
			counters.Disconnects++
		}
		decision.Cooldown = v.cfg.CooldownDuration
		v.logger.Debug("controller validator cooldown",
			logging.Client(clientID),
			logging.String("reason", string(reason)),
			logging.Duration("cooldown", v.cfg.CooldownDuration),
		)
	}
	v.metrics[clientID] = counters
	return decision
}

// Forget clears all state for clientID.
func (v *Validator) Forget(clientID string) {
	if v == nil || clientID == "" {
		return
	}
	v.mu.Lock()
	delete(v.clients, clientID)
	delete(v.metrics, clientID)
	v.mu.Unlock()
}

// Metrics returns a copy of the per-client counters.
func (v *Validator) Metrics() map[string]ValidationCounters {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.metrics) == 0 {
		return nil
	}
	snapshot := make(map[string]ValidationCounters, len(v.metrics))
	for key, counters := range v.metrics {
		clone := ValidationCounters{Cooldowns: counters.Cooldowns, Disconnects: counters.Disconnects}
		if len(counters.Violations) > 0 {
			clone.Violations = make(map[ValidationReason]uint64, len(counters.Violations))
			for reason, count := range counters.Violations {
				clone.Violations[reason] = count
			}
		}
		snapshot[key] = clone
	}
	return snapshot
}
