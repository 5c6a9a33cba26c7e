// Package input guards the relay against misbehaving controller devices: a per-client
// gate for replayed, stale and flooding frames, and a validator for malformed ones.
package input

import (
	"sync"
	"time"

	"dronerace/broker/internal/logging"
)

// Clock exposes the current time for rate limiting decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls the freshness and throughput gates applied to controller frames.
type Config struct {
	MaxAge      time.Duration
	MinInterval time.Duration
}

// DropReason enumerates why a frame was rejected by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

func (r DropReason) String() string { return string(r) }

// Decision summarises whether a frame passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame is the metadata of one controller frame. SequenceID and SentAt are optional.
// Frames that are not Droppable bypass the staleness and rate checks, since losing a
// release or a button edge would leave a control stuck.
type Frame struct {
	ClientID   string
	SequenceID uint64
	SentAt     time.Time
	Droppable  bool
}

type clientState struct {
	lastSequence uint64
	lastAccepted time.Time
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

// Total sums every reason.
func (c DropCounters) Total() uint64 { return c.Sequence + c.Stale + c.RateLimited }

func (c *DropCounters) add(reason DropReason) {
	switch reason {
	case DropReasonSequence:
		c.Sequence++
	case DropReasonStale:
		c.Stale++
	case DropReasonRateLimited:
		c.RateLimited++
	}
}

// Gate validates sequencing, freshness and throughput for inbound controller frames.
type Gate struct {
	mu      sync.Mutex
	cfg     Config
	clock   Clock
	logger  *logging.Logger
	clients map[string]*clientState
	drops   map[string]DropCounters
	total   DropCounters
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for latency calculations.
func WithClock(clock Clock) Option {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate constructs a gate. Zero durations disable the matching check.
func NewGate(cfg Config, logger *logging.Logger, opts ...Option) *Gate {
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if logger == nil {
		logger = logging.L()
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*clientState),
		drops:   make(map[string]DropCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies the sequencing, freshness and throughput guards to frame.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil || frame.ClientID == "" {
		return decision
	}
	now := g.clock.Now()
	if !frame.SentAt.IsZero() {
		//1.- Measure capture-to-arrival delay; clock skew never counts as negative.
		if delay := now.Sub(frame.SentAt); delay > 0 {
			decision.Delay = delay
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.clients[frame.ClientID]
	if state == nil {
		state = &clientState{}
		g.clients[frame.ClientID] = state
	}

	//2.- Replayed or reordered sequenced frames are always dropped.
	if frame.SequenceID > 0 && state.lastSequence > 0 && frame.SequenceID <= state.lastSequence {
		return g.dropLocked(frame.ClientID, DropReasonSequence, decision.Delay)
	}
	if frame.Droppable {
		if g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge {
			return g.dropLocked(frame.ClientID, DropReasonStale, decision.Delay)
		}
		if g.cfg.MinInterval > 0 && !state.lastAccepted.IsZero() && now.Sub(state.lastAccepted) < g.cfg.MinInterval {
			return g.dropLocked(frame.ClientID, DropReasonRateLimited, decision.Delay)
		}
	}

	//3.- Promote the frame as the latest accepted one.
	if frame.SequenceID > 0 {
		state.lastSequence = frame.SequenceID
	}
	state.lastAccepted = now
	return decision
}

func (g *Gate) dropLocked(clientID string, reason DropReason, delay time.Duration) Decision {
	counters := g.drops[clientID]
	counters.add(reason)
	g.drops[clientID] = counters
	g.total.add(reason)
	g.logger.Debug("controller frame dropped",
		logging.Client(clientID),
		logging.String("reason", reason.String()),
		logging.Duration("delay", delay),
	)
	return Decision{Accepted: false, Reason: reason, Delay: delay}
}

// Forget clears cached state for a disconnected client. Totals are kept.
func (g *Gate) Forget(clientID string) {
	if g == nil || clientID == "" {
		return
	}
	g.mu.Lock()
	delete(g.clients, clientID)
	delete(g.drops, clientID)
	g.mu.Unlock()
}

// Metrics returns a copy of the per-client drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for clientID, counters := range g.drops {
		clone[clientID] = counters
	}
	return clone
}

// Totals returns the drop counters accumulated since construction.
func (g *Gate) Totals() DropCounters {
	if g == nil {
		return DropCounters{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
