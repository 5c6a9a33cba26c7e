// Package simulation drives fixed-step session updates and records how long they take.
package simulation

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxCatchUp bounds how many steps a single tick may run after a stall.
const DefaultMaxCatchUp = 5

// StepFunc advances the simulation by a fixed timestep.
type StepFunc func(step time.Duration)

// Loop drives a fixed timestep simulation at the configured target frequency.
type Loop struct {
	mu         sync.Mutex
	step       time.Duration
	stepFunc   StepFunc
	monitor    *TickMonitor
	maxCatchUp int
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithMonitor records the wall-clock cost of every step.
func WithMonitor(monitor *TickMonitor) LoopOption {
	return func(l *Loop) {
		l.monitor = monitor
	}
}

// WithMaxCatchUp caps the steps run per tick. Extra backlog is dropped.
func WithMaxCatchUp(steps int) LoopOption {
	return func(l *Loop) {
		if steps > 0 {
			l.maxCatchUp = steps
		}
	}
}

// NewLoop configures a loop that targets the provided frequency.
func NewLoop(targetHz float64, step StepFunc, opts ...LoopOption) *Loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	if step == nil {
		step = func(time.Duration) {}
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	loop := &Loop{
		step:       interval,
		stepFunc:   step,
		maxCatchUp: DefaultMaxCatchUp,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.step)
	defer ticker.Stop()
	last := l.now()
	accumulator := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//1.- Accumulate elapsed time since the previous tick.
			now := l.now()
			accumulator += now.Sub(last)
			last = now
			//2.- Run fixed steps while catching up, dropping backlog beyond the cap.
			ran := 0
			for accumulator >= l.step && ran < l.maxCatchUp {
				l.runStep()
				accumulator -= l.step
				ran++
			}
			if accumulator >= l.step {
				accumulator = 0
			}
		}
	}
}

func (l *Loop) runStep() {
	started := l.now()
	l.stepFunc(l.step)
	l.monitor.Observe(l.now().Sub(started))
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done != nil
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
