package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsAndRecordsSteps(t *testing.T) {
	var ticks int32
	monitor := NewTickMonitor()
	loop := NewLoop(200, func(time.Duration) {
		atomic.AddInt32(&ticks, 1)
	}, WithMonitor(monitor))
	loop.Start(context.Background())
	if !loop.Running() {
		t.Fatal("expected loop to report running")
	}
	time.Sleep(60 * time.Millisecond)
	loop.Stop()
	if loop.Running() {
		t.Fatal("expected loop to stop")
	}
	got := atomic.LoadInt32(&ticks)
	if got == 0 {
		t.Fatalf("expected loop to tick at least once")
	}
	if monitor.Snapshot().Samples > int(got) {
		t.Fatalf("monitor saw more samples than steps")
	}
}

func TestLoopStopsWithContext(t *testing.T) {
	loop := NewLoop(120, nil)
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	cancel()
	loop.Stop()
	loop.Stop()
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(120, func(time.Duration) {})
	if step := loop.StepDuration(); step != time.Second/120 {
		t.Fatalf("unexpected step duration %v", step)
	}
	fallbackHz := 60.0
	if NewLoop(0, nil).StepDuration() != time.Duration(float64(time.Second)/fallbackHz) {
		t.Fatal("expected 60Hz fallback")
	}
}

func TestTickMonitorAggregates(t *testing.T) {
	monitor := NewTickMonitor()
	monitor.SetBudget(3 * time.Millisecond)
	monitor.Observe(2 * time.Millisecond)
	monitor.Observe(4 * time.Millisecond)
	monitor.Observe(0)
	snap := monitor.Snapshot()
	if snap.Samples != 2 || snap.Average != 3*time.Millisecond || snap.Max != 4*time.Millisecond || snap.Last != 4*time.Millisecond || snap.Overruns != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if fps := snap.AverageFPS(); fps < 333 || fps > 334 {
		t.Fatalf("unexpected fps %v", fps)
	}
	monitor.Reset()
	if monitor.Snapshot().Samples != 0 {
		t.Fatal("reset did not clear samples")
	}
	var nilMonitor *TickMonitor
	nilMonitor.Observe(time.Millisecond)
}
