package flushtimer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimer_FiresAfterSoftDelay(t *testing.T) {
	var fired atomic.Int32
	tm := New(20*time.Millisecond, time.Second, func() { fired.Add(1) })

	tm.Touch()
	if !tm.Armed() {
		t.Fatal("timer should be armed after Touch")
	}

	time.Sleep(80 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired = %d, want 1", got)
	}
	if tm.Armed() {
		t.Error("timer should be disarmed after firing")
	}
}

func TestTimer_TouchExtendsSoftDeadline(t *testing.T) {
	var fired atomic.Int32
	tm := New(40*time.Millisecond, time.Second, func() { fired.Add(1) })

	tm.Touch()
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		tm.Touch()
	}

	if got := fired.Load(); got != 0 {
		t.Fatalf("fired = %d while touches kept arriving, want 0", got)
	}

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("fired = %d, want 1", got)
	}
}

func TestTimer_HardCeiling(t *testing.T) {
	var fired atomic.Int32
	tm := New(30*time.Millisecond, 80*time.Millisecond, func() { fired.Add(1) })

	start := time.Now()
	tm.Touch()
	for time.Since(start) < 200*time.Millisecond && fired.Load() == 0 {
		time.Sleep(10 * time.Millisecond)
		tm.Touch()
	}

	elapsed := time.Since(start)
	if fired.Load() == 0 {
		t.Fatal("timer never fired under sustained touches")
	}
	if elapsed > 180*time.Millisecond {
		t.Errorf("fired after %v, want close to the 80ms ceiling", elapsed)
	}
}

func TestTimer_Stop(t *testing.T) {
	var fired atomic.Int32
	tm := New(20*time.Millisecond, time.Second, func() { fired.Add(1) })

	tm.Touch()
	if !tm.Stop() {
		t.Error("Stop should report an armed timer")
	}
	if tm.Stop() {
		t.Error("second Stop should report a disarmed timer")
	}

	time.Sleep(60 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Errorf("fired = %d after Stop, want 0", got)
	}
}

func TestNew_HardBelowSoft(t *testing.T) {
	tm := New(50*time.Millisecond, 10*time.Millisecond, func() {})
	if tm.hard != tm.soft {
		t.Errorf("hard = %v, want raised to soft %v", tm.hard, tm.soft)
	}
}
