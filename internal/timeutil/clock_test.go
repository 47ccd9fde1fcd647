package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	got := c.Now()
	if got.Before(before) {
		t.Errorf("RealClock.Now went backwards: %v < %v", got, before)
	}
}

func TestMockClockAdvanceFiresTimer(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	timer := c.NewTimer(10 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case fired := <-timer.C():
		if !fired.Equal(start.Add(10 * time.Second)) {
			t.Errorf("timer fired at %v, want %v", fired, start.Add(10*time.Second))
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestMockTimerStop(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	timer := c.NewTimer(time.Second)

	if !timer.Stop() {
		t.Error("first Stop should report the timer was active")
	}
	if timer.Stop() {
		t.Error("second Stop should report inactive")
	}

	c.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Error("stopped timer fired")
	default:
	}
}

func TestMockClockTimerDurations(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	c.NewTimer(5 * time.Second)
	c.NewTimer(20 * time.Second)

	ds := c.TimerDurations()
	if len(ds) != 2 || ds[0] != 5*time.Second || ds[1] != 20*time.Second {
		t.Errorf("unexpected timer durations: %v", ds)
	}
}

func TestMockClockSince(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewMockClock(start)
	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since = %v, want 90s", got)
	}
}
