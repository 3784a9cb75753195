package monitor

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebounceCoalescesBurst(t *testing.T) {
	r := NewDebounceRegistry(30 * time.Millisecond)
	defer r.Dispose()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		r.Trigger("maang/access_token", func() { fired.Add(1) })
		time.Sleep(2 * time.Millisecond)
	}
	if got := fired.Load(); got != 0 {
		t.Fatalf("fired %d times during the burst, want 0", got)
	}
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired %d times, want exactly 1", got)
	}
	if r.Pending() != 0 {
		t.Fatal("fired key still pending")
	}
}

func TestDebounceIndependentKeys(t *testing.T) {
	r := NewDebounceRegistry(20 * time.Millisecond)
	defer r.Dispose()

	var a, b atomic.Int32
	r.Trigger("maang/access_token", func() { a.Add(1) })
	r.Trigger("maang/user_id", func() { b.Add(1) })
	if r.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", r.Pending())
	}
	time.Sleep(80 * time.Millisecond)
	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("fired a=%d b=%d, want 1 each", a.Load(), b.Load())
	}
}

func TestDebounceCancel(t *testing.T) {
	r := NewDebounceRegistry(20 * time.Millisecond)
	defer r.Dispose()

	var fired atomic.Int32
	r.Trigger("k", func() { fired.Add(1) })
	r.Cancel("k")
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled key fired")
	}
}

func TestDebounceDispose(t *testing.T) {
	r := NewDebounceRegistry(20 * time.Millisecond)

	var fired atomic.Int32
	r.Trigger("a", func() { fired.Add(1) })
	r.Trigger("b", func() { fired.Add(1) })
	r.Dispose()
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired %d times after Dispose, want 0", fired.Load())
	}
	// A disposed registry silently drops new triggers.
	r.Trigger("c", func() { fired.Add(1) })
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("disposed registry fired a new trigger")
	}
}
