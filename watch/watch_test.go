package watch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ravi-ivar-7/choco-sub000/dbopen"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestQueryDetector(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE rules (id INTEGER PRIMARY KEY)`))
	detect := Query(`SELECT count(*) FROM rules`)

	v, err := detect(context.Background(), db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if v != 0 {
		t.Fatalf("empty table version = %d, want 0", v)
	}

	if _, err := db.Exec(`INSERT INTO rules (id) VALUES (1), (2)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, err = detect(context.Background(), db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if v != 2 {
		t.Fatalf("version after insert = %d, want 2", v)
	}
}

func TestRunInvokesActionOnChange(t *testing.T) {
	db := dbopen.OpenMemory(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	w := New(db, Options{
		Interval: 5 * time.Millisecond,
		Debounce: 10 * time.Millisecond,
		Detector: Query(`PRAGMA user_version`),
	})
	go w.Run(ctx, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	// No change yet: the action must stay quiet.
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("action ran %d times before any change", got)
	}

	if _, err := db.Exec(`PRAGMA user_version = 1`); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 })
}

func TestRunCoalescesBurst(t *testing.T) {
	db := dbopen.OpenMemory(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	w := New(db, Options{
		Interval: 2 * time.Millisecond,
		Debounce: 25 * time.Millisecond,
		Detector: Query(`PRAGMA user_version`),
	})
	go w.Run(ctx, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	for i := 1; i <= 5; i++ {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", i)); err != nil {
			t.Fatalf("bump version: %v", err)
		}
		time.Sleep(4 * time.Millisecond)
	}

	waitFor(t, time.Second, func() bool { return calls.Load() >= 1 })
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("burst of writes triggered %d reloads, want 1", got)
	}
}

func TestRunRetriesFailedAction(t *testing.T) {
	db := dbopen.OpenMemory(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	w := New(db, Options{
		Interval: 5 * time.Millisecond,
		Debounce: 10 * time.Millisecond,
		Detector: Query(`PRAGMA user_version`),
	})
	go w.Run(ctx, func(context.Context) error {
		if calls.Add(1) == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	if _, err := db.Exec(`PRAGMA user_version = 7`); err != nil {
		t.Fatalf("bump version: %v", err)
	}

	// The first failure must not commit the version, so the same change
	// fires again until the action succeeds.
	waitFor(t, time.Second, func() bool { return calls.Load() >= 2 })
	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Fatalf("action ran %d times, want 2 (one failure, one success)", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	db := dbopen.OpenMemory(t)

	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	w := New(db, Options{
		Interval: 5 * time.Millisecond,
		Debounce: 10 * time.Millisecond,
		Detector: Query(`PRAGMA user_version`),
	})
	done := make(chan struct{})
	go func() {
		w.Run(ctx, func(context.Context) error {
			calls.Add(1)
			return nil
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, err := db.Exec(`PRAGMA user_version = 3`); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("action ran %d times after cancel", got)
	}
}
