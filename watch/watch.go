// Package watch polls a SQLite database for changes and runs a reload
// action once the change has settled. The store server uses it to pick up
// operator edits to control tables (rate limit rules) without restarting.
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// Detector samples a version value for the observed database. A change is
// detected when the value differs from the previous sample; the value does
// not need to be monotonic.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// PragmaDataVersion detects writes made through other connections via
// PRAGMA data_version. Cheap and table-agnostic, but blind to writes made
// on the polling connection itself, so it is unsuitable for ":memory:"
// databases capped at one connection.
func PragmaDataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// Query builds a Detector from a SQL statement returning a single integer,
// letting a watcher track one table instead of the whole file, e.g.
// "SELECT count(*) FROM rate_limits".
func Query(stmt string) Detector {
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, stmt).Scan(&v)
		return v, err
	}
}

// Options configures a Watcher. The zero value is usable.
type Options struct {
	// Interval is the poll cadence. Default 2s.
	Interval time.Duration
	// Debounce is the quiet period after a detected change before the
	// action runs, coalescing bursts of writes. Default 250ms.
	Debounce time.Duration
	// Detector samples the database version. Default PragmaDataVersion.
	Detector Detector
	// Logger receives poll and action failures. Default slog.Default().
	Logger *slog.Logger
}

// Watcher runs a reload action whenever the observed database changes.
type Watcher struct {
	db       *sql.DB
	interval time.Duration
	debounce time.Duration
	detect   Detector
	log      *slog.Logger
}

// New creates a Watcher over db. Run must be called to start polling.
func New(db *sql.DB, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Detector == nil {
		opts.Detector = PragmaDataVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		db:       db,
		interval: opts.Interval,
		debounce: opts.Debounce,
		detect:   opts.Detector,
		log:      opts.Logger,
	}
}

// Run polls until ctx is cancelled, invoking action after each settled
// change. If action fails the sampled version is not committed, so the
// same change is retried on the next poll. Run blocks; call it from a
// goroutine.
func (w *Watcher) Run(ctx context.Context, action func(context.Context) error) {
	last, err := w.detect(ctx, w.db)
	if err != nil {
		w.log.Warn("watch: initial version sample failed", "error", err)
	}

	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	var (
		settle  *time.Timer
		settleC <-chan time.Time
		pending int64
	)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			v, err := w.detect(ctx, w.db)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Warn("watch: version sample failed", "error", err)
				}
				continue
			}
			if v == last {
				continue
			}
			// Restart the quiet period on every observed change so a
			// burst of writes triggers a single reload.
			pending = v
			if settle == nil {
				settle = time.NewTimer(w.debounce)
				settleC = settle.C
			} else {
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(w.debounce)
			}
		case <-settleC:
			settleC = nil
			settle = nil
			if err := w.action(ctx, action); err != nil {
				if ctx.Err() == nil {
					w.log.Warn("watch: reload failed, will retry", "error", err)
				}
				continue
			}
			last = pending
		}
	}
}

func (w *Watcher) action(ctx context.Context, action func(context.Context) error) error {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("watch: reload panicked", "panic", r)
		}
	}()
	return action(ctx)
}
