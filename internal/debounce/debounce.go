// Package debounce coalesces bursts of triggers into a single delayed
// callback. The file watcher uses it to collapse editor save storms into one
// build, and the extension relay uses it to schedule reconnect attempts.
package debounce

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid events into a single callback invocation.
// Only the last value seen within the configured interval reaches the
// callback; every Trigger restarts the interval.
type Debouncer[T any] struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	callback func(v T)
	last     T
}

// New creates a debouncer that waits for interval of quiet before firing
// callback with the value of the last Trigger.
func New[T any](interval time.Duration, callback func(v T)) *Debouncer[T] {
	return &Debouncer[T]{
		interval: interval,
		callback: callback,
	}
}

// Trigger records v. If no further triggers arrive within the interval, the
// callback fires once with the last value seen. A pending callback is
// cancelled, not queued.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = v
	d.gen++
	gen := d.gen

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.interval, func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("debouncer callback panicked", slog.Any("error", r))
			}
		}()

		d.mu.Lock()
		// A Trigger that raced with this timer firing owns the next run.
		if gen != d.gen || d.timer == nil {
			d.mu.Unlock()
			return
		}

		last := d.last
		d.timer = nil
		d.mu.Unlock()

		d.callback(last)
	})
}

// Pending reports whether a callback is scheduled and has not fired yet.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.timer != nil
}

// Stop cancels any pending debounced callback.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
