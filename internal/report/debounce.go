// Package report fans progress snapshots out to sinks: the dispatcher (via
// a trailing-edge debouncer), the colorized terminal for local runs and an
// optional SQS mirror queue.
package report

import (
	"sync"
	"time"

	"github.com/lyrio-dev/judge/api"
)

// Sink consumes rendered snapshots.
type Sink func(snapshot *api.ProgressSnapshot)

// Debouncer coalesces bursts of snapshots, keeping only the newest, and
// flushes on the trailing edge. Terminal snapshots flush immediately so
// their order is never disturbed.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	sink     Sink
	pending  *api.ProgressSnapshot
	timer    *time.Timer
	stopped  bool
}

func NewDebouncer(sink Sink, interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval, sink: sink}
}

// Report implements judge.Reporter.
func (d *Debouncer) Report(snapshot *api.ProgressSnapshot) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if snapshot.Type == api.ProgressFinished {
		d.pending = nil
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
		d.mu.Unlock()
		d.sink(snapshot)
		return
	}

	d.pending = snapshot
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.flush)
	}
	d.mu.Unlock()
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	snapshot := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	if snapshot != nil {
		d.sink(snapshot)
	}
}

// Stop drops whatever is pending; used when a task is canceled so nothing is
// reported after cancellation takes effect.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Flush sends any pending snapshot right away.
func (d *Debouncer) Flush() {
	d.flush()
}
