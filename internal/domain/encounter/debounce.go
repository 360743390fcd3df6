package encounter

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before an edited draft is persisted.
const DefaultDebounce = 500 * time.Millisecond

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. The real implementation is time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler returns a Scheduler backed by the runtime timer.
func RealScheduler() Scheduler { return realScheduler{} }

// debouncer keeps the latest draft snapshot and writes it once the delay has
// passed without a newer Schedule call. It holds its own copy of the draft so
// the write never needs the composer's lock. Writes are serialised by writeMu;
// CancelThen waits on it so a write already started cannot land afterwards.
type debouncer struct {
	sched Scheduler
	delay time.Duration
	write func(Draft)

	writeMu sync.Mutex

	mu      sync.Mutex
	timer   Timer
	pending *Draft
}

func newDebouncer(sched Scheduler, delay time.Duration, write func(Draft)) *debouncer {
	if sched == nil {
		sched = realScheduler{}
	}
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &debouncer{sched: sched, delay: delay, write: write}
}

// Schedule replaces the pending snapshot and restarts the delay.
func (d *debouncer) Schedule(snapshot Draft) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = &snapshot
	d.timer = d.sched.AfterFunc(d.delay, d.fire)
}

// Flush writes the pending snapshot now, if there is one.
func (d *debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.fire()
}

// Cancel drops the pending snapshot without writing it and waits for a write
// that is already in progress.
func (d *debouncer) Cancel() {
	d.CancelThen(nil)
}

// CancelThen cancels like Cancel, then runs fn while holding the write lock.
func (d *debouncer) CancelThen(fn func()) {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.mu.Unlock()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Pending reports whether a write is scheduled.
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *debouncer) fire() {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	snap := d.pending
	d.pending = nil
	d.mu.Unlock()
	if snap != nil {
		d.write(*snap)
	}
}
