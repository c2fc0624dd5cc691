package scheduler

import (
	"context"
	"sort"
	"time"
)

// Kickable is anything the loop can ask to re-evaluate: data or space
// became available. Implementations run to completion within the call.
// A returned error is fatal and stops the loop.
type Kickable interface {
	Kick() error
}

// TimerID identifies a scheduled one-shot callback. The zero value never
// refers to a live timer.
type TimerID uint64

type event struct {
	target Kickable
	fn     func()
}

type timerEntry struct {
	id       TimerID
	deadline int64
	timer    *Timer
	fn       func()
}

// Loop is a single-threaded cooperative scheduler. Kicks and expired
// timers are queued as events and run one after another by RunPending on
// the caller's goroutine. Nothing here is safe for concurrent use; every
// call must come from the goroutine that drives the loop.
type Loop struct {
	now     int64 // Ticks since creation, 1 tick = 1 ms
	queue   []event
	timers  []*timerEntry
	nextID  TimerID
	onFatal func(error)
}

// NewLoop creates an idle loop
func NewLoop() *Loop {
	return &Loop{}
}

// SetFatalHandler registers the function told about errors returned by a
// kick. It is called once per failing RunPending.
func (l *Loop) SetFatalHandler(fn func(error)) {
	l.onFatal = fn
}

// Now returns the loop time in ticks
func (l *Loop) Now() int64 {
	return l.now
}

// Kick queues a re-evaluation of target
func (l *Loop) Kick(target Kickable) {
	if target == nil {
		return
	}
	l.queue = append(l.queue, event{target: target})
}

// Post queues a plain callback
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.queue = append(l.queue, event{fn: fn})
}

// Pending returns the number of queued events
func (l *Loop) Pending() int {
	return len(l.queue)
}

// After schedules fn to be queued once ticks have elapsed
func (l *Loop) After(ticks int, fn func()) TimerID {
	if ticks < 0 {
		ticks = 0
	}
	l.nextID++
	entry := &timerEntry{
		id:       l.nextID,
		deadline: l.now + int64(ticks),
		timer:    NewTimer(ticks),
		fn:       fn,
	}
	entry.timer.Start()
	l.timers = append(l.timers, entry)
	return entry.id
}

// Cancel removes a scheduled timer if it is still pending. Cancelling an
// expired, cancelled or zero id is a no-op.
func (l *Loop) Cancel(id TimerID) {
	if id == 0 {
		return
	}
	for i, entry := range l.timers {
		if entry.id == id {
			entry.timer.Stop()
			l.timers = append(l.timers[:i], l.timers[i+1:]...)
			return
		}
	}
}

// IsScheduled reports whether id is still waiting to fire
func (l *Loop) IsScheduled(id TimerID) bool {
	if id == 0 {
		return false
	}
	for _, entry := range l.timers {
		if entry.id == id {
			return true
		}
	}
	return false
}

// Clock advances loop time by ticks and queues the callbacks of every
// timer that expired, earliest deadline first
func (l *Loop) Clock(ticks int) {
	if ticks <= 0 {
		return
	}
	l.now += int64(ticks)

	var expired []*timerEntry
	remaining := l.timers[:0]
	for _, entry := range l.timers {
		entry.timer.Clock(ticks)
		if entry.timer.HasExpired() {
			expired = append(expired, entry)
		} else {
			remaining = append(remaining, entry)
		}
	}
	for i := len(remaining); i < len(l.timers); i++ {
		l.timers[i] = nil
	}
	l.timers = remaining

	sort.SliceStable(expired, func(i, j int) bool {
		if expired[i].deadline != expired[j].deadline {
			return expired[i].deadline < expired[j].deadline
		}
		return expired[i].id < expired[j].id
	})
	for _, entry := range expired {
		entry.timer.Stop()
		l.Post(entry.fn)
	}
}

// RunPending runs queued events in FIFO order until the queue is empty,
// including events queued while running. It stops at the first kick that
// returns an error, reports it to the fatal handler and returns it.
func (l *Loop) RunPending() error {
	for len(l.queue) > 0 {
		ev := l.queue[0]
		l.queue[0] = event{}
		l.queue = l.queue[1:]

		if ev.fn != nil {
			ev.fn()
			continue
		}
		if err := ev.target.Kick(); err != nil {
			if l.onFatal != nil {
				l.onFatal(err)
			}
			return err
		}
	}
	return nil
}

// Tick advances time and runs everything that became due
func (l *Loop) Tick(ticks int) error {
	l.Clock(ticks)
	return l.RunPending()
}

// Run drives the loop from a wall-clock ticker on the calling goroutine.
// Before every tick onTick is called so the owner can inject radio
// activity. Run returns when ctx is done or a kick fails.
func (l *Loop) Run(ctx context.Context, period time.Duration, onTick func() error) error {
	ticks := int(period / time.Millisecond)
	if ticks < 1 {
		ticks = 1
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if onTick != nil {
				if err := onTick(); err != nil {
					return err
				}
			}
			if err := l.Tick(ticks); err != nil {
				return err
			}
		}
	}
}
