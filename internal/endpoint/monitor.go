package endpoint

import "github.com/dbehnke/scoaudio/internal/scheduler"

// monitor owns the two one-shot timers of a running endpoint. The stall
// timer is re-armed on every kick that moved data; the retry timer is
// armed when a kick was skipped for lack of space and is never armed
// twice.
type monitor struct {
	loop         *scheduler.Loop
	stallTimeout int
	retryTimeout int

	stallID scheduler.TimerID
	retryID scheduler.TimerID
	onStall func()
	active  bool
}

func newMonitor(loop *scheduler.Loop, stallTimeout, retryTimeout int) *monitor {
	return &monitor{
		loop:         loop,
		stallTimeout: stallTimeout,
		retryTimeout: retryTimeout,
	}
}

func (m *monitor) start(onStall func()) {
	m.onStall = onStall
	m.active = true
	m.armStall()
}

func (m *monitor) armStall() {
	m.loop.Cancel(m.stallID)
	var id scheduler.TimerID
	id = m.loop.After(m.stallTimeout, func() { m.stalled(id) })
	m.stallID = id
}

// Expired callbacks are queued, so one may still run after cancel or
// after progress re-armed the timer
func (m *monitor) stalled(id scheduler.TimerID) {
	if !m.active || id != m.stallID {
		return
	}
	m.stallID = 0
	m.onStall()
	m.armStall()
}

func (m *monitor) progress() {
	if !m.active {
		return
	}
	m.armStall()
}

func (m *monitor) retry(fn func()) {
	if !m.active || m.loop.IsScheduled(m.retryID) {
		return
	}
	m.retryID = m.loop.After(m.retryTimeout, func() {
		m.retryID = 0
		if m.active {
			fn()
		}
	})
}

// cancel removes both timers. Safe to call any number of times.
func (m *monitor) cancel() {
	m.loop.Cancel(m.stallID)
	m.loop.Cancel(m.retryID)
	m.stallID = 0
	m.retryID = 0
	m.onStall = nil
	m.active = false
}

func (m *monitor) stallPending() bool { return m.loop.IsScheduled(m.stallID) }

func (m *monitor) retryPending() bool { return m.loop.IsScheduled(m.retryID) }
