package scheduler

// Timer is a tick-driven one-shot timeout. It does not read the wall clock;
// the owner advances it with Clock, so expiry is deterministic and always
// observed from the cooperative loop.
type Timer struct {
	timeoutTicks int
	currentTicks int
	running      bool
}

// NewTimer creates a stopped timer with the given timeout in ticks
func NewTimer(ticks int) *Timer {
	return &Timer{timeoutTicks: ticks}
}

// SetTimeout changes the timeout. It takes effect on the next Start.
func (t *Timer) SetTimeout(ticks int) {
	t.timeoutTicks = ticks
}

// Timeout returns the configured timeout in ticks
func (t *Timer) Timeout() int {
	return t.timeoutTicks
}

// Start (re)arms the timer from zero
func (t *Timer) Start() {
	t.currentTicks = 0
	t.running = true
}

// Stop disarms the timer. Stopping a stopped timer is a no-op.
func (t *Timer) Stop() {
	t.running = false
	t.currentTicks = 0
}

// IsRunning returns true while the timer is armed and not yet expired
func (t *Timer) IsRunning() bool {
	return t.running
}

// HasExpired reports whether the armed timeout has elapsed
func (t *Timer) HasExpired() bool {
	return t.running && t.currentTicks >= t.timeoutTicks
}

// Clock advances an armed timer by ticks
func (t *Timer) Clock(ticks int) {
	if !t.running {
		return
	}
	t.currentTicks += ticks
}

// Remaining returns the ticks left before expiry, 0 when stopped or expired
func (t *Timer) Remaining() int {
	if !t.running {
		return 0
	}
	remaining := t.timeoutTicks - t.currentTicks
	if remaining < 0 {
		return 0
	}
	return remaining
}
