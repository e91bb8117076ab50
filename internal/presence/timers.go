package presence

import "time"

// Timer is a cancelable handle for a scheduled auto-off action.
type Timer interface {
	// Cancel stops the timer. It reports false when the action already
	// fired or started firing; callers must tolerate that race.
	Cancel() bool
}

// Scheduler is the deferred-action capability backing auto-off timers. The
// engine never touches time primitives directly, so tests can drive expiry
// by hand.
type Scheduler interface {
	Schedule(delay time.Duration, action func()) Timer
}

// wallScheduler backs timers with the runtime's native timers.
type wallScheduler struct{}

func (wallScheduler) Schedule(delay time.Duration, action func()) Timer {
	return wallTimer{time.AfterFunc(delay, action)}
}

type wallTimer struct{ t *time.Timer }

func (w wallTimer) Cancel() bool { return w.t.Stop() }
