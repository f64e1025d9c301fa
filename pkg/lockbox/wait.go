package lockbox

import (
	"context"
	"time"
)

// SleepWhileLocked blocks for d and reports whether the lockbox stayed
// locked the whole time. It returns false as soon as the lock is lost,
// either through a state change or because the error signal left its
// window, and false if ctx is done first. It has no side effects.
func (l *Lockbox) SleepWhileLocked(ctx context.Context, d time.Duration) bool {
	if !l.IsLocked() {
		return false
	}

	timer := l.clock.Timer(d)
	defer timer.Stop()
	poll := l.clock.Ticker(l.opts.PollInterval)
	defer poll.Stop()

	for {
		changed := l.changedCh()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return l.IsLocked()
		case <-changed:
		case <-poll.C:
		}
		if !l.IsLocked() {
			return false
		}
	}
}

// WaitLocked blocks until the lockbox is locked or ctx is done.
func (l *Lockbox) WaitLocked(ctx context.Context) bool {
	poll := l.clock.Ticker(l.opts.PollInterval)
	defer poll.Stop()

	for {
		if l.IsLocked() {
			return true
		}
		changed := l.changedCh()
		select {
		case <-ctx.Done():
			return false
		case <-changed:
		case <-poll.C:
		}
	}
}
