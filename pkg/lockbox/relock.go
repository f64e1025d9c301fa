package lockbox

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/events"
)

// supervisor restarts the sequence from stage 0 when a lock is lost.
type supervisor struct {
	lb *Lockbox

	// runCtx is the parent of supervised runs. It is only cancelled when the
	// lockbox is closed so that disabling auto-lock leaves a run alone.
	runCtx context.Context
	kill   context.CancelFunc

	stopCh chan struct{}
	doneCh chan struct{}

	// retry is set after a supervised run failed on the hardware.
	retry  bool
	warned bool
}

func newSupervisor(l *Lockbox) *supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &supervisor{
		lb:     l,
		runCtx: ctx,
		kill:   cancel,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetAutoLock turns the relock supervisor on or off. Turning it off stops
// future restarts but does not cancel a run in progress. Turning it on does
// not lock by itself.
func (l *Lockbox) SetAutoLock(on bool) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.state.AutoLock = on
	var stopping *supervisor
	switch {
	case on && l.supervisor == nil:
		l.supervisor = newSupervisor(l)
		go l.supervisor.loop()
	case !on && l.supervisor != nil:
		stopping = l.supervisor
		l.supervisor = nil
	}
	l.notify()
	l.mu.Unlock()

	logrus.WithField("autoLock", on).Info("auto-lock changed")

	if stopping != nil {
		stopping.stop()
	}
}

func (s *supervisor) stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *supervisor) wait() {
	<-s.doneCh
}

func (s *supervisor) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *supervisor) loop() {
	defer close(s.doneCh)

	logrus.Debug("relock supervisor started")

	ticker := s.lb.clock.Ticker(s.lb.opts.RelockInterval)
	defer ticker.Stop()

	for {
		changed := s.lb.changedCh()
		select {
		case <-s.stopCh:
			logrus.Debug("relock supervisor stopped")
			return
		case <-ticker.C:
		case <-changed:
		}
		s.check()
	}
}

func (s *supervisor) check() {
	l := s.lb
	if s.stopped() {
		return
	}

	l.mu.Lock()
	busy := l.run != nil
	phase := l.state.Phase
	failed := l.state.LastError != ""
	l.mu.Unlock()

	if busy {
		return
	}

	switch {
	case phase == PhaseLocked:
		if l.IsLocked() || !s.markUnlocked() {
			return
		}
	case phase == PhaseUnlocked:
	case phase == PhaseAborted && s.retry && failed:
	default:
		return
	}

	if s.throttled() {
		return
	}
	s.relock()
}

// markUnlocked moves a lost lock to PhaseUnlocked.
func (s *supervisor) markUnlocked() bool {
	l := s.lb

	l.mu.Lock()
	if l.run != nil || l.state.Phase != PhaseLocked {
		l.mu.Unlock()
		return false
	}
	l.state.Locked = false
	l.state.Phase = PhaseUnlocked
	l.notify()
	l.mu.Unlock()

	logrus.Warn("lock lost")
	l.observer.Publish(events.Unlocked, events.LockEvent{
		Reason: "lost",
		Ts:     l.clock.Now().Unix(),
	})
	return true
}

// throttled reports whether too many relocks happened in the last window.
func (s *supervisor) throttled() bool {
	l := s.lb
	n := l.relocks.GetRecordsIn(l.opts.RelockWindow)
	if n < l.opts.MaxRelocks {
		s.warned = false
		return false
	}
	if !s.warned {
		logrus.WithFields(logrus.Fields{
			"relocks": n,
			"window":  l.opts.RelockWindow,
		}).Warn("lock keeps getting lost, pausing auto-relock")
		s.warned = true
	}
	return true
}

func (s *supervisor) relock() {
	l := s.lb

	r, err := l.acquire(s.runCtx, runLock, true)
	if err != nil {
		logrus.WithError(err).Debug("relock deferred")
		return
	}
	l.relocks.AddRecordNow()
	l.mu.Lock()
	l.state.Relocks++
	l.mu.Unlock()

	logrus.WithField("run", r.id).Info("relocking from first stage")

	res := l.execute(r)
	switch res.Outcome {
	case OutcomeHardwareError:
		s.retry = true
		logrus.WithError(res.Err).Warn("relock failed on hardware, will retry")
	case OutcomeLocked:
		s.retry = false
	default:
		s.retry = false
		if res.Err != nil {
			logrus.WithError(res.Err).Error("relock failed, giving up until next lock")
		}
	}
}
