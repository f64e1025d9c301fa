package lockbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAutoRelock(t *testing.T) {
	lb, b, _ := newTestLockbox(t, Options{Classname: ModelInterferometer})
	setCalibration(t, lb, "port1", 0.3)
	lb.SetAutoLock(true)

	done, err := lb.LockAsync(context.Background())
	if err != nil {
		t.Fatalf("LockAsync failed: %v", err)
	}
	if res := <-done; !res.OK() {
		t.Fatalf("initial lock failed: %+v", res)
	}
	start := lb.State().FirstStageCounter

	for i := 1; i <= 2; i++ {
		breakLock(t, b)
		waitFor(t, "relock", 2*time.Second, func() bool {
			return lb.State().FirstStageCounter == start+i && lb.IsLocked()
		})
	}

	// Nothing else happens while the lock holds.
	time.Sleep(100 * time.Millisecond)
	st := lb.State()
	if st.FirstStageCounter != start+2 {
		t.Fatalf("expected exactly two restarts, counter went from %d to %d", start, st.FirstStageCounter)
	}
	if st.Relocks != 2 || st.Phase != PhaseLocked || !lb.IsLocked() {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestAutoLockOff(t *testing.T) {
	lb, b, _ := newTestLockbox(t, Options{})
	setCalibration(t, lb, "input", 0.3)
	lb.SetAutoLock(true)
	lb.SetAutoLock(false)
	mustLock(t, lb)

	breakLock(t, b)
	time.Sleep(100 * time.Millisecond)

	st := lb.State()
	if st.FirstStageCounter != 1 || st.AutoLock {
		t.Fatalf("no restart expected with auto-lock off, got %+v", st)
	}
	if lb.IsLocked() {
		t.Fatalf("lock should be lost")
	}
}

func TestAutoLockOffKeepsRun(t *testing.T) {
	lb, _, _ := newTestLockbox(t, Options{})
	setCalibration(t, lb, "input", 0.3)
	lb.Sequence().Update(0, func(st *Stage) error { st.Duration = 100 * time.Millisecond; return nil })
	lb.SetAutoLock(true)

	done, err := lb.LockAsync(context.Background())
	if err != nil {
		t.Fatalf("LockAsync failed: %v", err)
	}
	lb.SetAutoLock(false)

	if res := <-done; !res.OK() {
		t.Fatalf("disabling auto-lock must not cancel the run, got %+v", res)
	}
}

func TestUnlockIsNotRelocked(t *testing.T) {
	lb, _, _ := newTestLockbox(t, Options{})
	setCalibration(t, lb, "input", 0.3)
	lb.SetAutoLock(true)
	mustLock(t, lb)

	if err := lb.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	st := lb.State()
	if st.Phase != PhaseAborted || st.FirstStageCounter != 1 {
		t.Fatalf("explicit unlock must not trigger a relock, got %+v", st)
	}
}

func TestRelockThrottle(t *testing.T) {
	lb, b, _ := newTestLockbox(t, Options{MaxRelocks: 1, RelockWindow: time.Minute})
	setCalibration(t, lb, "input", 0.3)
	lb.SetAutoLock(true)
	mustLock(t, lb)

	breakLock(t, b)
	waitFor(t, "first relock", 2*time.Second, func() bool {
		return lb.State().Relocks == 1 && lb.IsLocked()
	})

	breakLock(t, b)
	waitFor(t, "loss detected", 2*time.Second, func() bool {
		return lb.State().Phase == PhaseUnlocked
	})
	time.Sleep(100 * time.Millisecond)

	if st := lb.State(); st.Relocks != 1 || st.Phase != PhaseUnlocked {
		t.Fatalf("expected relocking to pause, got %+v", st)
	}
}

func TestRelockRetriesHardwareFailure(t *testing.T) {
	lb, b, sim := newTestLockbox(t, Options{MaxRelocks: 1000})
	setCalibration(t, lb, "input", 0.3)
	lb.SetAutoLock(true)
	mustLock(t, lb)

	sim.Fail("pid0.setpoint", errors.New("link down"))
	breakLock(t, b)
	waitFor(t, "failed relock", 2*time.Second, func() bool {
		st := lb.State()
		return st.Relocks >= 1 && st.Phase == PhaseAborted
	})

	sim.Heal("pid0.setpoint")
	waitFor(t, "relock after heal", 2*time.Second, lb.IsLocked)
}
