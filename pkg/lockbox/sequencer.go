package lockbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/events"
)

type runKind string

const (
	runLock        runKind = "lock"
	runCalibration runKind = "calibration"
)

// run is the token a sequence or calibration holds while it executes.
type run struct {
	id         string
	kind       runKind
	supervised bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// acquire takes the run token.
func (l *Lockbox) acquire(parent context.Context, kind runKind, supervised bool) (*run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	if l.run != nil {
		return nil, errors.Wrapf(ErrSequencerBusy, "%s run %s", l.run.kind, l.run.id)
	}
	if kind == runLock && l.seq.Len() == 0 {
		return nil, ErrEmptySequence
	}

	ctx, cancel := context.WithCancel(parent)
	r := &run{
		id:         uuid.NewString(),
		kind:       kind,
		supervised: supervised,
		ctx:        ctx,
		cancel:     cancel,
	}
	l.run = r
	l.state.RunID = r.id
	l.state.LastError = ""
	l.state.Locked = false
	if kind == runLock {
		l.state.Phase = PhaseSequencing
	} else {
		l.state.Phase = PhaseCalibrating
	}
	l.notify()

	return r, nil
}

// Lock runs the sequence from stage 0 and returns once it is locked, failed
// or was cancelled by Unlock or SetClassname. A cancelled run is not an
// error. ErrSequencerBusy is returned if another run holds the token.
func (l *Lockbox) Lock(ctx context.Context) (Result, error) {
	r, err := l.acquire(ctx, runLock, false)
	if err != nil {
		return Result{}, err
	}
	res := l.execute(r)
	return res, res.Err
}

// LockAsync starts the sequence in the background. The returned channel
// receives the result once and is then closed. Cancelling ctx after
// LockAsync returns does not stop the run; use Unlock.
func (l *Lockbox) LockAsync(ctx context.Context) (<-chan Result, error) {
	r, err := l.acquire(context.WithoutCancel(ctx), runLock, false)
	if err != nil {
		return nil, err
	}

	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- l.execute(r)
	}()
	return ch, nil
}

// Unlock cancels any run in progress, disengages the outputs it engaged
// and marks the lockbox Aborted. The run token is free when Unlock returns.
func (l *Lockbox) Unlock() error {
	l.hwMu.Lock()
	defer l.hwMu.Unlock()

	l.mu.Lock()
	runID := l.state.RunID
	cancelled := l.cancelRun()
	outs := l.takeEngaged()
	l.state.Locked = false
	l.state.Phase = PhaseAborted
	l.state.LastError = ""
	l.notify()
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"run":       runID,
		"cancelled": cancelled,
		"outputs":   len(outs),
	}).Info("unlocking")

	err := l.disengage(outs)
	l.observer.Publish(events.Unlocked, events.LockEvent{
		RunID:  runID,
		Reason: "unlock",
		Ts:     l.clock.Now().Unix(),
	})
	return err
}

// execute walks the sequence. The sequence length is re-read before every
// stage so stages appended during a run are honored.
func (l *Lockbox) execute(r *run) Result {
	logger := logrus.WithFields(logrus.Fields{
		"run":        r.id,
		"supervised": r.supervised,
	})
	logger.Info("lock sequence started")

	last := -1
	for i := 0; ; i++ {
		if err := r.ctx.Err(); err != nil {
			return l.finish(r, last, err)
		}
		st, ok := l.seq.at(i)
		if !ok {
			break
		}
		if !l.enterStage(r, st) {
			return l.finish(r, last, context.Canceled)
		}
		last = i

		stageLogger := logger.WithFields(logrus.Fields{
			"stage": st.DisplayName(),
			"input": st.Input,
		})
		stageLogger.Debug("entered stage")

		if err := l.engageStage(r, st); err != nil {
			return l.finish(r, last, errors.Wrapf(err, "stage %s", st.DisplayName()))
		}

		if st.FunctionCall != "" {
			cb, err := l.callback(st.FunctionCall)
			if err != nil {
				return l.finish(r, last, errors.Wrapf(err, "stage %s", st.DisplayName()))
			}
			stageLogger.WithField("callback", st.FunctionCall).Debug("invoking callback")
			if err := cb(l); err != nil {
				return l.finish(r, last, &callbackError{name: st.FunctionCall, err: err})
			}
		}

		if st.Duration > 0 {
			t := l.clock.Timer(st.Duration)
			select {
			case <-r.ctx.Done():
				t.Stop()
				return l.finish(r, last, r.ctx.Err())
			case <-t.C:
			}
		}
	}

	if last < 0 {
		return l.finish(r, last, ErrEmptySequence)
	}
	return l.finish(r, last, nil)
}

// enterStage records the stage as current. It returns false if r no longer
// holds the token.
func (l *Lockbox) enterStage(r *run, st Stage) bool {
	l.mu.Lock()
	if l.run != r {
		l.mu.Unlock()
		return false
	}
	l.state.CurrentStage = st.Index
	l.state.Phase = PhaseSequencing
	if st.Index == 0 {
		l.state.FirstStageCounter++
	}
	l.notify()
	l.mu.Unlock()

	l.observer.Publish(events.StageEntered, events.StageEvent{
		Index: st.Index,
		Name:  st.DisplayName(),
		RunID: r.id,
		Ts:    l.clock.Now().Unix(),
	})
	return true
}

type engagement struct {
	out    OutputChannel
	cfg    StageOutput
	coeffs Coefficients
}

// engageStage programs every output of st. All configuration is resolved
// before the first register is written.
func (l *Lockbox) engageStage(r *run, st Stage) error {
	l.mu.Lock()
	idx, ok := l.model.input(st.Input)
	if !ok {
		l.mu.Unlock()
		return errors.Wrapf(ErrUnresolvedInput, "%q", st.Input)
	}
	in := l.model.Inputs[idx]

	plan := make([]engagement, 0, len(st.Outputs))
	for _, name := range st.outputNames() {
		oi, ok := l.model.output(name)
		if !ok {
			l.mu.Unlock()
			return errors.Wrapf(ErrUnknownOutput, "%q", name)
		}
		plan = append(plan, engagement{out: l.model.Outputs[oi], cfg: st.Outputs[name]})
	}
	l.mu.Unlock()

	for i := range plan {
		if !plan[i].cfg.LockOn {
			continue
		}
		coeffs, err := l.opts.Gain(st, in, plan[i].out)
		if err != nil {
			return err
		}
		plan[i].coeffs = coeffs
	}

	l.hwMu.Lock()
	defer l.hwMu.Unlock()

	// Unlock may have disengaged everything while we waited.
	if err := r.ctx.Err(); err != nil {
		return err
	}

	for _, e := range plan {
		logger := logrus.WithFields(logrus.Fields{
			"run":    r.id,
			"output": e.out.Name,
			"pid":    e.out.PID,
		})

		if !e.cfg.LockOn {
			if err := l.board.DisablePID(e.out.PID); err != nil {
				return err
			}
			if e.cfg.ResetOffset {
				if err := l.board.ResetIntegrator(e.out.PID); err != nil {
					return err
				}
			}
			l.setEngaged(e.out.Name, false, in.Name, st.Setpoint)
			continue
		}

		if e.cfg.ResetOffset {
			if err := l.board.ResetIntegrator(e.out.PID); err != nil {
				return err
			}
		}
		if err := l.board.SelectPIDInput(e.out.PID, in.Signal); err != nil {
			return err
		}
		if err := l.board.SetPIDSetpoint(e.out.PID, st.Setpoint); err != nil {
			return err
		}
		if err := l.board.SetPIDGains(e.out.PID, e.coeffs.P, e.coeffs.I); err != nil {
			return err
		}
		l.setEngaged(e.out.Name, true, in.Name, st.Setpoint)

		logger.WithFields(logrus.Fields{
			"p": e.coeffs.P,
			"i": e.coeffs.I,
		}).Debug("output engaged")
	}

	return nil
}

func (l *Lockbox) setEngaged(output string, on bool, input string, setpoint float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if on {
		l.engaged[output] = true
		l.lockInput = input
		l.lockSetpoint = setpoint
	} else {
		delete(l.engaged, output)
	}
}

// finish releases the token and records the outcome of r. A run that did
// not lock leaves no output engaged.
func (l *Lockbox) finish(r *run, stage int, err error) Result {
	res := newResult(r.id, stage, err)

	failed := res.Outcome != OutcomeLocked
	if failed {
		l.hwMu.Lock()
	}

	var outs []OutputChannel
	l.mu.Lock()
	current := l.run == r
	if current {
		l.run = nil
		l.state.RunID = ""
	}
	switch {
	case res.Outcome == OutcomeLocked && !current:
		// Cancelled after the last stage was entered.
		res = newResult(r.id, stage, context.Canceled)
	case res.Outcome == OutcomeLocked:
		l.state.Locked = true
		l.state.Phase = PhaseLocked
	case current:
		outs = l.takeEngaged()
		l.state.Locked = false
		l.state.Phase = PhaseAborted
		if res.Err != nil {
			l.state.LastError = res.Error
		}
	}
	l.notify()
	l.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"run":     r.id,
		"outcome": res.Outcome,
		"stage":   stage,
	})

	if failed {
		if err := l.disengage(outs); err != nil {
			logger.WithError(err).Warn("failed to disengage outputs after aborted run")
		}
		l.hwMu.Unlock()
	}

	r.cancel()

	switch res.Outcome {
	case OutcomeLocked:
		logger.Info("locked")
		l.observer.Publish(events.Locked, events.LockEvent{
			RunID: r.id,
			Ts:    l.clock.Now().Unix(),
		})
	case OutcomeCancelled:
		logger.Info("lock sequence cancelled")
	default:
		logger.WithError(res.Err).Error("lock sequence failed")
	}

	return res
}

// IsLocked reports whether the lockbox is locked and the error signal of
// the last engaged input is within its lock window. It never fails; a
// failed signal read counts as not locked.
func (l *Lockbox) IsLocked() bool {
	l.mu.Lock()
	if !l.state.Locked {
		l.mu.Unlock()
		return false
	}
	idx, ok := l.model.input(l.lockInput)
	if !ok {
		l.mu.Unlock()
		return true
	}
	in := l.model.Inputs[idx]
	setpoint := l.lockSetpoint
	l.mu.Unlock()

	if !in.Calibration.Valid() {
		return true
	}

	v, err := l.board.ReadSignal(in.Signal)
	if err != nil {
		logrus.WithError(err).WithField("input", in.Name).Debug("failed to read error signal")
		return false
	}
	return in.withinWindow(v, setpoint)
}
