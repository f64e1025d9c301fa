package lockbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/events"
)

// Calibrate measures one input by sweeping the first output. It holds the
// run token like a lock run does and gives up after
// Options.CalibrationTimeout unless ctx expires earlier.
func (l *Lockbox) Calibrate(ctx context.Context, input string) (calibration.Data, error) {
	results, err := l.calibrate(ctx, []string{input}, 0)
	if err != nil {
		return calibration.Data{}, err
	}
	return results[input], nil
}

// CalibrateAll measures every input in turn by sweeping the first output.
// timeout bounds the whole procedure; when it expires ErrCalibrationTimeout
// is returned and the input in progress keeps its previous calibration.
// Inputs finished before the timeout stay committed. A zero timeout selects
// Options.CalibrationTimeout.
func (l *Lockbox) CalibrateAll(ctx context.Context, timeout time.Duration) (map[string]calibration.Data, error) {
	return l.calibrate(ctx, nil, timeout)
}

func (l *Lockbox) calibrate(ctx context.Context, inputs []string, timeout time.Duration) (map[string]calibration.Data, error) {
	r, err := l.acquire(ctx, runCalibration, false)
	if err != nil {
		return nil, err
	}
	defer l.release(r)

	if timeout <= 0 {
		timeout = l.opts.CalibrationTimeout
	}
	runCtx, cancel := l.clock.WithTimeout(r.ctx, timeout)
	defer cancel()

	// Calibration sweeps the output open-loop, so nothing may stay engaged.
	l.hwMu.Lock()
	l.mu.Lock()
	outs := l.takeEngaged()
	l.mu.Unlock()
	err = l.disengage(outs)
	l.hwMu.Unlock()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if len(l.model.Outputs) == 0 {
		l.mu.Unlock()
		return nil, errors.Wrap(ErrUnknownOutput, "model has no outputs")
	}
	out := l.model.Outputs[0]
	if inputs == nil {
		for _, in := range l.model.Inputs {
			inputs = append(inputs, in.Name)
		}
	}
	channels := make([]InputChannel, 0, len(inputs))
	for _, name := range inputs {
		i, ok := l.model.input(name)
		if !ok {
			l.mu.Unlock()
			return nil, errors.Wrapf(ErrUnresolvedInput, "%q", name)
		}
		channels = append(channels, l.model.Inputs[i])
	}
	l.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"run":    r.id,
		"output": out.Name,
	})
	logger.WithField("inputs", inputs).Info("calibration started")

	results := make(map[string]calibration.Data, len(channels))
	for _, in := range channels {
		data, err := l.engine.Measure(runCtx, in.Signal, out.actuator())
		if err != nil {
			if isCancelled(err) {
				logger.Info("calibration cancelled")
				return results, err
			}
			return results, errors.Wrapf(err, "failed to calibrate input %s", in.Name)
		}

		if !l.commit(r, in.Name, data) {
			return results, context.Canceled
		}
		results[in.Name] = data

		l.observer.Publish(events.CalibrationDone, events.CalibrationEvent{
			Input:     in.Name,
			Mean:      data.Mean,
			Amplitude: data.Amplitude,
			Ts:        l.clock.Now().Unix(),
		})
	}

	return results, nil
}

// commit stores data for an input if r still holds the token.
func (l *Lockbox) commit(r *run, input string, data calibration.Data) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.run != r {
		return false
	}
	i, ok := l.model.input(input)
	if !ok {
		return false
	}
	l.model.Inputs[i].Calibration = data
	return true
}

// release gives back a calibration token.
func (l *Lockbox) release(r *run) {
	l.mu.Lock()
	if l.run == r {
		l.run = nil
		l.state.RunID = ""
		if l.state.Phase == PhaseCalibrating {
			l.state.Phase = PhaseIdle
		}
		l.notify()
	}
	l.mu.Unlock()

	r.cancel()
}
