package calibration

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/register"
)

// DefaultPeriods is the number of sweep periods sampled per input.
const DefaultPeriods = 5

const (
	samplesPerPeriod  = 64
	minSampleInterval = 100 * time.Microsecond
	minSamples        = 16
)

// Board is the subset of the register board the engine drives.
type Board interface {
	ReadSignal(signal string) (float64, error)
	DisablePID(module string) error
	ResetIntegrator(module string) error
	StartSweep(module string, s register.Sweep) error
	StopSweep(module string) error
}

// Actuator is the output used to excite the plant during a measurement.
type Actuator struct {
	PID   string
	ASG   string
	Sweep register.Sweep
}

// Engine measures input ranges.
type Engine struct {
	board   Board
	clock   clock.Clock
	periods int
}

// NewEngine returns an Engine sampling the given number of sweep periods.
// A non-positive periods uses DefaultPeriods.
func NewEngine(board Board, clk clock.Clock, periods int) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if periods <= 0 {
		periods = DefaultPeriods
	}
	return &Engine{
		board:   board,
		clock:   clk,
		periods: periods,
	}
}

// Measure disengages the actuator's PID, sweeps it and samples signal until
// the configured number of periods has been observed. The sweep is always
// stopped before returning. If ctx expires first, ErrTimeout is returned.
func (e *Engine) Measure(ctx context.Context, signal string, act Actuator) (Data, error) {
	if act.Sweep.Frequency <= 0 || act.Sweep.Amplitude <= 0 {
		return Data{}, errors.Wrapf(ErrInvalidSweep, "frequency=%g amplitude=%g", act.Sweep.Frequency, act.Sweep.Amplitude)
	}

	logger := logrus.WithFields(logrus.Fields{
		"signal": signal,
		"pid":    act.PID,
		"asg":    act.ASG,
	})

	if err := e.board.DisablePID(act.PID); err != nil {
		return Data{}, errors.Wrapf(err, "failed to disengage %s", act.PID)
	}
	if err := e.board.ResetIntegrator(act.PID); err != nil {
		return Data{}, errors.Wrapf(err, "failed to reset %s", act.PID)
	}
	if err := e.board.StartSweep(act.ASG, act.Sweep); err != nil {
		return Data{}, errors.Wrapf(err, "failed to start sweep on %s", act.ASG)
	}
	defer func() {
		if err := e.board.StopSweep(act.ASG); err != nil {
			logger.WithError(err).Warn("failed to stop sweep")
		}
	}()

	period := time.Duration(float64(time.Second) / act.Sweep.Frequency)
	window := period * time.Duration(e.periods)
	interval := period / samplesPerPeriod
	if interval < minSampleInterval {
		interval = minSampleInterval
	}

	logger.WithFields(logrus.Fields{
		"window":   window,
		"interval": interval,
	}).Debug("sampling sweep response")

	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()

	start := e.clock.Now()
	samples := make([]float64, 0, samplesPerPeriod*e.periods)
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return Data{}, contextError(err)
		}

		v, err := e.board.ReadSignal(signal)
		if err != nil {
			failures++
			logger.WithError(err).Debug("sample read failed, retrying")
		} else {
			samples = append(samples, v)
		}

		if e.clock.Since(start) >= window && len(samples) >= minSamples {
			break
		}

		select {
		case <-ctx.Done():
			return Data{}, contextError(ctx.Err())
		case <-ticker.C:
		}
	}

	data, err := FromSamples(samples, e.clock.Now())
	if err != nil {
		return Data{}, err
	}

	logger.WithFields(logrus.Fields{
		"mean":      data.Mean,
		"amplitude": data.Amplitude,
		"samples":   data.Samples,
		"failures":  failures,
	}).Info("input calibrated")

	return data, nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
