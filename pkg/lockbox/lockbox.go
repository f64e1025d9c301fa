package lockbox

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/events"
	"github.com/charlie0129/lockbox/pkg/register"
)

const (
	DefaultRelockInterval = 100 * time.Millisecond
	DefaultPollInterval   = 10 * time.Millisecond
	DefaultMaxRelocks     = 10
	DefaultRelockWindow   = time.Minute

	DefaultCalibrationTimeout = 5 * time.Second
)

// Options configure a Lockbox. Zero values select defaults.
type Options struct {
	Classname string
	Clock     clock.Clock
	Observer  events.Observer
	Gain      GainFunc

	// RelockInterval is how often the relock supervisor checks the lock.
	RelockInterval time.Duration
	// PollInterval is how often SleepWhileLocked samples the error signal.
	PollInterval time.Duration
	// MaxRelocks restarts within RelockWindow pause the supervisor for one
	// window.
	MaxRelocks   int
	RelockWindow time.Duration

	CalibrationPeriods int
	// CalibrationTimeout bounds a calibration when the caller gives none.
	CalibrationTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Classname == "" {
		o.Classname = DefaultModel
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Observer == nil {
		o.Observer = events.Nop{}
	}
	if o.Gain == nil {
		o.Gain = DefaultGain
	}
	if o.RelockInterval <= 0 {
		o.RelockInterval = DefaultRelockInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxRelocks <= 0 {
		o.MaxRelocks = DefaultMaxRelocks
	}
	if o.RelockWindow <= 0 {
		o.RelockWindow = DefaultRelockWindow
	}
	if o.CalibrationTimeout <= 0 {
		o.CalibrationTimeout = DefaultCalibrationTimeout
	}
}

// Lockbox sequences stages onto a board and supervises the resulting lock.
type Lockbox struct {
	board    *register.Board
	clock    clock.Clock
	observer events.Observer
	engine   *calibration.Engine
	seq      *Sequence
	relocks  *TimeSeriesRecorder
	opts     Options

	// hwMu serializes register programming. It is taken before mu.
	hwMu sync.Mutex

	mu           sync.Mutex
	state        State
	model        Model
	engaged      map[string]bool
	lockInput    string
	lockSetpoint float64
	run          *run
	changed      chan struct{}
	callbacks    map[string]Callback
	supervisor   *supervisor
	closed       bool
}

// New returns a lockbox on top of an opened board. The sequence starts with
// one stage engaging every output on the model's first input.
func New(board *register.Board, opts Options) (*Lockbox, error) {
	opts.setDefaults()

	model, err := LookupModel(opts.Classname)
	if err != nil {
		return nil, err
	}

	l := &Lockbox{
		board:     board,
		clock:     opts.Clock,
		observer:  opts.Observer,
		engine:    calibration.NewEngine(board, opts.Clock, opts.CalibrationPeriods),
		seq:       newSequence(opts.Observer, opts.Clock),
		relocks:   NewTimeSeriesRecorder(opts.MaxRelocks+1, opts.Clock),
		opts:      opts,
		model:     model,
		engaged:   make(map[string]bool),
		changed:   make(chan struct{}),
		callbacks: make(map[string]Callback),
		state: State{
			Classname: model.Name,
			Phase:     PhaseIdle,
		},
	}
	l.seq.replace([]Stage{model.defaultStage()})

	logrus.WithFields(logrus.Fields{
		"classname": model.Name,
		"inputs":    len(model.Inputs),
		"outputs":   len(model.Outputs),
	}).Debug("lockbox created")

	return l, nil
}

// Close stops the relock supervisor and unlocks.
func (l *Lockbox) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	sup := l.supervisor
	l.supervisor = nil
	l.state.AutoLock = false
	l.mu.Unlock()

	if sup != nil {
		sup.stop()
		sup.kill()
	}
	err := l.Unlock()
	if sup != nil {
		sup.wait()
	}

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	return err
}

// State returns a copy of the current state.
func (l *Lockbox) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Classname returns the active model name.
func (l *Lockbox) Classname() string {
	return l.State().Classname
}

// Sequence returns the stage sequence.
func (l *Lockbox) Sequence() *Sequence {
	return l.seq
}

// Inputs returns copies of the input channels.
func (l *Lockbox) Inputs() []InputChannel {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]InputChannel(nil), l.model.Inputs...)
}

// Outputs returns copies of the output channels.
func (l *Lockbox) Outputs() []OutputChannel {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]OutputChannel(nil), l.model.Outputs...)
}

// Input returns a copy of the named input.
func (l *Lockbox) Input(name string) (InputChannel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.model.input(name)
	if !ok {
		return InputChannel{}, errors.Wrapf(ErrUnresolvedInput, "%q", name)
	}
	return l.model.Inputs[i], nil
}

// Output returns a copy of the named output.
func (l *Lockbox) Output(name string) (OutputChannel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.model.output(name)
	if !ok {
		return OutputChannel{}, errors.Wrapf(ErrUnknownOutput, "%q", name)
	}
	return l.model.Outputs[i], nil
}

// UpdateOutput changes the parameters of an output. The name and hardware
// routing cannot be changed.
func (l *Lockbox) UpdateOutput(name string, fn func(*OutputChannel)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.model.output(name)
	if !ok {
		return errors.Wrapf(ErrUnknownOutput, "%q", name)
	}
	out := l.model.Outputs[i]
	fn(&out)
	out.Name, out.PID, out.ASG = l.model.Outputs[i].Name, l.model.Outputs[i].PID, l.model.Outputs[i].ASG
	l.model.Outputs[i] = out
	return nil
}

// SetLockWindow sets how far, as a fraction of the calibrated amplitude, the
// input may stray from the setpoint while locked.
func (l *Lockbox) SetLockWindow(input string, window float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.model.input(input)
	if !ok {
		return errors.Wrapf(ErrUnresolvedInput, "%q", input)
	}
	l.model.Inputs[i].LockWindow = window
	return nil
}

// Calibration returns the committed calibration of an input.
func (l *Lockbox) Calibration(input string) (calibration.Data, error) {
	in, err := l.Input(input)
	if err != nil {
		return calibration.Data{}, err
	}
	if !in.Calibration.Valid() {
		return in.Calibration, errors.Wrapf(ErrCalibrationMissing, "input %s", input)
	}
	return in.Calibration, nil
}

// Engaged returns the names of outputs with feedback engaged.
func (l *Lockbox) Engaged() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var names []string
	for _, o := range l.model.Outputs {
		if l.engaged[o.Name] {
			names = append(names, o.Name)
		}
	}
	return names
}

// SetStageInput points a stage at an input, validated by name.
func (l *Lockbox) SetStageInput(index int, input string) (Stage, error) {
	if _, err := l.Input(input); err != nil {
		return Stage{}, err
	}
	return l.seq.Update(index, func(st *Stage) error {
		st.Input = input
		return nil
	})
}

// SetStageOutput changes what a stage does with one output.
func (l *Lockbox) SetStageOutput(index int, output string, cfg StageOutput) (Stage, error) {
	if _, err := l.Output(output); err != nil {
		return Stage{}, err
	}
	return l.seq.Update(index, func(st *Stage) error {
		if st.Outputs == nil {
			st.Outputs = make(map[string]StageOutput)
		}
		st.Outputs[output] = cfg
		return nil
	})
}

// SetClassname switches the lockbox to another model. Any run in progress is
// cancelled, engaged outputs are disengaged, the stage index returns to 0 and
// every stage is rewritten to reference only channels of the new model.
func (l *Lockbox) SetClassname(name string) error {
	model, err := LookupModel(name)
	if err != nil {
		return err
	}

	l.hwMu.Lock()
	defer l.hwMu.Unlock()

	l.mu.Lock()
	from := l.state.Classname
	if from == name {
		l.mu.Unlock()
		return nil
	}

	cancelled := l.cancelRun()
	outs := l.takeEngaged()

	stages := l.seq.Snapshot()
	for i := range stages {
		stages[i] = model.adapt(stages[i])
	}
	l.seq.replace(stages)

	l.model = model
	l.state.Classname = name
	l.state.CurrentStage = 0
	l.state.Locked = false
	l.state.LastError = ""
	if cancelled {
		l.state.Phase = PhaseAborted
	} else {
		l.state.Phase = PhaseIdle
	}
	l.notify()
	l.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"from":      from,
		"to":        name,
		"cancelled": cancelled,
	}).Info("classname changed")

	err = l.disengage(outs)
	l.observer.Publish(events.ClassnameChanged, events.ClassnameEvent{
		From: from,
		To:   name,
		Ts:   l.clock.Now().Unix(),
	})
	return err
}

// cancelRun cancels and forgets the current run. Must hold mu.
func (l *Lockbox) cancelRun() bool {
	if l.run == nil {
		return false
	}
	logrus.WithField("run", l.run.id).Debug("cancelling run")
	l.run.cancel()
	l.run = nil
	l.state.RunID = ""
	return true
}

// takeEngaged clears the engaged set and returns the outputs that were in
// it. Must hold mu.
func (l *Lockbox) takeEngaged() []OutputChannel {
	var outs []OutputChannel
	for _, o := range l.model.Outputs {
		if l.engaged[o.Name] {
			outs = append(outs, o)
		}
	}
	l.engaged = make(map[string]bool)
	l.lockInput = ""
	return outs
}

// disengage zeroes gains and integrators of outs. Must hold hwMu.
func (l *Lockbox) disengage(outs []OutputChannel) error {
	var err error
	for _, o := range outs {
		logrus.WithField("output", o.Name).Debug("disengaging output")
		if e := l.board.DisablePID(o.PID); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "failed to disengage %s", o.Name))
			continue
		}
		if e := l.board.ResetIntegrator(o.PID); e != nil {
			err = multierr.Append(err, errors.Wrapf(e, "failed to reset %s", o.Name))
		}
	}
	return err
}

// notify wakes everyone waiting for a state change. Must hold mu.
func (l *Lockbox) notify() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *Lockbox) changedCh() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.changed
}
