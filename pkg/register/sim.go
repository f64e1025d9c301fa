package register

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const (
	// simMaxStep bounds the integration step so sweeps are resolved.
	simMaxStep = time.Millisecond
	// simMaxGap bounds how much idle time is replayed on the next access.
	simMaxGap = time.Second
)

// Sim is an in-memory board with a linear plant:
//
//	in_k = sum_j gain[k][j] * out_j + disturbance_k
//	out_j = clip(ival_j + p_j * e_j + sweep_j)
//	e_j = setpoint_j - in_src(j)
//
// The integrators follow the exact exponential solution of their own loop
// over each step; cross-coupling is held constant within a step.
type Sim struct {
	mu    sync.Mutex
	clock clock.Clock
	open  bool
	last  time.Time

	regs        map[string]float64
	sweepStart  [2]time.Time
	gain        [2][2]float64
	disturbance [2]float64
	faults      map[string]error
}

var _ Connection = &Sim{}

// NewSim returns a simulator where in1 follows out1 and in2 follows -out1.
func NewSim(clk clock.Clock) *Sim {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()

	s := &Sim{
		clock:  clk,
		last:   now,
		regs:   make(map[string]float64),
		gain:   [2][2]float64{{1, 0}, {-1, 0}},
		faults: make(map[string]error),
	}
	for _, m := range pidModules {
		for _, f := range []string{FieldP, FieldI, FieldIval, FieldSetpoint, FieldInput} {
			s.regs[Key(m, f)] = 0
		}
	}
	s.regs[Key(PID1, FieldInput)] = 1
	for _, m := range asgModules {
		for _, f := range []string{FieldWaveform, FieldFrequency, FieldAmplitude, FieldOffset, FieldEnabled} {
			s.regs[Key(m, f)] = 0
		}
	}

	return s
}

// Open opens the simulated connection.
func (s *Sim) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = true
	s.last = s.clock.Now()
	return nil
}

// Close closes the simulated connection.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.open = false
	return nil
}

// Read reads a register or the instantaneous value of a signal or output.
func (s *Sim) Read(key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(key); err != nil {
		return 0, err
	}
	now := s.clock.Now()
	s.advance(now)

	if k := indexOf(signals, key); k >= 0 {
		return s.inputs(s.outputs(now))[k], nil
	}
	if j := indexOf(outputs, key); j >= 0 {
		return s.outputs(now)[j], nil
	}
	v, ok := s.regs[key]
	if !ok {
		return 0, ErrUnknownRegister
	}
	return v, nil
}

// Write writes a register.
func (s *Sim) Write(key string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(key); err != nil {
		return err
	}
	now := s.clock.Now()
	s.advance(now)

	if indexOf(signals, key) >= 0 || indexOf(outputs, key) >= 0 {
		return ErrReadOnly
	}
	prev, ok := s.regs[key]
	if !ok {
		return ErrUnknownRegister
	}
	for j, m := range asgModules {
		if key == Key(m, FieldEnabled) && prev == 0 && value != 0 {
			s.sweepStart[j] = now
		}
	}
	if indexOf([]string{Key(PID0, FieldIval), Key(PID1, FieldIval)}, key) >= 0 {
		value = clip(value)
	}
	s.regs[key] = value
	return nil
}

// SetDisturbance sets the constant offset added to a signal.
func (s *Sim) SetDisturbance(signal string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := indexOf(signals, signal)
	if k < 0 {
		return errors.Wrapf(ErrUnknownRegister, "signal %q", signal)
	}
	s.advance(s.clock.Now())
	s.disturbance[k] = value
	return nil
}

// SetCoupling sets how strongly an output appears in a signal.
func (s *Sim) SetCoupling(signal, output string, gain float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := indexOf(signals, signal)
	j := indexOf(outputs, output)
	if k < 0 || j < 0 {
		return errors.Wrapf(ErrUnknownRegister, "coupling %s<-%s", signal, output)
	}
	s.advance(s.clock.Now())
	s.gain[k][j] = gain
	return nil
}

// Fail makes every access to key return err until Heal is called.
func (s *Sim) Fail(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults[key] = err
}

// Heal removes an injected fault.
func (s *Sim) Heal(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.faults, key)
}

func (s *Sim) check(key string) error {
	if !s.open {
		return ErrClosed
	}
	if err, ok := s.faults[key]; ok {
		return err
	}
	return nil
}

func (s *Sim) advance(now time.Time) {
	if now.Sub(s.last) > simMaxGap {
		s.last = now.Add(-simMaxGap)
	}
	for s.last.Before(now) {
		step := now.Sub(s.last)
		if step > simMaxStep {
			step = simMaxStep
		}
		s.integrate(s.last.Add(step/2), step.Seconds())
		s.last = s.last.Add(step)
	}
}

func (s *Sim) integrate(t time.Time, dt float64) {
	outs := s.outputs(t)

	for m, mod := range pidModules {
		i := s.regs[Key(mod, FieldI)]
		if i == 0 {
			continue
		}
		p := s.regs[Key(mod, FieldP)]
		k := s.source(m)
		g := s.gain[k][m]

		// Everything in the error signal that this integrator does not drive.
		c := s.disturbance[k] + g*s.sweep(m, t)
		for j := range outs {
			if j != m {
				c += s.gain[k][j] * outs[j]
			}
		}

		sp := s.regs[Key(mod, FieldSetpoint)]
		ival := s.regs[Key(mod, FieldIval)]
		if g == 0 {
			ival += i * (sp - c) * dt
		} else {
			den := 1 + g*p
			if den < 1e-9 {
				den = 1e-9
			}
			target := (sp - c) / g
			if ival != target {
				ival = target + (ival-target)*math.Exp(-i*g/den*dt)
			}
		}
		s.regs[Key(mod, FieldIval)] = clip(ival)
	}
}

// outputs evaluates both analog outputs with one fixed-point pass over the
// proportional terms.
func (s *Sim) outputs(t time.Time) [2]float64 {
	var out [2]float64
	for j, mod := range pidModules {
		out[j] = clip(s.regs[Key(mod, FieldIval)] + s.sweep(j, t))
	}
	in := s.inputs(out)
	for j, mod := range pidModules {
		e := s.regs[Key(mod, FieldSetpoint)] - in[s.source(j)]
		out[j] = clip(s.regs[Key(mod, FieldIval)] + s.regs[Key(mod, FieldP)]*e + s.sweep(j, t))
	}
	return out
}

func (s *Sim) inputs(out [2]float64) [2]float64 {
	var in [2]float64
	for k := range in {
		in[k] = s.disturbance[k]
		for j := range out {
			in[k] += s.gain[k][j] * out[j]
		}
	}
	return in
}

func (s *Sim) sweep(j int, t time.Time) float64 {
	mod := asgModules[j]
	if s.regs[Key(mod, FieldEnabled)] == 0 {
		return 0
	}
	phase := s.regs[Key(mod, FieldFrequency)] * t.Sub(s.sweepStart[j]).Seconds()
	w := Waveform(s.regs[Key(mod, FieldWaveform)])
	return s.regs[Key(mod, FieldOffset)] + s.regs[Key(mod, FieldAmplitude)]*w.Value(phase)
}

func (s *Sim) source(j int) int {
	code := int(s.regs[Key(pidModules[j], FieldInput)])
	if code < 0 || code >= len(signals) {
		return 0
	}
	return code
}

func clip(v float64) float64 {
	return math.Max(-OutputLimit, math.Min(OutputLimit, v))
}

func indexOf(list []string, key string) int {
	for i, v := range list {
		if v == key {
			return i
		}
	}
	return -1
}
