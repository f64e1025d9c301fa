package register

import "github.com/sirupsen/logrus"

// SetPIDGains programs the proportional and integral gains of a PID module.
func (b *Board) SetPIDGains(module string, p, i float64) error {
	logrus.Tracef("SetPIDGains(%s, %g, %g) called", module, p, i)

	if err := b.Write(Key(module, FieldP), p); err != nil {
		return err
	}

	return b.Write(Key(module, FieldI), i)
}

// DisablePID zeroes both gains. The integrator keeps its last value.
func (b *Board) DisablePID(module string) error {
	logrus.Tracef("DisablePID(%s) called", module)

	return b.SetPIDGains(module, 0, 0)
}

// ResetIntegrator zeroes the accumulated integrator offset.
func (b *Board) ResetIntegrator(module string) error {
	logrus.Tracef("ResetIntegrator(%s) called", module)

	return b.Write(Key(module, FieldIval), 0)
}

// GetIntegrator returns the accumulated integrator offset.
func (b *Board) GetIntegrator(module string) (float64, error) {
	return b.Read(Key(module, FieldIval))
}

// SetPIDSetpoint sets the error-signal target.
func (b *Board) SetPIDSetpoint(module string, setpoint float64) error {
	logrus.Tracef("SetPIDSetpoint(%s, %g) called", module, setpoint)

	return b.Write(Key(module, FieldSetpoint), setpoint)
}

// SelectPIDInput routes a signal into the PID module.
func (b *Board) SelectPIDInput(module, signal string) error {
	logrus.Tracef("SelectPIDInput(%s, %s) called", module, signal)

	code, err := SignalCode(signal)
	if err != nil {
		return err
	}

	return b.Write(Key(module, FieldInput), code)
}
