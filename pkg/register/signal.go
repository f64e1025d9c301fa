package register

import "github.com/pkg/errors"

// SignalCode returns the routing code of a signal as used by the PID input
// multiplexer.
func SignalCode(signal string) (float64, error) {
	for i, s := range signals {
		if s == signal {
			return float64(i), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownRegister, "signal %q", signal)
}

// ReadSignal samples the instantaneous value of a signal.
func (b *Board) ReadSignal(signal string) (float64, error) {
	return b.Read(signal)
}
