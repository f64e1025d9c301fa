package register

import (
	"errors"
	"fmt"
)

// ErrHardwareIO matches every error surfaced by the register transport.
var ErrHardwareIO = errors.New("hardware i/o error")

// ErrUnknownRegister is returned by the simulator for keys it does not model.
var ErrUnknownRegister = errors.New("unknown register")

// ErrReadOnly is returned when writing a register that can only be read.
var ErrReadOnly = errors.New("register is read-only")

// ErrClosed is returned when the connection is not open.
var ErrClosed = errors.New("connection is closed")

// IOError describes a failed register access.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes every IOError match ErrHardwareIO.
func (e *IOError) Is(target error) bool { return target == ErrHardwareIO }
