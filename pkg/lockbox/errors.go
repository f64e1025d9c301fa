package lockbox

import (
	"context"
	"errors"

	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/register"
)

var ErrCalibrationMissing = &lockboxError{"input has no calibration data"}
var ErrUnknownCallback = &lockboxError{"callback is not registered"}
var ErrUnresolvedInput = &lockboxError{"input does not exist in this lockbox"}
var ErrUnknownOutput = &lockboxError{"output does not exist in this lockbox"}
var ErrUnknownModel = &lockboxError{"unknown lockbox classname"}
var ErrSequencerBusy = &lockboxError{"another run is in progress"}
var ErrEmptySequence = &lockboxError{"sequence has no stages"}
var ErrStageIndex = &lockboxError{"stage index out of range"}
var ErrClosed = &lockboxError{"lockbox is closed"}

// ErrCalibrationTimeout is returned when calibration exceeds its budget.
var ErrCalibrationTimeout = calibration.ErrTimeout

type lockboxError struct{ msg string }

func (e *lockboxError) Error() string { return e.msg }

// IsConfigError reports whether err is caused by the lockbox configuration
// rather than the hardware or a callback.
func IsConfigError(err error) bool {
	for _, target := range []error{
		ErrCalibrationMissing,
		ErrUnknownCallback,
		ErrUnresolvedInput,
		ErrUnknownOutput,
		ErrUnknownModel,
		ErrSequencerBusy,
		ErrEmptySequence,
		ErrStageIndex,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsHardwareError reports whether err comes from the register transport.
func IsHardwareError(err error) bool {
	return errors.Is(err, register.ErrHardwareIO)
}

// isCancelled reports whether err comes from a cancelled or expired context.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
