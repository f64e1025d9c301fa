package calibration

// ErrTimeout is returned when a measurement does not finish within its time
// budget. Nothing is committed in that case.
var ErrTimeout = &calibrationError{"calibration timed out"}
var ErrNotEnoughSamples = &calibrationError{"not enough samples"}
var ErrInvalidSweep = &calibrationError{"sweep frequency and amplitude must be positive"}

type calibrationError struct{ msg string }

func (e *calibrationError) Error() string { return e.msg }
