package lockbox

import (
	"math"

	"github.com/pkg/errors"
)

// Coefficients are the PID gains programmed for one output in one stage.
type Coefficients struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
}

// GainFunc maps a stage, its input and an output to PID coefficients. It must
// be a pure function of its arguments.
type GainFunc func(st Stage, in InputChannel, out OutputChannel) (Coefficients, error)

// DefaultGain is a pure integrator whose unity-gain frequency is the output's
// desired unity-gain frequency scaled by the stage's gain factor. The input
// amplitude normalizes the slope of the error signal.
func DefaultGain(st Stage, in InputChannel, out OutputChannel) (Coefficients, error) {
	if !in.Calibration.Valid() {
		return Coefficients{}, errors.Wrapf(ErrCalibrationMissing, "input %s", in.Name)
	}
	return Coefficients{
		P: 0,
		I: 2 * math.Pi * st.GainFactor * out.DesiredUnityGainFrequency / in.Calibration.Amplitude,
	}, nil
}
