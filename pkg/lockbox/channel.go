package lockbox

import (
	"github.com/charlie0129/lockbox/pkg/calibration"
	"github.com/charlie0129/lockbox/pkg/register"
)

// DefaultLockWindow is the fraction of the calibrated amplitude the error
// signal may deviate from the setpoint while still counting as locked.
const DefaultLockWindow = 0.5

// OutputChannel is an actuator: a PID module driving an analog output, plus
// the sweep generator summed into it.
type OutputChannel struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	PID  string `json:"pid" yaml:"pid" mapstructure:"pid"`
	ASG  string `json:"asg" yaml:"asg" mapstructure:"asg"`

	SweepFrequency            float64           `json:"sweepFrequency" yaml:"sweep_frequency" mapstructure:"sweep_frequency"`
	SweepAmplitude            float64           `json:"sweepAmplitude" yaml:"sweep_amplitude" mapstructure:"sweep_amplitude"`
	SweepOffset               float64           `json:"sweepOffset" yaml:"sweep_offset" mapstructure:"sweep_offset"`
	SweepWaveform             register.Waveform `json:"sweepWaveform" yaml:"sweep_waveform" mapstructure:"sweep_waveform"`
	DesiredUnityGainFrequency float64           `json:"desiredUnityGainFrequency" yaml:"desired_unity_gain_frequency" mapstructure:"desired_unity_gain_frequency"`
}

// Sweep returns the sweep this output emits during calibration.
func (o OutputChannel) Sweep() register.Sweep {
	return register.Sweep{
		Waveform:  o.SweepWaveform,
		Frequency: o.SweepFrequency,
		Amplitude: o.SweepAmplitude,
		Offset:    o.SweepOffset,
	}
}

func (o OutputChannel) actuator() calibration.Actuator {
	return calibration.Actuator{
		PID:   o.PID,
		ASG:   o.ASG,
		Sweep: o.Sweep(),
	}
}

// InputChannel is a signal used as error signal by stages.
type InputChannel struct {
	Name        string           `json:"name" yaml:"name" mapstructure:"name"`
	Signal      string           `json:"signal" yaml:"signal" mapstructure:"signal"`
	LockWindow  float64          `json:"lockWindow" yaml:"lock_window" mapstructure:"lock_window"`
	Calibration calibration.Data `json:"calibration" yaml:"calibration" mapstructure:"calibration"`
}

// withinWindow reports whether value is close enough to setpoint.
func (in InputChannel) withinWindow(value, setpoint float64) bool {
	window := in.LockWindow
	if window <= 0 {
		window = DefaultLockWindow
	}
	diff := value - setpoint
	if diff < 0 {
		diff = -diff
	}
	return diff <= window*in.Calibration.Amplitude
}
