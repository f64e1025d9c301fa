package register

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Waveform is the shape produced by a sweep generator.
type Waveform uint8

// Representation of Waveform as programmed into the ASG waveform register.
const (
	WaveformSine     Waveform = 0x00
	WaveformTriangle Waveform = 0x01
	WaveformSquare   Waveform = 0x02
	WaveformRampUp   Waveform = 0x03
	WaveformRampDown Waveform = 0x04
)

func (w Waveform) String() string {
	switch w {
	case WaveformSine:
		return "sine"
	case WaveformTriangle:
		return "triangle"
	case WaveformSquare:
		return "square"
	case WaveformRampUp:
		return "ramp_up"
	case WaveformRampDown:
		return "ramp_down"
	}
	return "unsupported"
}

// ParseWaveform parses a waveform name. "sin" is accepted for sine.
func ParseWaveform(s string) (Waveform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sine", "sin", "":
		return WaveformSine, nil
	case "triangle", "tri":
		return WaveformTriangle, nil
	case "square":
		return WaveformSquare, nil
	case "ramp_up", "ramp", "rampup":
		return WaveformRampUp, nil
	case "ramp_down", "rampdown":
		return WaveformRampDown, nil
	}
	return WaveformSine, errors.Errorf("unknown waveform %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (w Waveform) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *Waveform) UnmarshalText(b []byte) error {
	parsed, err := ParseWaveform(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Value returns the normalized waveform value in [-1, 1] at the given phase,
// measured in cycles.
func (w Waveform) Value(phase float64) float64 {
	frac := phase - math.Floor(phase)
	switch w {
	case WaveformTriangle:
		return 2 / math.Pi * math.Asin(math.Sin(2*math.Pi*frac))
	case WaveformSquare:
		if frac < 0.5 {
			return 1
		}
		return -1
	case WaveformRampUp:
		return 2*frac - 1
	case WaveformRampDown:
		return 1 - 2*frac
	default:
		return math.Sin(2 * math.Pi * frac)
	}
}

// Sweep describes a periodic actuator excitation.
type Sweep struct {
	Waveform  Waveform
	Frequency float64
	Amplitude float64
	Offset    float64
}

// StartSweep programs and enables a sweep generator.
func (b *Board) StartSweep(module string, s Sweep) error {
	logrus.WithFields(logrus.Fields{
		"module":    module,
		"waveform":  s.Waveform,
		"frequency": s.Frequency,
		"amplitude": s.Amplitude,
		"offset":    s.Offset,
	}).Trace("StartSweep called")

	writes := []struct {
		field string
		value float64
	}{
		{FieldEnabled, 0},
		{FieldWaveform, float64(s.Waveform)},
		{FieldFrequency, s.Frequency},
		{FieldAmplitude, s.Amplitude},
		{FieldOffset, s.Offset},
		{FieldEnabled, 1},
	}
	for _, w := range writes {
		if err := b.Write(Key(module, w.field), w.value); err != nil {
			return err
		}
	}
	return nil
}

// StopSweep disables a sweep generator.
func (b *Board) StopSweep(module string) error {
	logrus.Tracef("StopSweep(%s) called", module)

	return b.Write(Key(module, FieldEnabled), 0)
}
