package calibration

import (
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Data holds the result of calibrating one input.
type Data struct {
	Mean      float64   `json:"mean" yaml:"mean" mapstructure:"mean"`
	Min       float64   `json:"min" yaml:"min" mapstructure:"min"`
	Max       float64   `json:"max" yaml:"max" mapstructure:"max"`
	Amplitude float64   `json:"amplitude" yaml:"amplitude" mapstructure:"amplitude"`
	Std       float64   `json:"std" yaml:"std" mapstructure:"std"`
	Samples   int       `json:"samples" yaml:"samples" mapstructure:"samples"`
	Time      time.Time `json:"time" yaml:"time" mapstructure:"time"`
}

// Valid reports whether the data can be used to scale gains.
func (d Data) Valid() bool {
	return d.Amplitude > 0
}

// FromSamples derives calibration data from raw signal samples.
func FromSamples(samples []float64, at time.Time) (Data, error) {
	if len(samples) < 2 {
		return Data{}, errors.Wrapf(ErrNotEnoughSamples, "got %d", len(samples))
	}

	data := stats.Float64Data(samples)
	lo, err := data.Min()
	if err != nil {
		return Data{}, errors.Wrap(err, "min")
	}
	hi, err := data.Max()
	if err != nil {
		return Data{}, errors.Wrap(err, "max")
	}
	std, err := data.StandardDeviationSample()
	if err != nil {
		return Data{}, errors.Wrap(err, "standard deviation")
	}

	return Data{
		Mean:      (hi + lo) / 2,
		Min:       lo,
		Max:       hi,
		Amplitude: (hi - lo) / 2,
		Std:       std,
		Samples:   len(samples),
		Time:      at,
	}, nil
}
