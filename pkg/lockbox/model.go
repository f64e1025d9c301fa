package lockbox

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/charlie0129/lockbox/pkg/register"
)

// Model names selectable through the classname.
const (
	ModelLinear         = "Linear"
	ModelInterferometer = "Interferometer"
	ModelFabryPerot     = "FabryPerot"
)

// DefaultModel is used when no classname is configured.
const DefaultModel = ModelLinear

// Default output parameters shared by every model.
const (
	DefaultSweepFrequency            = 50.0
	DefaultSweepAmplitude            = 0.3
	DefaultDesiredUnityGainFrequency = 1e3
)

// Model is the physical topology of a lockbox: the inputs it reads and the
// outputs it drives.
type Model struct {
	Name    string
	Inputs  []InputChannel
	Outputs []OutputChannel
}

func newInput(name, signal string) InputChannel {
	return InputChannel{
		Name:       name,
		Signal:     signal,
		LockWindow: DefaultLockWindow,
	}
}

func newOutput(name, pid, asg string) OutputChannel {
	return OutputChannel{
		Name:                      name,
		PID:                       pid,
		ASG:                       asg,
		SweepFrequency:            DefaultSweepFrequency,
		SweepAmplitude:            DefaultSweepAmplitude,
		SweepWaveform:             register.WaveformSine,
		DesiredUnityGainFrequency: DefaultDesiredUnityGainFrequency,
	}
}

var models = map[string]func() Model{
	ModelLinear: func() Model {
		return Model{
			Name:    ModelLinear,
			Inputs:  []InputChannel{newInput("input", register.SignalIn1)},
			Outputs: []OutputChannel{newOutput("output", register.PID0, register.ASG0)},
		}
	},
	ModelInterferometer: func() Model {
		return Model{
			Name: ModelInterferometer,
			Inputs: []InputChannel{
				newInput("port1", register.SignalIn1),
				newInput("port2", register.SignalIn2),
			},
			Outputs: []OutputChannel{newOutput("piezo", register.PID0, register.ASG0)},
		}
	},
	ModelFabryPerot: func() Model {
		return Model{
			Name: ModelFabryPerot,
			Inputs: []InputChannel{
				newInput("reflection", register.SignalIn1),
				newInput("transmission", register.SignalIn2),
			},
			Outputs: []OutputChannel{
				newOutput("piezo", register.PID0, register.ASG0),
				newOutput("temperature", register.PID1, register.ASG1),
			},
		}
	},
}

// Models returns the known classnames in alphabetical order.
func Models() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupModel returns a fresh copy of the named model.
func LookupModel(name string) (Model, error) {
	build, ok := models[name]
	if !ok {
		return Model{}, errors.Wrapf(ErrUnknownModel, "%q (known: %v)", name, Models())
	}
	return build(), nil
}

// defaultStage returns a stage that engages every output on the first input.
func (m Model) defaultStage() Stage {
	st := Stage{
		GainFactor: 1,
		Outputs:    make(map[string]StageOutput, len(m.Outputs)),
	}
	if len(m.Inputs) > 0 {
		st.Input = m.Inputs[0].Name
	}
	for _, o := range m.Outputs {
		st.Outputs[o.Name] = StageOutput{LockOn: true, ResetOffset: true}
	}
	return st
}

// adapt rewrites st so it only references channels of m. Missing outputs are
// added disengaged, unknown ones dropped, and an unknown input falls back to
// the first input of m.
func (m Model) adapt(st Stage) Stage {
	st = st.Clone()
	if _, ok := m.input(st.Input); !ok && len(m.Inputs) > 0 {
		st.Input = m.Inputs[0].Name
	}
	outputs := make(map[string]StageOutput, len(m.Outputs))
	for _, o := range m.Outputs {
		outputs[o.Name] = st.Outputs[o.Name]
	}
	st.Outputs = outputs
	return st
}

func (m Model) input(name string) (int, bool) {
	for i, in := range m.Inputs {
		if in.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (m Model) output(name string) (int, bool) {
	for i, out := range m.Outputs {
		if out.Name == name {
			return i, true
		}
	}
	return 0, false
}
