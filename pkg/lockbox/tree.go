package lockbox

import (
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// tree is the persisted form of a lockbox.
type tree struct {
	Classname string          `yaml:"classname" mapstructure:"classname"`
	AutoLock  *bool           `yaml:"auto_lock,omitempty" mapstructure:"auto_lock"`
	Inputs    []InputChannel  `yaml:"inputs" mapstructure:"inputs"`
	Outputs   []OutputChannel `yaml:"outputs" mapstructure:"outputs"`
	Sequence  []Stage         `yaml:"sequence" mapstructure:"sequence"`
}

// ToTree serializes the classname, channels, calibration and sequence into
// a nested key-value tree.
func (l *Lockbox) ToTree() (map[string]any, error) {
	l.mu.Lock()
	autoLock := l.state.AutoLock
	t := tree{
		Classname: l.state.Classname,
		AutoLock:  &autoLock,
		Inputs:    append([]InputChannel(nil), l.model.Inputs...),
		Outputs:   append([]OutputChannel(nil), l.model.Outputs...),
	}
	l.mu.Unlock()
	t.Sequence = l.seq.Snapshot()

	b, err := yaml.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal lockbox tree")
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal lockbox tree")
	}
	return out, nil
}

// FromTree loads a tree produced by ToTree. Hardware routing always comes
// from the model named by the classname; channel parameters are matched by
// name. Nothing is changed if the tree does not validate.
func (l *Lockbox) FromTree(in map[string]any) error {
	var t tree
	if err := decode(in, &t); err != nil {
		return errors.Wrap(err, "failed to decode lockbox tree")
	}

	if t.Classname == "" {
		t.Classname = l.Classname()
	}
	model, err := LookupModel(t.Classname)
	if err != nil {
		return err
	}
	for _, src := range t.Inputs {
		i, ok := model.input(src.Name)
		if !ok {
			return errors.Wrapf(ErrUnresolvedInput, "%q in %s", src.Name, model.Name)
		}
		model.Inputs[i].LockWindow = src.LockWindow
		model.Inputs[i].Calibration = src.Calibration
	}
	for _, src := range t.Outputs {
		i, ok := model.output(src.Name)
		if !ok {
			return errors.Wrapf(ErrUnknownOutput, "%q in %s", src.Name, model.Name)
		}
		dst := &model.Outputs[i]
		dst.SweepFrequency = src.SweepFrequency
		dst.SweepAmplitude = src.SweepAmplitude
		dst.SweepOffset = src.SweepOffset
		dst.SweepWaveform = src.SweepWaveform
		dst.DesiredUnityGainFrequency = src.DesiredUnityGainFrequency
	}
	for _, st := range t.Sequence {
		if err := model.validate(st); err != nil {
			return err
		}
	}

	if err := l.SetClassname(model.Name); err != nil {
		return err
	}

	l.mu.Lock()
	l.model.Inputs = model.Inputs
	l.model.Outputs = model.Outputs
	if t.Sequence != nil {
		l.seq.replace(t.Sequence)
	}
	l.notify()
	l.mu.Unlock()

	if t.AutoLock != nil {
		l.SetAutoLock(*t.AutoLock)
	}
	return nil
}

// AppendStage appends a stage built from the model's default stage with
// attrs applied on top, e.g. {"gain_factor": 10, "duration": 0.5}.
// Numeric durations are seconds.
func (l *Lockbox) AppendStage(attrs map[string]any) (Stage, error) {
	l.mu.Lock()
	model := l.model
	l.mu.Unlock()

	st := model.defaultStage()
	if err := decode(attrs, &st); err != nil {
		return Stage{}, errors.Wrap(err, "invalid stage")
	}
	if err := model.validate(st); err != nil {
		return Stage{}, err
	}
	return l.seq.Append(st), nil
}

// validate checks that st only references channels of m.
func (m Model) validate(st Stage) error {
	if _, ok := m.input(st.Input); !ok {
		return errors.Wrapf(ErrUnresolvedInput, "stage %s: %q", st.DisplayName(), st.Input)
	}
	for name := range st.Outputs {
		if _, ok := m.output(name); !ok {
			return errors.Wrapf(ErrUnknownOutput, "stage %s: %q", st.DisplayName(), name)
		}
	}
	return nil
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads plain numbers as seconds.
func secondsToDurationHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if t != durationType || f == durationType {
		return data, nil
	}
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	}
	return data, nil
}
