package lockbox

import (
	"sort"
	"strconv"
	"time"
)

// StageOutput tells a stage what to do with one output.
type StageOutput struct {
	// LockOn engages feedback on the output. When false the output's PID is
	// disengaged for the stage.
	LockOn bool `json:"lockOn" yaml:"lock_on" mapstructure:"lock_on"`
	// ResetOffset zeroes the integrator before LockOn is applied.
	ResetOffset bool `json:"resetOffset" yaml:"reset_offset" mapstructure:"reset_offset"`
}

// Stage is one step of the lock recipe.
type Stage struct {
	Index        int                    `json:"index" yaml:"-" mapstructure:"-"`
	Name         string                 `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	GainFactor   float64                `json:"gainFactor" yaml:"gain_factor" mapstructure:"gain_factor"`
	Input        string                 `json:"input" yaml:"input" mapstructure:"input"`
	Setpoint     float64                `json:"setpoint" yaml:"setpoint" mapstructure:"setpoint"`
	Outputs      map[string]StageOutput `json:"outputs" yaml:"outputs" mapstructure:"outputs"`
	Duration     time.Duration          `json:"duration" yaml:"duration" mapstructure:"duration"`
	FunctionCall string                 `json:"functionCall,omitempty" yaml:"function_call,omitempty" mapstructure:"function_call"`
}

// DisplayName returns the user-assigned name, or the index if there is none.
func (s Stage) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return strconv.Itoa(s.Index)
}

// Clone returns a deep copy of the stage.
func (s Stage) Clone() Stage {
	c := s
	if s.Outputs != nil {
		c.Outputs = make(map[string]StageOutput, len(s.Outputs))
		for k, v := range s.Outputs {
			c.Outputs[k] = v
		}
	}
	return c
}

// outputNames returns the output names of the stage in a stable order.
func (s Stage) outputNames() []string {
	names := make([]string, 0, len(s.Outputs))
	for name := range s.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
