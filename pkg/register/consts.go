package register

// Register layout of the board. Module registers are addressed as
// "<module>.<field>", e.g. "pid0.ival".
const (
	SignalIn1 = "in1"
	SignalIn2 = "in2"
	Out1      = "out1"
	Out2      = "out2"

	PID0 = "pid0"
	PID1 = "pid1"
	ASG0 = "asg0"
	ASG1 = "asg1"
)

// PID module fields.
const (
	FieldP        = "p"
	FieldI        = "i"
	FieldIval     = "ival"
	FieldSetpoint = "setpoint"
	FieldInput    = "input"
)

// ASG (sweep generator) fields.
const (
	FieldWaveform  = "waveform"
	FieldFrequency = "frequency"
	FieldAmplitude = "amplitude"
	FieldOffset    = "offset"
	FieldEnabled   = "enabled"
)

// OutputLimit is the symmetric range of the analog outputs in volts.
const OutputLimit = 1.0

var signals = []string{SignalIn1, SignalIn2}

var (
	pidModules = []string{PID0, PID1}
	asgModules = []string{ASG0, ASG1}
	outputs    = []string{Out1, Out2}
)

// Key builds the register key of a module field.
func Key(module, field string) string {
	return module + "." + field
}
