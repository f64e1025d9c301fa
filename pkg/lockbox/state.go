package lockbox

// Phase is the state of the lock sequencer.
type Phase string

const (
	PhaseIdle        Phase = "Idle"
	PhaseCalibrating Phase = "Calibrating"
	PhaseSequencing  Phase = "Sequencing"
	PhaseLocked      Phase = "Locked"
	PhaseUnlocked    Phase = "Unlocked"
	PhaseAborted     Phase = "Aborted"
)

// State is a copy of the lockbox state. Only the sequencer and the relock
// supervisor change the live state.
type State struct {
	Classname         string `json:"classname"`
	Phase             Phase  `json:"phase"`
	CurrentStage      int    `json:"currentStage"`
	Locked            bool   `json:"locked"`
	AutoLock          bool   `json:"autoLock"`
	FirstStageCounter int    `json:"firstStageCounter"`
	Relocks           int    `json:"relocks"`
	RunID             string `json:"runId,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}
