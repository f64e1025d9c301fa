package events

import "encoding/json"

// Event name constants
const (
	StageAdded          = "sequence.stage_added"
	StageRemoved        = "sequence.stage_removed"
	StageEntered        = "lockbox.stage_entered"
	Locked              = "lockbox.locked"
	Unlocked            = "lockbox.unlocked"
	ClassnameChanged    = "lockbox.classname"
	CalibrationDone     = "calibration.done"
	CalibrationSchedule = "calibration.scheduled"
)

// Observer receives lockbox notifications. Implementations must not block.
type Observer interface {
	Publish(name string, payload any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(string, any) {}

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// StageEvent is the payload of sequence.stage_added, sequence.stage_removed
// and lockbox.stage_entered.
type StageEvent struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	RunID string `json:"runId,omitempty"`
	Ts    int64  `json:"ts"`
}

// LockEvent is the payload of lockbox.locked and lockbox.unlocked.
type LockEvent struct {
	RunID  string `json:"runId,omitempty"`
	Reason string `json:"reason,omitempty"`
	Ts     int64  `json:"ts"`
}

// ClassnameEvent is the payload of lockbox.classname.
type ClassnameEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// CalibrationEvent is the payload of calibration.done.
type CalibrationEvent struct {
	Input     string  `json:"input"`
	Mean      float64 `json:"mean"`
	Amplitude float64 `json:"amplitude"`
	Ts        int64   `json:"ts"`
}

// ScheduleEvent is the payload of calibration.scheduled.
type ScheduleEvent struct {
	Next int64 `json:"next"`
	Ts   int64 `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.StageEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Index, payload.Name)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
