package lockbox

import (
	"errors"
	"fmt"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeLocked        Outcome = "locked"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeConfigError   Outcome = "config_error"
	OutcomeHardwareError Outcome = "hardware_error"
	OutcomeCallbackError Outcome = "callback_error"
)

// Result is the outcome of a lock run.
type Result struct {
	RunID   string  `json:"runId"`
	Outcome Outcome `json:"outcome"`
	// Stage is the index of the last stage entered, -1 if none was.
	Stage int    `json:"stage"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// OK reports whether the run ended locked.
func (r Result) OK() bool {
	return r.Outcome == OutcomeLocked
}

func newResult(runID string, stage int, err error) Result {
	res := Result{
		RunID:   runID,
		Outcome: classify(err),
		Stage:   stage,
	}
	if res.Outcome != OutcomeLocked && res.Outcome != OutcomeCancelled {
		res.Err = err
		res.Error = err.Error()
	}
	return res
}

func classify(err error) Outcome {
	var cbErr *callbackError
	switch {
	case err == nil:
		return OutcomeLocked
	case isCancelled(err):
		return OutcomeCancelled
	case errors.As(err, &cbErr):
		return OutcomeCallbackError
	case IsHardwareError(err):
		return OutcomeHardwareError
	default:
		return OutcomeConfigError
	}
}

// callbackError wraps an error returned by a stage callback.
type callbackError struct {
	name string
	err  error
}

func (e *callbackError) Error() string {
	return fmt.Sprintf("callback %s failed: %v", e.name, e.err)
}

func (e *callbackError) Unwrap() error { return e.err }
