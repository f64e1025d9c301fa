package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrDaemonNotRunning is returned when the daemon is not running
	ErrDaemonNotRunning = errors.New("daemon not running")

	// ErrPermissionDenied is returned when the user does not have permission to perform the requested action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the daemon
	ErrNotFound = errors.New("404 not found")

	// ErrBusy is returned when the daemon is already running a sequence or a calibration
	ErrBusy = errors.New("lockbox is busy")
)

// StatusError is a non-2xx response from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func newStatusError(code int, body []byte) *StatusError {
	return &StatusError{Code: code, Message: strings.Trim(strings.TrimSpace(string(body)), `"`)}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("got %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrBusy:
		return e.Code == http.StatusConflict
	}
	return false
}
