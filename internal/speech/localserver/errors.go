package localserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/hushtype/hushtype/internal/speech/engine"
)

// ErrPortsExhausted means every port in the configured range is in use.
var ErrPortsExhausted = errors.New("no free port in configured range")

// StartError is a failed server startup with whatever diagnostics the
// process left behind.
type StartError struct {
	Op       string
	ExitCode int // -1 when the process never exited
	Stderr   string
	// Uptime is how long the process lived before exiting; zero when it
	// never exited (timeout, spawn failure).
	Uptime time.Duration
	// SpawnFailed marks a binary that could not be executed at all.
	SpawnFailed bool
	Err         error
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *StartError) Unwrap() error { return e.Err }

// NotReadyError rejects a transcription against a server that is not ready.
// Requests are never queued while the server starts or recovers.
type NotReadyError struct {
	State engine.ServerState
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("inference server not ready (state %s)", e.State)
}

// ModelError means the model artifacts on disk are missing or implausible.
type ModelError struct {
	Path string
	Err  error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Path, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }
