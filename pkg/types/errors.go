// Package types defines error types for the sandbox analysis service.
package types

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrTimeout marks a control command that exceeded its deadline. It
	// is wrapped by ControlError so callers can distinguish "guest hung"
	// from "guest command exited non-zero" with errors.Is.
	ErrTimeout = errors.New("control operation timed out")

	ErrSessionActive     = errors.New("another sandbox session is active")
	ErrSessionClosed     = errors.New("sandbox session is closed")
	ErrSessionNotRunning = errors.New("sandbox session is not running")
)

// ControlError represents a failure of the external VM-control mechanism.
type ControlError struct {
	Op       string // the control command verb, e.g. "start", "runProgramInGuest"
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ControlError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("control %s failed: exit code %d: %s", e.Op, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("control %s failed: %v", e.Op, e.Err)
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// TransferError represents a failed file copy across the host/guest boundary.
type TransferError struct {
	Source string
	Dest   string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s -> %s: %v", e.Source, e.Dest, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// CompileError represents a failed in-guest compilation.
type CompileError struct {
	Source GuestPath
	Stderr string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("compilation of %s failed: %s", e.Source, e.Stderr)
	}
	return fmt.Sprintf("compilation of %s failed: %v", e.Source, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// ExecutionError represents a failed strict-mode in-guest execution.
type ExecutionError struct {
	Path GuestPath
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s failed: %v", e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError is returned when a file's extension maps to no
// runnable profile. It short-circuits before any guest I/O.
type UnsupportedTypeError struct {
	Ext      string
	Category Category
}

func (e *UnsupportedTypeError) Error() string {
	if e.Category == CategoryDocument {
		return fmt.Sprintf("document type %q is not executable", e.Ext)
	}
	return fmt.Sprintf("unsupported file type %q", e.Ext)
}
