// Package types defines the core domain types for the sandbox analysis service.
package types

import (
	"path"
	"strings"
	"time"
)

// GuestPath is a file path inside the guest VM. Guest paths are always
// forward-slash separated, regardless of the host operating system.
type GuestPath string

// HostPath is a file path on the host, following host-OS conventions.
type HostPath string

// IsAbs reports whether the guest path is absolute.
func (p GuestPath) IsAbs() bool {
	return strings.HasPrefix(string(p), "/")
}

// Base returns the last element of the guest path.
func (p GuestPath) Base() string {
	return path.Base(string(p))
}

// Join appends elements to the guest path using forward slashes.
func (p GuestPath) Join(elem ...string) GuestPath {
	parts := append([]string{string(p)}, elem...)
	return GuestPath(path.Join(parts...))
}

// Category classifies a file by how the sandbox should handle it.
type Category int

const (
	// CategoryUnsupported is the zero value so an unclassified file
	// defaults to the safest outcome: no guest I/O at all.
	CategoryUnsupported Category = iota

	// CategoryInterpreted files run directly under an interpreter.
	CategoryInterpreted

	// CategoryCompiled files are compiled in the guest before running.
	CategoryCompiled

	// CategoryDocument files are never executed, only inspected.
	CategoryDocument
)

// String returns the string representation of a Category.
func (c Category) String() string {
	switch c {
	case CategoryInterpreted:
		return "interpreted"
	case CategoryCompiled:
		return "compiled"
	case CategoryDocument:
		return "document"
	case CategoryUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// ContentProfile describes how a file's extension maps to a runtime.
// Runtime is the interpreter or compiler command for executable
// categories and empty for documents.
type ContentProfile struct {
	Ext      string
	Runtime  string
	Category Category
}

// ControlResult holds the captured output of a single control command.
// A non-zero ExitCode is not an error by itself; tolerant invocations
// return it as data.
type ControlResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// StartMode selects how the guest VM is started.
type StartMode string

const (
	StartHeadless StartMode = "nogui"
	StartGUI      StartMode = "gui"
)

// StopMode selects how the guest VM is stopped.
type StopMode string

const (
	StopSoft StopMode = "soft"
	StopHard StopMode = "hard"
)

// VMStatus represents the observed power state of the guest.
type VMStatus string

const (
	VMRunning VMStatus = "running"
	VMStopped VMStatus = "stopped"
	VMUnknown VMStatus = "unknown"
)

// SessionState represents the lifecycle state of a sandbox session.
type SessionState string

const (
	SessionStopped   SessionState = "stopped"
	SessionStarting  SessionState = "starting"
	SessionRunning   SessionState = "running"
	SessionAnalyzing SessionState = "analyzing"
	SessionReverting SessionState = "reverting"

	// SessionClean means the session ended and the guest was reverted
	// to the clean snapshot.
	SessionClean SessionState = "clean"

	// SessionTainted means the session ended but the revert failed, so
	// the guest may still carry analysis side effects.
	SessionTainted SessionState = "tainted"
)

// AnalysisArtifact is a file produced in the guest during analysis,
// optionally paired with the host location it was retrieved to.
type AnalysisArtifact struct {
	Guest     GuestPath `json:"guest"`
	Host      HostPath  `json:"host,omitempty"`
	Retrieved bool      `json:"retrieved"`
}

// AnalysisOptions control a single analysis request.
type AnalysisOptions struct {
	// Trace wraps execution with the in-guest syscall tracer. The traced
	// program's exit code is reported as data, never as an error.
	Trace bool `json:"trace"`

	// Args are passed to the analyzed program.
	Args []string `json:"args,omitempty"`
}

// AnalysisReport is the outcome of one analysis unit.
type AnalysisReport struct {
	ID      string         `json:"id"`
	Path    GuestPath      `json:"path"`
	Profile ContentProfile `json:"profile"`

	// Outcome holds the captured execution result. For traced runs this
	// is the tracer invocation result and may be nil when the transport
	// itself failed.
	Outcome *ControlResult `json:"outcome,omitempty"`

	TraceLog    GuestPath `json:"trace_log,omitempty"`
	DocumentLog GuestPath `json:"document_log,omitempty"`
}
