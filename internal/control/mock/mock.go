// Package mock provides a recording implementation of control.Invoker for testing.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/control"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Call records one control invocation.
type Call struct {
	Args     []string
	Timeout  time.Duration
	Tolerant bool
}

// Op returns the control command verb of the recorded call.
func (c Call) Op() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Invoker is a recording mock for the control interface. Every invocation
// is appended to the call log; behavior is customizable per test through
// the OnInvoke hook.
type Invoker struct {
	mu    sync.Mutex
	calls []Call

	// OnInvoke, when set, decides the outcome of every invocation. The
	// call is recorded either way.
	OnInvoke func(args []string, tolerant bool) (*types.ControlResult, error)
}

// New creates a new recording invoker.
func New() *Invoker {
	return &Invoker{}
}

// InvokeStrict records the call and fails on a hooked non-zero exit.
func (m *Invoker) InvokeStrict(ctx context.Context, args []string, timeout time.Duration) (*types.ControlResult, error) {
	result, err := m.invoke(ctx, args, timeout, false)
	if err != nil {
		return result, err
	}
	if result.ExitCode != 0 {
		return result, &types.ControlError{
			Op:       m.op(args),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      errors.New("non-zero exit"),
		}
	}
	return result, nil
}

// InvokeTolerant records the call and returns the exit code as data.
func (m *Invoker) InvokeTolerant(ctx context.Context, args []string, timeout time.Duration) (*types.ControlResult, error) {
	return m.invoke(ctx, args, timeout, true)
}

func (m *Invoker) invoke(ctx context.Context, args []string, timeout time.Duration, tolerant bool) (*types.ControlResult, error) {
	m.mu.Lock()
	recorded := Call{Args: append([]string(nil), args...), Timeout: timeout, Tolerant: tolerant}
	m.calls = append(m.calls, recorded)
	hook := m.OnInvoke
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &types.ControlError{Op: m.op(args), Err: err}
	}

	if hook != nil {
		return hook(args, tolerant)
	}

	// Default behavior: every command succeeds with empty output.
	return &types.ControlResult{ExitCode: 0, Duration: time.Millisecond}, nil
}

func (m *Invoker) op(args []string) string {
	if len(args) == 0 {
		return "invoke"
	}
	return args[0]
}

// Calls returns a copy of the recorded call log.
func (m *Invoker) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// LastCall returns the most recent recorded call, or a zero Call when
// nothing was invoked.
func (m *Invoker) LastCall() Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return Call{}
	}
	return m.calls[len(m.calls)-1]
}

// CallsFor returns all recorded calls whose verb matches op.
func (m *Invoker) CallsFor(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Op() == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded call log.
func (m *Invoker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Verify interface compliance at compile time
var _ control.Invoker = (*Invoker)(nil)
