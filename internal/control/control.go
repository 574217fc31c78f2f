// Package control defines the interface to the external VM-control mechanism.
// The mechanism is opaque: every operation is a synchronous, blocking command
// invocation with an explicit timeout and captured output.
package control

import (
	"context"
	"time"

	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Invoker issues a single blocking control command. Implementations carry
// the guest credentials and attach them to every invocation; callers never
// see or handle credentials.
//
// Both variants fail with a *types.ControlError wrapping types.ErrTimeout
// when the deadline expires, and with a transport error when the control
// utility cannot be launched at all.
type Invoker interface {
	// InvokeStrict fails with *types.ControlError when the command exits
	// non-zero.
	InvokeStrict(ctx context.Context, args []string, timeout time.Duration) (*types.ControlResult, error)

	// InvokeTolerant never fails on exit code; the result carries it as
	// data. Only timeout and transport failures are errors.
	InvokeTolerant(ctx context.Context, args []string, timeout time.Duration) (*types.ControlResult, error)
}
