package control

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Config holds configuration for the vmrun invoker.
type Config struct {
	// VMRunPath is the path to the vmrun binary (default: "vmrun").
	VMRunPath string

	// HostType is the vmrun -T argument, e.g. "ws" for Workstation.
	HostType string

	// GuestUser and GuestPass authenticate in-guest operations. The
	// password must never appear in log output.
	GuestUser string
	GuestPass string

	// DefaultTimeout applies when a call passes no timeout.
	DefaultTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		VMRunPath:      "vmrun",
		HostType:       "ws",
		DefaultTimeout: 100 * time.Second,
	}
}

// VMRun is an Invoker backed by the vmrun command-line utility.
type VMRun struct {
	config *Config
}

// NewVMRun creates a vmrun invoker with the given configuration.
func NewVMRun(config *Config) *VMRun {
	if config == nil {
		config = DefaultConfig()
	}
	if config.VMRunPath == "" {
		config.VMRunPath = "vmrun"
	}
	if config.HostType == "" {
		config.HostType = "ws"
	}
	if config.DefaultTimeout == 0 {
		config.DefaultTimeout = 100 * time.Second
	}
	return &VMRun{config: config}
}

// Available reports whether the vmrun utility can be found on the host.
func (v *VMRun) Available() bool {
	_, err := exec.LookPath(v.config.VMRunPath)
	return err == nil
}

// InvokeStrict runs a control command and fails on non-zero exit.
func (v *VMRun) InvokeStrict(ctx context.Context, args []string, timeout time.Duration) (*types.ControlResult, error) {
	result, err := v.invoke(ctx, args, timeout)
	if err != nil {
		return result, err
	}
	if result.ExitCode != 0 {
		return result, &types.ControlError{
			Op:       op(args),
			ExitCode: result.ExitCode,
			Stderr:   firstNonEmpty(result.Stderr, result.Stdout),
			Err:      errors.New("non-zero exit"),
		}
	}
	return result, nil
}

// InvokeTolerant runs a control command and returns the exit code as data.
func (v *VMRun) InvokeTolerant(ctx context.Context, args []string, timeout time.Duration) (*types.ControlResult, error) {
	return v.invoke(ctx, args, timeout)
}

// invoke runs vmrun with credentials attached and output captured. Only
// the operation arguments are logged; the credential pair is redacted.
func (v *VMRun) invoke(ctx context.Context, args []string, timeout time.Duration) (*types.ControlResult, error) {
	if timeout == 0 {
		timeout = v.config.DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := []string{
		"-T", v.config.HostType,
		"-gu", v.config.GuestUser,
		"-gp", v.config.GuestPass,
	}
	argv = append(argv, args...)

	logging.Debug("invoking vmrun",
		logging.Strings("args", args),
		logging.Duration("timeout", timeout),
	)

	cmd := exec.CommandContext(ctx, v.config.VMRunPath, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &types.ControlResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &types.ControlError{Op: op(args), Err: types.ErrTimeout}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Transport failure: vmrun could not be started at all.
		return nil, &types.ControlError{Op: op(args), Err: err}
	}

	return result, nil
}

// op returns the control command verb for error context.
func op(args []string) string {
	if len(args) == 0 {
		return "invoke"
	}
	return args[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Verify interface compliance at compile time
var _ Invoker = (*VMRun)(nil)
