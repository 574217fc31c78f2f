// Package guest provides file transfer and command execution across the
// host/guest boundary, built on the control invoker.
package guest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/control"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Config holds configuration for the guest bridge.
type Config struct {
	// VMXPath identifies the guest to the control mechanism.
	VMXPath string

	// CleanSnapshot is the default snapshot for RevertToClean.
	CleanSnapshot string

	// WorkspaceRoot is the guest-side base directory for transferred
	// files and logs. Relative guest paths resolve against it.
	WorkspaceRoot types.GuestPath

	// DefaultTimeout applies to control calls without an explicit timeout.
	DefaultTimeout time.Duration
}

// Bridge issues lifecycle and file operations against a single guest.
// It holds no mutable state; serialization of guest access is the
// session manager's responsibility.
type Bridge struct {
	inv    control.Invoker
	config *Config
}

// NewBridge creates a bridge over the given invoker.
func NewBridge(inv control.Invoker, config *Config) *Bridge {
	return &Bridge{inv: inv, config: config}
}

// WorkspaceRoot returns the guest workspace base directory.
func (b *Bridge) WorkspaceRoot() types.GuestPath {
	return b.config.WorkspaceRoot
}

// Resolve converts a guest path string to a GuestPath, resolving
// relative paths against the workspace root.
func (b *Bridge) Resolve(p string) types.GuestPath {
	if strings.HasPrefix(p, "/") {
		return types.GuestPath(p)
	}
	return b.config.WorkspaceRoot.Join(p)
}

// Start powers on the guest. There is no idempotency guarantee: starting
// an already-running guest may fail, and the transition is authoritative
// only after success.
func (b *Bridge) Start(ctx context.Context, mode types.StartMode) error {
	logging.Info("starting guest", logging.String("mode", string(mode)))
	_, err := b.inv.InvokeStrict(ctx, []string{"start", b.config.VMXPath, string(mode)}, 0)
	if err != nil {
		return fmt.Errorf("start guest: %w", err)
	}
	return nil
}

// Stop powers off the guest.
func (b *Bridge) Stop(ctx context.Context, mode types.StopMode) error {
	logging.Info("stopping guest", logging.String("mode", string(mode)))
	_, err := b.inv.InvokeStrict(ctx, []string{"stop", b.config.VMXPath, string(mode)}, 0)
	if err != nil {
		return fmt.Errorf("stop guest: %w", err)
	}
	return nil
}

// RevertToClean restores the guest to a snapshot, erasing all analysis
// side effects. An empty snapshot name uses the configured clean snapshot.
func (b *Bridge) RevertToClean(ctx context.Context, snapshot string) error {
	if snapshot == "" {
		snapshot = b.config.CleanSnapshot
	}
	logging.Info("reverting guest to snapshot", logging.String("snapshot", snapshot))
	_, err := b.inv.InvokeStrict(ctx, []string{"revertToSnapshot", b.config.VMXPath, snapshot}, 0)
	if err != nil {
		return fmt.Errorf("revert to snapshot %s: %w", snapshot, err)
	}
	return nil
}

// CreateSnapshot records the current guest state under the given name.
func (b *Bridge) CreateSnapshot(ctx context.Context, name string) error {
	logging.Info("creating guest snapshot", logging.String("snapshot", name))
	_, err := b.inv.InvokeStrict(ctx, []string{"snapshot", b.config.VMXPath, name}, 0)
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", name, err)
	}
	return nil
}

// Status reports the observed power state of the guest via the control
// mechanism's VM listing. Control failures yield VMUnknown, not an error.
func (b *Bridge) Status(ctx context.Context) types.VMStatus {
	result, err := b.inv.InvokeStrict(ctx, []string{"list"}, 0)
	if err != nil {
		return types.VMUnknown
	}
	if strings.Contains(result.Stdout, b.config.VMXPath) {
		return types.VMRunning
	}
	return types.VMStopped
}

// EnsureDirectory guarantees the directory exists in the guest on return.
// mkdir -p succeeds when the directory already exists, so no error needs
// to be swallowed to make the operation idempotent.
func (b *Bridge) EnsureDirectory(ctx context.Context, dir types.GuestPath) error {
	logging.Debug("ensuring guest directory", logging.String("dir", string(dir)))
	_, err := b.inv.InvokeStrict(ctx, []string{
		"runProgramInGuest", b.config.VMXPath, "/bin/mkdir", "-p", string(dir),
	}, 0)
	if err != nil {
		return fmt.Errorf("ensure guest directory %s: %w", dir, err)
	}
	return nil
}

// TransferToGuest copies a host file into the guest workspace. The
// destination is workspaceRoot/basename(src).
func (b *Bridge) TransferToGuest(ctx context.Context, src types.HostPath) (types.GuestPath, error) {
	hostSrc, err := filepath.Abs(string(src))
	if err != nil {
		return "", &types.TransferError{Source: string(src), Err: err}
	}
	if _, err := os.Stat(hostSrc); err != nil {
		return "", &types.TransferError{Source: hostSrc, Err: err}
	}

	dest := b.config.WorkspaceRoot.Join(filepath.Base(hostSrc))
	if err := b.EnsureDirectory(ctx, b.config.WorkspaceRoot); err != nil {
		return "", &types.TransferError{Source: hostSrc, Dest: string(dest), Err: err}
	}

	logging.Info("copying file to guest",
		logging.String("src", hostSrc),
		logging.String("dest", string(dest)),
	)
	_, err = b.inv.InvokeStrict(ctx, []string{
		"copyFileFromHostToGuest", b.config.VMXPath, hostSrc, string(dest),
	}, 0)
	if err != nil {
		return "", &types.TransferError{Source: hostSrc, Dest: string(dest), Err: err}
	}
	return dest, nil
}

// TransferFromGuest copies a guest file to the host, creating the host
// destination's parent directory when needed.
func (b *Bridge) TransferFromGuest(ctx context.Context, src types.GuestPath, dest types.HostPath) error {
	hostDest, err := filepath.Abs(string(dest))
	if err != nil {
		return &types.TransferError{Source: string(src), Dest: string(dest), Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(hostDest), 0755); err != nil {
		return &types.TransferError{Source: string(src), Dest: hostDest, Err: err}
	}

	guestSrc := b.Resolve(string(src))
	logging.Info("copying file from guest",
		logging.String("src", string(guestSrc)),
		logging.String("dest", hostDest),
	)
	_, err = b.inv.InvokeStrict(ctx, []string{
		"copyFileFromGuestToHost", b.config.VMXPath, string(guestSrc), hostDest,
	}, 0)
	if err != nil {
		return &types.TransferError{Source: string(guestSrc), Dest: hostDest, Err: err}
	}
	return nil
}

// RunOptions control in-guest command execution.
type RunOptions struct {
	// Tolerant delegates to the tolerant invoker variant: the command's
	// exit code becomes data instead of an error.
	Tolerant bool

	// Timeout overrides the bridge default for this call.
	Timeout time.Duration
}

// Run executes a program inside the guest.
func (b *Bridge) Run(ctx context.Context, argv []string, opts RunOptions) (*types.ControlResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("run: empty argv")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = b.config.DefaultTimeout
	}

	args := append([]string{"runProgramInGuest", b.config.VMXPath}, argv...)
	if opts.Tolerant {
		return b.inv.InvokeTolerant(ctx, args, timeout)
	}
	return b.inv.InvokeStrict(ctx, args, timeout)
}
