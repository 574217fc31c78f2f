package sandbox

import (
	"context"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/control"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/guest"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Manager owns access to the single guest. The guest is one shared
// mutable resource (one filesystem, one power state, one snapshot
// lineage), so at most one session may be active at a time; the gate
// serializes acquisition. The manager is explicitly constructed and
// passed to callers; there is no package-level instance.
type Manager struct {
	bridge *guest.Bridge
	exec   *Executor
	docs   *DocumentAnalyzer

	// gate has capacity one; holding the slot means holding the guest.
	gate chan struct{}
}

// NewManager creates a session manager over the given invoker.
func NewManager(inv control.Invoker, cfg *guest.Config) *Manager {
	bridge := guest.NewBridge(inv, cfg)
	return &Manager{
		bridge: bridge,
		exec:   NewExecutor(bridge),
		docs:   NewDocumentAnalyzer(bridge),
		gate:   make(chan struct{}, 1),
	}
}

// Acquire blocks until the guest is free (or ctx is done) and returns a
// new session holding the exclusive slot. The caller must Close the
// session; Close releases the slot on every path.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	select {
	case m.gate <- struct{}{}:
		return m.newSession(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire returns a session immediately or fails fast with
// types.ErrSessionActive when another session holds the guest.
func (m *Manager) TryAcquire() (*Session, error) {
	select {
	case m.gate <- struct{}{}:
		return m.newSession(), nil
	default:
		return nil, types.ErrSessionActive
	}
}

func (m *Manager) newSession() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		bridge: m.bridge,
		exec:   m.exec,
		docs:   m.docs,
		ctx:    ctx,
		cancel: cancel,
		state:  types.SessionStopped,
		gate:   func() { <-m.gate },
	}
}

// VMStatus reports the guest power state. The listing is read-only, so
// it does not take the session gate.
func (m *Manager) VMStatus(ctx context.Context) types.VMStatus {
	return m.bridge.Status(ctx)
}

// StartGuest powers on the guest and ensures the workspace directory,
// outside of any analysis session. Fails fast when a session is active.
func (m *Manager) StartGuest(ctx context.Context, mode types.StartMode) error {
	release, err := m.hold()
	if err != nil {
		return err
	}
	defer release()

	if err := m.bridge.Start(ctx, mode); err != nil {
		return err
	}
	return m.bridge.EnsureDirectory(ctx, m.bridge.WorkspaceRoot())
}

// StopGuest powers off the guest outside of any analysis session.
func (m *Manager) StopGuest(ctx context.Context, mode types.StopMode) error {
	release, err := m.hold()
	if err != nil {
		return err
	}
	defer release()
	return m.bridge.Stop(ctx, mode)
}

// Reset forces a revert to the clean snapshot outside of any analysis
// session.
func (m *Manager) Reset(ctx context.Context) error {
	release, err := m.hold()
	if err != nil {
		return err
	}
	defer release()
	return m.bridge.RevertToClean(ctx, "")
}

// Snapshot records the current guest state under the given name.
func (m *Manager) Snapshot(ctx context.Context, name string) error {
	release, err := m.hold()
	if err != nil {
		return err
	}
	defer release()
	return m.bridge.CreateSnapshot(ctx, name)
}

// hold takes the guest slot without creating a session.
func (m *Manager) hold() (func(), error) {
	select {
	case m.gate <- struct{}{}:
		return func() { <-m.gate }, nil
	default:
		return nil, types.ErrSessionActive
	}
}
