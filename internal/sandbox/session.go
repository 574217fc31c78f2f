package sandbox

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/classify"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/guest"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Session is the live orchestration unit over the single shared guest.
// All operations serialize on the session mutex, so within one session
// guest commands execute strictly in request order.
//
// Every exit path routes through revert: Close always attempts to restore
// the clean snapshot, and a failed revert marks the session tainted
// instead of silently reporting a clean guest.
type Session struct {
	bridge *guest.Bridge
	exec   *Executor
	docs   *DocumentAnalyzer

	// ctx is the session's cancellation signal. Cancelling it aborts the
	// in-flight guest command; Close then hard-stops the guest before
	// reverting, so a hung payload cannot block the sandbox.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     types.SessionState
	artifacts []types.AnalysisArtifact
	closed    bool

	release sync.Once
	gate    func()
}

// State returns the current lifecycle state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Artifacts returns a copy of the artifacts produced since the last
// clean revert.
func (s *Session) Artifacts() []types.AnalysisArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AnalysisArtifact(nil), s.artifacts...)
}

// Start powers on the guest headless and ensures the workspace directory
// exists. The session transitions Stopped -> Starting -> Running; on
// failure it returns to Stopped and the error surfaces to the caller.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrSessionClosed
	}
	if s.state != types.SessionStopped {
		return fmt.Errorf("start from state %s: %w", s.state, types.ErrSessionNotRunning)
	}

	ctx, done := s.opContext(ctx)
	defer done()

	s.state = types.SessionStarting
	if err := s.bridge.Start(ctx, types.StartHeadless); err != nil {
		s.state = types.SessionStopped
		return err
	}
	if err := s.bridge.EnsureDirectory(ctx, s.bridge.WorkspaceRoot()); err != nil {
		s.state = types.SessionStopped
		return err
	}
	s.state = types.SessionRunning
	return nil
}

// SubmitFile transfers a host file into the guest workspace and returns
// its guest path.
func (s *Session) SubmitFile(ctx context.Context, src types.HostPath) (types.GuestPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(); err != nil {
		return "", err
	}
	ctx, done := s.opContext(ctx)
	defer done()
	return s.bridge.TransferToGuest(ctx, src)
}

// SubmitDirectory transfers every regular file under a host directory
// into the guest workspace. The copies share the same uncommitted guest
// state; batched submissions are not isolated from one another unless a
// revert is interposed.
func (s *Session) SubmitDirectory(ctx context.Context, dir types.HostPath) ([]types.GuestPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(); err != nil {
		return nil, err
	}
	ctx, done := s.opContext(ctx)
	defer done()

	var copied []types.GuestPath
	err := filepath.WalkDir(string(dir), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		gp, err := s.bridge.TransferToGuest(ctx, types.HostPath(p))
		if err != nil {
			return err
		}
		copied = append(copied, gp)
		return nil
	})
	if err != nil {
		if _, ok := err.(*types.TransferError); !ok {
			err = &types.TransferError{Source: string(dir), Err: err}
		}
		return copied, err
	}
	return copied, nil
}

// RunAnalysis performs one unit of work on a previously submitted guest
// file: classify, then execute, trace, or document-analyze according to
// the content profile and options.
func (s *Session) RunAnalysis(ctx context.Context, path types.GuestPath, opts types.AnalysisOptions) (*types.AnalysisReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(); err != nil {
		return nil, err
	}
	ctx, done := s.opContext(ctx)
	defer done()

	s.state = types.SessionAnalyzing
	defer func() {
		if s.state == types.SessionAnalyzing {
			s.state = types.SessionRunning
		}
	}()

	profile := classify.Classify(string(path))
	report := &types.AnalysisReport{
		ID:      uuid.NewString(),
		Path:    path,
		Profile: profile,
	}

	switch profile.Category {
	case types.CategoryUnsupported:
		// Short-circuit before any guest I/O.
		return nil, &types.UnsupportedTypeError{Ext: profile.Ext, Category: profile.Category}

	case types.CategoryDocument:
		logName := fmt.Sprintf("document_analysis_%s.txt", report.ID)
		logPath, err := s.docs.Analyze(ctx, path, logName)
		if err != nil {
			return nil, err
		}
		report.DocumentLog = logPath
		s.artifacts = append(s.artifacts, types.AnalysisArtifact{Guest: logPath})

	default:
		if opts.Trace {
			logName := fmt.Sprintf("analysis_log_%s.txt", report.ID)
			logPath, result, err := s.exec.TraceSyscalls(ctx, path, opts.Args, logName)
			if err != nil {
				return nil, err
			}
			report.TraceLog = logPath
			report.Outcome = result
			if logPath != "" {
				s.artifacts = append(s.artifacts, types.AnalysisArtifact{Guest: logPath})
			}
		} else {
			result, err := s.exec.Execute(ctx, path, opts.Args)
			if err != nil {
				return nil, err
			}
			report.Outcome = result
		}
	}

	return report, nil
}

// RetrieveArtifact copies an analysis artifact from the guest to the
// host and marks it retrieved.
func (s *Session) RetrieveArtifact(ctx context.Context, src types.GuestPath, dest types.HostPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(); err != nil {
		return err
	}
	ctx, done := s.opContext(ctx)
	defer done()

	if err := s.bridge.TransferFromGuest(ctx, src, dest); err != nil {
		return err
	}
	for i := range s.artifacts {
		if s.artifacts[i].Guest == s.bridge.Resolve(string(src)) || s.artifacts[i].Guest == src {
			s.artifacts[i].Retrieved = true
			s.artifacts[i].Host = dest
		}
	}
	return nil
}

// ResetEnvironment forces a revert to the clean snapshot mid-session,
// discarding all guest state accumulated so far, and returns the session
// to Running. A failed revert taints the session and surfaces the error,
// since the caller explicitly asked for a clean guest.
func (s *Session) ResetEnvironment(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireRunning(); err != nil {
		return err
	}
	ctx, done := s.opContext(ctx)
	defer done()

	s.state = types.SessionReverting
	if err := s.bridge.RevertToClean(ctx, ""); err != nil {
		s.state = types.SessionTainted
		return err
	}
	s.artifacts = nil
	if err := s.bridge.EnsureDirectory(ctx, s.bridge.WorkspaceRoot()); err != nil {
		s.state = types.SessionRunning
		return err
	}
	s.state = types.SessionRunning
	return nil
}

// Status reports the observed guest power state.
func (s *Session) Status(ctx context.Context) types.VMStatus {
	return s.bridge.Status(ctx)
}

// Cancel raises the session's cancellation signal, aborting the in-flight
// guest command, then closes the session. Close hard-stops the guest
// before reverting when the session was cancelled.
func (s *Session) Cancel() {
	s.cancel()
	s.Close()
}

// Close ends the session. The revert to the clean snapshot is always
// attempted and its failure is logged, never returned: the exit path is
// total by contract. A failed revert leaves the session Tainted rather
// than Clean. Close is idempotent and always releases the session gate.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	cancelled := s.ctx.Err() != nil
	s.state = types.SessionReverting

	// The session context may already be dead; cleanup runs on its own
	// context so cancellation cannot skip the revert.
	ctx := context.Background()

	if cancelled {
		if err := s.bridge.Stop(ctx, types.StopHard); err != nil {
			logging.Warn("hard stop on cancellation failed", logging.Err(err))
		}
	}

	if err := s.bridge.RevertToClean(ctx, ""); err != nil {
		logging.Error("revert to clean snapshot failed, guest may be tainted", logging.Err(err))
		s.state = types.SessionTainted
	} else {
		s.state = types.SessionClean
		s.artifacts = nil
	}

	s.cancel()
	s.release.Do(s.gate)
}

// requireRunning checks that analysis operations are permitted.
func (s *Session) requireRunning() error {
	if s.closed {
		return types.ErrSessionClosed
	}
	if s.state != types.SessionRunning {
		return types.ErrSessionNotRunning
	}
	return nil
}

// opContext ties an operation context to the session's cancellation
// signal, so Cancel aborts whatever guest command is in flight.
func (s *Session) opContext(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}
