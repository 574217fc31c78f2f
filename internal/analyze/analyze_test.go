package analyze

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/control/mock"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/guest"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/sandbox"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

func testService(t *testing.T) (*Service, *Store, *mock.Invoker) {
	t.Helper()
	inv := mock.New()
	manager := sandbox.NewManager(inv, &guest.Config{
		VMXPath:        "/vms/analysis.vmx",
		CleanSnapshot:  "CleanSnapshot1",
		WorkspaceRoot:  "/home/kali/SandboxAnalysis",
		DefaultTimeout: 10 * time.Second,
	})
	store := NewStore()
	svc := NewService(manager, store, &Config{ResultsDir: t.TempDir()})
	return svc, store, inv
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("fixture write failed: %v", err)
	}
	return p
}

func waitForTerminal(t *testing.T, store *Store, id string) Progress {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			p, _ := store.Get(id)
			t.Fatalf("analysis %s did not finish: %+v", id, p)
		case <-time.After(5 * time.Millisecond):
		}
		p, ok := store.Get(id)
		if !ok {
			t.Fatalf("analysis %s missing from store", id)
		}
		if p.Status == StatusDone || p.Status == StatusError {
			return p
		}
	}
}

func TestSubmitTracedPipeline(t *testing.T) {
	svc, store, inv := testService(t)
	src := writeFixture(t, "sample.py", "print('hi')\n")

	id := svc.Submit(types.HostPath(src))
	progress := waitForTerminal(t, store, id)

	if progress.Status != StatusDone {
		t.Fatalf("status = %s (%s), want done", progress.Status, progress.Message)
	}
	if progress.Percent != 100 {
		t.Errorf("percent = %d, want 100", progress.Percent)
	}
	if progress.Report == nil || progress.Report.TraceLog == "" {
		t.Errorf("expected traced report, got %+v", progress.Report)
	}
	if progress.TraceFile == "" {
		t.Error("expected retrieved trace file path")
	}
	if progress.Output == "" {
		t.Error("expected summary output")
	}

	// The guest was reverted at the end of the pipeline.
	calls := inv.Calls()
	if calls[len(calls)-1].Op() != "revertToSnapshot" {
		t.Errorf("last control command = %s, want revertToSnapshot", calls[len(calls)-1].Op())
	}
}

func TestSubmitDocumentPipeline(t *testing.T) {
	svc, store, _ := testService(t)
	src := writeFixture(t, "report.pdf", "%PDF-1.4\n")

	id := svc.Submit(types.HostPath(src))
	progress := waitForTerminal(t, store, id)

	if progress.Status != StatusDone {
		t.Fatalf("status = %s (%s), want done", progress.Status, progress.Message)
	}
	if progress.Report == nil || progress.Report.DocumentLog == "" {
		t.Errorf("expected document report, got %+v", progress.Report)
	}
}

func TestSubmitUnsupportedFile(t *testing.T) {
	svc, store, inv := testService(t)
	src := writeFixture(t, "archive.zip", "PK")

	id := svc.Submit(types.HostPath(src))
	progress := waitForTerminal(t, store, id)

	if progress.Status != StatusError {
		t.Fatalf("status = %s, want error", progress.Status)
	}

	// Even a rejected file ends with a revert: the session was open and
	// the file had already been copied into the guest.
	calls := inv.Calls()
	if len(calls) == 0 || calls[len(calls)-1].Op() != "revertToSnapshot" {
		t.Error("pipeline must revert even on classification failure")
	}
}

func TestSubmitFailedTargetStillSucceeds(t *testing.T) {
	svc, store, inv := testService(t)
	inv.OnInvoke = func(args []string, tolerant bool) (*types.ControlResult, error) {
		if tolerant {
			return &types.ControlResult{ExitCode: 1, Stderr: "Traceback"}, nil
		}
		return &types.ControlResult{}, nil
	}
	src := writeFixture(t, "crash.py", "raise SystemExit(1)\n")

	id := svc.Submit(types.HostPath(src))
	progress := waitForTerminal(t, store, id)

	if progress.Status != StatusDone {
		t.Fatalf("traced target failure must not fail the analysis: %s (%s)", progress.Status, progress.Message)
	}
	if progress.Report.Outcome == nil || progress.Report.Outcome.ExitCode != 1 {
		t.Errorf("expected exit 1 as data, got %+v", progress.Report.Outcome)
	}
}

func TestSubmitGuestStartFailure(t *testing.T) {
	svc, store, inv := testService(t)
	inv.OnInvoke = func(args []string, tolerant bool) (*types.ControlResult, error) {
		if args[0] == "start" {
			return nil, &types.ControlError{Op: "start", Err: errors.New("vmx not found")}
		}
		return &types.ControlResult{}, nil
	}
	src := writeFixture(t, "sample.py", "x")

	id := svc.Submit(types.HostPath(src))
	progress := waitForTerminal(t, store, id)

	if progress.Status != StatusError {
		t.Fatalf("status = %s, want error", progress.Status)
	}
}

func TestStoreGetUnknownID(t *testing.T) {
	store := NewStore()
	if _, ok := store.Get("nope"); ok {
		t.Error("expected miss for unknown ID")
	}
}
