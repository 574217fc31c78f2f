package guest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/control/mock"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

func testBridge() (*Bridge, *mock.Invoker) {
	inv := mock.New()
	b := NewBridge(inv, &Config{
		VMXPath:        "/vms/analysis.vmx",
		CleanSnapshot:  "CleanSnapshot1",
		WorkspaceRoot:  "/home/kali/SandboxAnalysis",
		DefaultTimeout: 10 * time.Second,
	})
	return b, inv
}

func TestResolve(t *testing.T) {
	b, _ := testBridge()

	if got := b.Resolve("sample.py"); got != "/home/kali/SandboxAnalysis/sample.py" {
		t.Errorf("relative resolve = %s", got)
	}
	if got := b.Resolve("/tmp/absolute.py"); got != "/tmp/absolute.py" {
		t.Errorf("absolute resolve = %s", got)
	}
}

func TestLifecycleCommands(t *testing.T) {
	b, inv := testBridge()
	ctx := context.Background()

	if err := b.Start(ctx, types.StartHeadless); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := b.Stop(ctx, types.StopHard); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := b.RevertToClean(ctx, ""); err != nil {
		t.Fatalf("RevertToClean failed: %v", err)
	}
	if err := b.CreateSnapshot(ctx, "PostSetup"); err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}

	calls := inv.Calls()
	want := [][]string{
		{"start", "/vms/analysis.vmx", "nogui"},
		{"stop", "/vms/analysis.vmx", "hard"},
		{"revertToSnapshot", "/vms/analysis.vmx", "CleanSnapshot1"},
		{"snapshot", "/vms/analysis.vmx", "PostSetup"},
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(calls))
	}
	for i, w := range want {
		got := calls[i].Args
		if len(got) != len(w) {
			t.Fatalf("call %d: args %v, want %v", i, got, w)
		}
		for j := range w {
			if got[j] != w[j] {
				t.Errorf("call %d arg %d = %q, want %q", i, j, got[j], w[j])
			}
		}
	}
}

func TestRevertUsesExplicitSnapshot(t *testing.T) {
	b, inv := testBridge()

	if err := b.RevertToClean(context.Background(), "Baseline2"); err != nil {
		t.Fatalf("RevertToClean failed: %v", err)
	}
	last := inv.LastCall()
	if last.Args[2] != "Baseline2" {
		t.Errorf("expected explicit snapshot, got %v", last.Args)
	}
}

func TestStatus(t *testing.T) {
	b, inv := testBridge()
	ctx := context.Background()

	inv.OnInvoke = func(args []string, tolerant bool) (*types.ControlResult, error) {
		return &types.ControlResult{Stdout: "Total running VMs: 1\n/vms/analysis.vmx\n"}, nil
	}
	if got := b.Status(ctx); got != types.VMRunning {
		t.Errorf("expected running, got %s", got)
	}

	inv.OnInvoke = func(args []string, tolerant bool) (*types.ControlResult, error) {
		return &types.ControlResult{Stdout: "Total running VMs: 0\n"}, nil
	}
	if got := b.Status(ctx); got != types.VMStopped {
		t.Errorf("expected stopped, got %s", got)
	}

	inv.OnInvoke = func(args []string, tolerant bool) (*types.ControlResult, error) {
		return nil, &types.ControlError{Op: "list", Err: errors.New("vmrun unreachable")}
	}
	if got := b.Status(ctx); got != types.VMUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestEnsureDirectoryIdempotent(t *testing.T) {
	b, inv := testBridge()
	ctx := context.Background()

	// mkdir -p is the idempotency mechanism: both calls issue the same
	// command and both succeed.
	for i := 0; i < 2; i++ {
		if err := b.EnsureDirectory(ctx, b.WorkspaceRoot()); err != nil {
			t.Fatalf("EnsureDirectory call %d failed: %v", i, err)
		}
	}

	calls := inv.CallsFor("runProgramInGuest")
	if len(calls) != 2 {
		t.Fatalf("expected 2 mkdir calls, got %d", len(calls))
	}
	for _, c := range calls {
		if c.Args[2] != "/bin/mkdir" || c.Args[3] != "-p" {
			t.Errorf("expected mkdir -p, got %v", c.Args)
		}
	}
}

func TestTransferToGuest(t *testing.T) {
	b, inv := testBridge()
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "sample.py")
	if err := os.WriteFile(src, []byte("print('hi')\n"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	dest, err := b.TransferToGuest(ctx, types.HostPath(src))
	if err != nil {
		t.Fatalf("TransferToGuest failed: %v", err)
	}
	if dest != "/home/kali/SandboxAnalysis/sample.py" {
		t.Errorf("unexpected guest dest: %s", dest)
	}

	// Workspace directory is ensured before the copy.
	calls := inv.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected mkdir + copy, got %d calls", len(calls))
	}
	if calls[0].Op() != "runProgramInGuest" {
		t.Errorf("first call should ensure workspace, got %s", calls[0].Op())
	}
	if calls[1].Op() != "copyFileFromHostToGuest" {
		t.Errorf("second call should copy, got %s", calls[1].Op())
	}
	if calls[1].Args[2] != src || calls[1].Args[3] != string(dest) {
		t.Errorf("unexpected copy args: %v", calls[1].Args)
	}
}

func TestTransferToGuestMissingSource(t *testing.T) {
	b, inv := testBridge()

	_, err := b.TransferToGuest(context.Background(), "/nonexistent/sample.py")
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	var transferErr *types.TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferError, got %T", err)
	}
	if len(inv.Calls()) != 0 {
		t.Error("missing source must fail before any control call")
	}
}

func TestTransferFromGuest(t *testing.T) {
	b, inv := testBridge()

	dest := filepath.Join(t.TempDir(), "results", "trace.txt")
	err := b.TransferFromGuest(context.Background(), "analysis_log.txt", types.HostPath(dest))
	if err != nil {
		t.Fatalf("TransferFromGuest failed: %v", err)
	}

	// Host parent directory is created before the copy.
	if _, err := os.Stat(filepath.Dir(dest)); err != nil {
		t.Errorf("host parent directory not created: %v", err)
	}

	last := inv.LastCall()
	if last.Op() != "copyFileFromGuestToHost" {
		t.Fatalf("unexpected op: %s", last.Op())
	}
	if last.Args[2] != "/home/kali/SandboxAnalysis/analysis_log.txt" {
		t.Errorf("relative guest source not resolved: %v", last.Args)
	}
}

func TestRunDispatch(t *testing.T) {
	b, inv := testBridge()
	ctx := context.Background()

	if _, err := b.Run(ctx, []string{"python3", "/tmp/x.py"}, RunOptions{}); err != nil {
		t.Fatalf("strict run failed: %v", err)
	}
	if inv.LastCall().Tolerant {
		t.Error("expected strict invocation")
	}

	if _, err := b.Run(ctx, []string{"/usr/bin/strace", "-f"}, RunOptions{Tolerant: true}); err != nil {
		t.Fatalf("tolerant run failed: %v", err)
	}
	if !inv.LastCall().Tolerant {
		t.Error("expected tolerant invocation")
	}

	if _, err := b.Run(ctx, nil, RunOptions{}); err == nil {
		t.Error("expected error for empty argv")
	}
}

func TestRunTimeoutDefaulting(t *testing.T) {
	b, inv := testBridge()

	if _, err := b.Run(context.Background(), []string{"ls"}, RunOptions{}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if inv.LastCall().Timeout != 10*time.Second {
		t.Errorf("expected bridge default timeout, got %v", inv.LastCall().Timeout)
	}

	if _, err := b.Run(context.Background(), []string{"ls"}, RunOptions{Timeout: time.Minute}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if inv.LastCall().Timeout != time.Minute {
		t.Errorf("expected explicit timeout, got %v", inv.LastCall().Timeout)
	}
}
