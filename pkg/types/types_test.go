package types

import (
	"errors"
	"strings"
	"testing"
)

func TestGuestPath(t *testing.T) {
	p := GuestPath("/home/kali/SandboxAnalysis")
	if !p.IsAbs() {
		t.Error("expected absolute guest path")
	}
	if GuestPath("relative/path").IsAbs() {
		t.Error("expected relative guest path")
	}

	joined := p.Join("sample.py")
	if joined != "/home/kali/SandboxAnalysis/sample.py" {
		t.Errorf("unexpected join result: %s", joined)
	}
	if joined.Base() != "sample.py" {
		t.Errorf("unexpected base: %s", joined.Base())
	}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		want     string
	}{
		{CategoryUnsupported, "unsupported"},
		{CategoryInterpreted, "interpreted"},
		{CategoryCompiled, "compiled"},
		{CategoryDocument, "document"},
		{Category(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.category.String(); got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", tt.category, got, tt.want)
		}
	}
}

func TestCategoryZeroValueIsUnsupported(t *testing.T) {
	var c Category
	if c != CategoryUnsupported {
		t.Error("zero value category must be unsupported")
	}
}

func TestControlErrorTimeout(t *testing.T) {
	err := &ControlError{Op: "runProgramInGuest", Err: ErrTimeout}
	if !errors.Is(err, ErrTimeout) {
		t.Error("ControlError wrapping ErrTimeout must satisfy errors.Is")
	}

	wrapped := &ExecutionError{Path: "/tmp/x.py", Err: err}
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("timeout must survive wrapping in ExecutionError")
	}

	var ctrlErr *ControlError
	if !errors.As(wrapped, &ctrlErr) {
		t.Error("ControlError must be extractable from ExecutionError")
	}
	if ctrlErr.Op != "runProgramInGuest" {
		t.Errorf("unexpected op: %s", ctrlErr.Op)
	}
}

func TestUnsupportedTypeErrorMessages(t *testing.T) {
	docErr := &UnsupportedTypeError{Ext: ".pdf", Category: CategoryDocument}
	if !strings.Contains(docErr.Error(), "not executable") {
		t.Errorf("document error should say not executable: %s", docErr.Error())
	}

	unkErr := &UnsupportedTypeError{Ext: ".zip", Category: CategoryUnsupported}
	if !strings.Contains(unkErr.Error(), ".zip") {
		t.Errorf("unsupported error should name the extension: %s", unkErr.Error())
	}
}

func TestCompileErrorIncludesStderr(t *testing.T) {
	err := &CompileError{
		Source: "/tmp/broken.c",
		Stderr: "broken.c:1: error: expected ';'",
		Err:    errors.New("non-zero exit"),
	}
	if !strings.Contains(err.Error(), "broken.c") {
		t.Errorf("compile error should name the source: %s", err.Error())
	}
}
