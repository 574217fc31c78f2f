package classify

import (
	"testing"

	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

func TestClassifyKnownExtensions(t *testing.T) {
	tests := []struct {
		path     string
		runtime  string
		category types.Category
	}{
		{"/home/kali/SandboxAnalysis/sample.py", "python3", types.CategoryInterpreted},
		{"script.js", "node", types.CategoryInterpreted},
		{"run.sh", "bash", types.CategoryInterpreted},
		{"gem.rb", "ruby", types.CategoryInterpreted},
		{"legacy.pl", "perl", types.CategoryInterpreted},
		{"page.php", "php", types.CategoryInterpreted},
		{"prog.c", "gcc", types.CategoryCompiled},
		{"prog.cpp", "g++", types.CategoryCompiled},
		{"Main.java", "javac", types.CategoryCompiled},
		{"tool.go", "go", types.CategoryCompiled},
		{"report.pdf", "", types.CategoryDocument},
		{"letter.doc", "", types.CategoryDocument},
		{"letter.docx", "", types.CategoryDocument},
		{"notes.txt", "", types.CategoryDocument},
		{"old.rtf", "", types.CategoryDocument},
	}

	for _, tt := range tests {
		profile := Classify(tt.path)
		if profile.Category != tt.category {
			t.Errorf("Classify(%q) category = %s, want %s", tt.path, profile.Category, tt.category)
		}
		if profile.Runtime != tt.runtime {
			t.Errorf("Classify(%q) runtime = %q, want %q", tt.path, profile.Runtime, tt.runtime)
		}
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	for _, p := range []string{"SAMPLE.PY", "Sample.Py", "report.PDF", "Main.JAVA"} {
		profile := Classify(p)
		if profile.Category == types.CategoryUnsupported {
			t.Errorf("Classify(%q) = unsupported, want known category", p)
		}
	}
}

func TestClassifyUnsupported(t *testing.T) {
	tests := []struct {
		path string
		ext  string
	}{
		{"archive.zip", ".zip"},
		{"binary.exe", ".exe"},
		{"noextension", ""},
		{"trailing.", "."},
	}

	for _, tt := range tests {
		profile := Classify(tt.path)
		if profile.Category != types.CategoryUnsupported {
			t.Errorf("Classify(%q) category = %s, want unsupported", tt.path, profile.Category)
		}
		if profile.Ext != tt.ext {
			t.Errorf("Classify(%q) ext = %q, want %q", tt.path, profile.Ext, tt.ext)
		}
		if profile.Runtime != "" {
			t.Errorf("Classify(%q) runtime = %q, want empty", tt.path, profile.Runtime)
		}
	}
}

func TestClassifyIsPure(t *testing.T) {
	// Same input, same output; the table is never mutated by lookups.
	first := Classify("sample.py")
	second := Classify("sample.py")
	if first != second {
		t.Errorf("Classify not deterministic: %+v vs %+v", first, second)
	}
}
