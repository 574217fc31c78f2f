package sandbox

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/classify"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/guest"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

// Document files are never executed as programs, but their parser
// toolchain (metadata extractors, text converters) may itself be
// exploitable, so inspection still happens inside the disposable guest.
// The inspection script guards every tool with an availability check and
// swallows probe failures, so it always completes with a best-effort log.

const scriptName = "analyze_document.sh"

// pdfScript extracts metadata, a text sample, the attachment list and the
// encryption status through best-effort tool probes.
var pdfScript = template.Must(template.New("pdf").Funcs(scriptFuncs).Parse(`#!/bin/bash
LOG={{sh .Log}}
FILE={{sh .File}}

echo "=== PDF Document Analysis ===" > "$LOG"
echo "File: $FILE" >> "$LOG"
echo "Analysis Time: $(date)" >> "$LOG"
echo "" >> "$LOG"

if [ ! -f "$FILE" ]; then
    echo "ERROR: File not found" >> "$LOG"
    exit 1
fi

echo "=== File Information ===" >> "$LOG"
ls -la "$FILE" >> "$LOG"
file "$FILE" >> "$LOG"
echo "" >> "$LOG"

if command -v pdfinfo >/dev/null 2>&1; then
    echo "=== PDF Metadata ===" >> "$LOG"
    pdfinfo "$FILE" >> "$LOG" 2>&1
    echo "" >> "$LOG"
fi

if command -v pdftotext >/dev/null 2>&1; then
    echo "=== PDF Text Content (first 1000 chars) ===" >> "$LOG"
    pdftotext "$FILE" - | head -c 1000 >> "$LOG" 2>&1
    echo "" >> "$LOG"
fi

if command -v pdfdetach >/dev/null 2>&1; then
    echo "=== PDF Attachments ===" >> "$LOG"
    pdfdetach -list "$FILE" >> "$LOG" 2>&1
    echo "" >> "$LOG"
fi

if command -v qpdf >/dev/null 2>&1; then
    echo "=== PDF Security Analysis ===" >> "$LOG"
    qpdf --show-encryption "$FILE" >> "$LOG" 2>&1
    echo "" >> "$LOG"
fi

echo "=== Analysis Complete ===" >> "$LOG"
`))

// genericScript is the fallback for non-PDF document types: file info
// plus the first 1000 bytes of content.
var genericScript = template.Must(template.New("generic").Funcs(scriptFuncs).Parse(`#!/bin/bash
LOG={{sh .Log}}
FILE={{sh .File}}

echo "=== Document Analysis ===" > "$LOG"
echo "File: $FILE" >> "$LOG"
echo "Type: {{.Ext}}" >> "$LOG"
echo "Analysis Time: $(date)" >> "$LOG"
echo "" >> "$LOG"

if [ ! -f "$FILE" ]; then
    echo "ERROR: File not found" >> "$LOG"
    exit 1
fi

echo "=== File Information ===" >> "$LOG"
ls -la "$FILE" >> "$LOG"
file "$FILE" >> "$LOG"
echo "" >> "$LOG"

echo "=== Text Content (first 1000 chars) ===" >> "$LOG"
head -c 1000 "$FILE" >> "$LOG" 2>&1
echo "" >> "$LOG"

echo "=== Analysis Complete ===" >> "$LOG"
`))

var scriptFuncs = template.FuncMap{"sh": shellQuote}

// shellQuote single-quotes a value for safe interpolation into the guest
// script. An attacker-controlled filename must never reach the guest
// shell unescaped.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// scriptData parameterizes the inspection script templates.
type scriptData struct {
	File string
	Log  string
	Ext  string
}

// DocumentAnalyzer generates and runs guest-side inspection scripts for
// non-executable document types.
type DocumentAnalyzer struct {
	bridge *guest.Bridge
}

// NewDocumentAnalyzer creates a document analyzer over the given bridge.
func NewDocumentAnalyzer(bridge *guest.Bridge) *DocumentAnalyzer {
	return &DocumentAnalyzer{bridge: bridge}
}

// Analyze inspects a document file in the guest, logging to logName in
// the workspace, and returns the guest path of the produced log. The
// script's own exit code is tolerated; only writing or launching the
// script is a hard failure.
func (d *DocumentAnalyzer) Analyze(ctx context.Context, file types.GuestPath, logName string) (types.GuestPath, error) {
	profile := classify.Classify(string(file))
	if profile.Category != types.CategoryDocument {
		return "", &types.UnsupportedTypeError{Ext: profile.Ext, Category: profile.Category}
	}

	logPath := d.bridge.Resolve(logName)
	scriptPath := d.bridge.Resolve(scriptName)

	script, err := renderScript(profile.Ext, scriptData{
		File: string(file),
		Log:  string(logPath),
		Ext:  profile.Ext,
	})
	if err != nil {
		return "", fmt.Errorf("render document script: %w", err)
	}

	logging.Info("analyzing document",
		logging.String("file", string(file)),
		logging.String("log", string(logPath)),
	)

	if err := d.writeScript(ctx, scriptPath, script); err != nil {
		return "", err
	}

	// The script guards its tool probes itself; a non-zero exit (e.g.
	// file vanished) is analysis data, like a traced program's exit code.
	if _, err := d.bridge.Run(ctx, []string{"/bin/bash", string(scriptPath)}, guest.RunOptions{Tolerant: true}); err != nil {
		logging.Warn("document analysis encountered control failure",
			logging.String("file", string(file)),
			logging.Err(err),
		)
	}
	return logPath, nil
}

// writeScript delivers the rendered script into the guest via a quoted
// heredoc and marks it executable.
func (d *DocumentAnalyzer) writeScript(ctx context.Context, path types.GuestPath, script string) error {
	heredoc := fmt.Sprintf("cat > %s << 'ANALYSIS_EOF'\n%s\nANALYSIS_EOF", shellQuote(string(path)), script)
	if _, err := d.bridge.Run(ctx, []string{"/bin/bash", "-c", heredoc}, guest.RunOptions{}); err != nil {
		return fmt.Errorf("write document script: %w", err)
	}
	if _, err := d.bridge.Run(ctx, []string{"/bin/chmod", "+x", string(path)}, guest.RunOptions{}); err != nil {
		return fmt.Errorf("mark document script executable: %w", err)
	}
	return nil
}

// renderScript picks the per-extension template and renders it.
func renderScript(ext string, data scriptData) (string, error) {
	tmpl := genericScript
	if ext == ".pdf" {
		tmpl = pdfScript
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
