// Package sandbox orchestrates code execution and document analysis inside
// the disposable guest, and owns the session lifecycle built on top.
package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/XanakoneSPT/PBL6-SandBox/internal/classify"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/guest"
	"github.com/XanakoneSPT/PBL6-SandBox/internal/logging"
	"github.com/XanakoneSPT/PBL6-SandBox/pkg/types"
)

const (
	tracerPath = "/usr/bin/strace"
	javaPath   = "/usr/bin/java"
)

// compilerCommands maps compiled-category extensions to the in-guest
// compiler binary.
var compilerCommands = map[string]string{
	".c":    "/usr/bin/gcc",
	".cpp":  "/usr/bin/g++",
	".java": "/usr/bin/javac",
	".go":   "/usr/bin/go",
}

// Executor compiles and runs classified content in the guest.
type Executor struct {
	bridge *guest.Bridge
}

// NewExecutor creates an executor over the given bridge.
func NewExecutor(bridge *guest.Bridge) *Executor {
	return &Executor{bridge: bridge}
}

// Compile compiles a source file in the guest and returns the path of the
// produced executable. Java is the exception: javac emits a class file, so
// the returned "path" is the class's base name and callers must invoke the
// Java runtime with that name instead of a file path.
func (e *Executor) Compile(ctx context.Context, src types.GuestPath) (types.GuestPath, error) {
	profile := classify.Classify(string(src))
	if profile.Category != types.CategoryCompiled {
		return "", &types.UnsupportedTypeError{Ext: profile.Ext, Category: profile.Category}
	}

	compiler := compilerCommands[profile.Ext]
	source := string(src)
	logging.Info("compiling in guest",
		logging.String("src", source),
		logging.String("compiler", compiler),
	)

	var argv []string
	var out types.GuestPath
	switch profile.Ext {
	case ".c", ".cpp":
		out = types.GuestPath(strings.TrimSuffix(source, profile.Ext) + "_compiled")
		argv = []string{compiler, source, "-o", string(out)}
	case ".java":
		out = types.GuestPath(strings.TrimSuffix(source, ".java"))
		argv = []string{compiler, source}
	case ".go":
		out = types.GuestPath(strings.TrimSuffix(source, ".go") + "_compiled")
		argv = []string{compiler, "build", "-o", string(out), source}
	}

	result, err := e.bridge.Run(ctx, argv, guest.RunOptions{})
	if err != nil {
		compileErr := &types.CompileError{Source: src, Err: err}
		var ctrlErr *types.ControlError
		if errors.As(err, &ctrlErr) {
			compileErr.Stderr = ctrlErr.Stderr
		} else if result != nil {
			compileErr.Stderr = result.Stderr
		}
		return "", compileErr
	}
	return out, nil
}

// Execute runs a file in the guest with strict exit-code handling,
// compiling first when the category requires it. Unsupported and document
// types fail before any guest I/O occurs.
func (e *Executor) Execute(ctx context.Context, path types.GuestPath, args []string) (*types.ControlResult, error) {
	argv, err := e.dispatch(ctx, path, args)
	if err != nil {
		return nil, err
	}

	logging.Info("executing in guest",
		logging.String("path", string(path)),
		logging.Strings("args", args),
	)
	result, err := e.bridge.Run(ctx, argv, guest.RunOptions{})
	if err != nil {
		return result, &types.ExecutionError{Path: path, Err: err}
	}
	return result, nil
}

// TraceSyscalls runs a file under the syscall tracer, logging to logName
// inside the workspace. The traced program's exit code is analysis data,
// not a sandbox failure, so the run is tolerant; transport and timeout
// failures are logged as warnings and the log path is still returned,
// since the log file was touched before the run.
func (e *Executor) TraceSyscalls(ctx context.Context, path types.GuestPath, args []string, logName string) (types.GuestPath, *types.ControlResult, error) {
	argv, err := e.dispatch(ctx, path, args)
	if err != nil {
		return "", nil, err
	}

	logPath := e.bridge.Resolve(logName)

	// Touch the log first so a path exists even on total tracer failure.
	if _, err := e.bridge.Run(ctx, []string{"/usr/bin/touch", string(logPath)}, guest.RunOptions{}); err != nil {
		return "", nil, &types.ExecutionError{Path: path, Err: err}
	}

	traced := append([]string{tracerPath, "-f", "-o", string(logPath)}, argv...)
	logging.Info("tracing syscalls",
		logging.String("path", string(path)),
		logging.String("log", string(logPath)),
	)

	result, err := e.bridge.Run(ctx, traced, guest.RunOptions{Tolerant: true})
	if err != nil {
		logging.Warn("syscall trace encountered control failure",
			logging.String("path", string(path)),
			logging.Err(err),
		)
		return logPath, nil, nil
	}
	return logPath, result, nil
}

// RunTracker compiles a custom C tracker in the guest and runs it against
// a target file, using the same dispatch rules as Execute for the target.
func (e *Executor) RunTracker(ctx context.Context, trackerSource, target types.GuestPath, args []string) (*types.ControlResult, error) {
	trackerBin, err := e.Compile(ctx, trackerSource)
	if err != nil {
		return nil, err
	}

	targetArgv, err := e.dispatch(ctx, target, args)
	if err != nil {
		return nil, err
	}

	logging.Info("running custom tracker",
		logging.String("tracker", string(trackerBin)),
		logging.String("target", string(target)),
	)
	argv := append([]string{string(trackerBin)}, targetArgv...)
	result, err := e.bridge.Run(ctx, argv, guest.RunOptions{})
	if err != nil {
		return result, &types.ExecutionError{Path: target, Err: err}
	}
	return result, nil
}

// dispatch resolves a file into the argv that runs it: interpreter plus
// path for interpreted content, compiled binary (or Java runtime plus
// class name) for compiled content. Document and unsupported categories
// are rejected without guest I/O.
func (e *Executor) dispatch(ctx context.Context, path types.GuestPath, args []string) ([]string, error) {
	profile := classify.Classify(string(path))

	var argv []string
	switch profile.Category {
	case types.CategoryInterpreted:
		argv = []string{profile.Runtime, string(path)}
	case types.CategoryCompiled:
		compiled, err := e.Compile(ctx, path)
		if err != nil {
			return nil, err
		}
		if profile.Ext == ".java" {
			argv = []string{javaPath, compiled.Base()}
		} else {
			argv = []string{string(compiled)}
		}
	default:
		return nil, &types.UnsupportedTypeError{Ext: profile.Ext, Category: profile.Category}
	}

	return append(argv, args...), nil
}
