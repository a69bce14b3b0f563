// Package runner executes external toolchain commands under a controlled
// identity and environment, capturing their full output. Results are data,
// never errors: callers branch on the exit code.
package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tweakforge/tweakforge/internal/theos"
)

const (
	// ExitLaunchFailure marks runs that never started (pipe or spawn
	// failure); the diagnostic is placed in Stderr.
	ExitLaunchFailure = -1
	// ExitCancelled marks runs terminated by context cancellation.
	ExitCancelled = -2

	shellBin = "/bin/sh"
)

// Identity is the user/group the child executes as.
type Identity struct {
	UID int
	GID int
}

// Request describes one command invocation.
type Request struct {
	Command  string
	Args     []string
	Dir      string
	Identity Identity
}

// Result is always produced, including on launch failure.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r Result) OK() bool {
	return r.ExitCode == 0
}

func (r Result) Cancelled() bool {
	return r.ExitCode == ExitCancelled
}

type Runner interface {
	Execute(ctx context.Context, req Request) Result
	// Shell runs a command line through the shell and returns only the
	// exit code; used for steps whose output carries no decisions.
	Shell(ctx context.Context, line string, identity Identity) int
}

// OSRunner launches real processes. SearchDirs and Env default to the Theos
// layout under theos.DefaultRoot when unset.
type OSRunner struct {
	SearchDirs []string
	Env        []string
}

func New(theosRoot string) *OSRunner {
	return &OSRunner{
		SearchDirs: theos.SearchDirs(theosRoot),
		Env:        theos.Environment(theosRoot),
	}
}

func (r *OSRunner) Execute(ctx context.Context, req Request) Result {
	bin, args := r.buildArgv(req)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = r.environ()
	setIdentity(cmd, req.Identity)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return launchFailure("create stdout pipe: " + err.Error())
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return launchFailure("create stderr pipe: " + err.Error())
	}

	if err := cmd.Start(); err != nil {
		return launchFailure("launch " + req.Command + ": " + err.Error())
	}

	// Both pipes are drained concurrently before waiting; draining them
	// one after the other can deadlock once a pipe buffer fills.
	var stdout, stderr string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		raw, _ := io.ReadAll(stdoutPipe)
		stdout = string(raw)
	}()
	go func() {
		defer wg.Done()
		raw, _ := io.ReadAll(stderrPipe)
		stderr = string(raw)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	return Result{
		ExitCode: exitCode(ctx, waitErr),
		Stdout:   stdout,
		Stderr:   stderr,
	}
}

func (r *OSRunner) Shell(ctx context.Context, line string, identity Identity) int {
	cmd := exec.CommandContext(ctx, shellBin, "-c", line)
	cmd.Env = r.environ()
	setIdentity(cmd, identity)
	if err := cmd.Start(); err != nil {
		return ExitLaunchFailure
	}
	return exitCode(ctx, cmd.Wait())
}

// buildArgv resolves the request into the executable and argument list
// actually launched. A working directory forces a shell wrapper that first
// changes into it; every argument is individually quoted so embedded spaces
// and quotes survive intact.
func (r *OSRunner) buildArgv(req Request) (string, []string) {
	resolved := r.resolve(req.Command)
	if strings.TrimSpace(req.Dir) == "" {
		return resolved, req.Args
	}

	parts := make([]string, 0, len(req.Args)+1)
	parts = append(parts, Quote(resolved))
	for _, arg := range req.Args {
		parts = append(parts, Quote(arg))
	}
	line := "cd " + Quote(req.Dir) + " && " + strings.Join(parts, " ")
	return shellBin, []string{"-c", line}
}

// resolve probes the candidate directories for a bare command name. Paths
// containing a separator and names found nowhere pass through unchanged so
// the launch fails with the loader's own diagnostic.
func (r *OSRunner) resolve(command string) string {
	if strings.ContainsRune(command, '/') {
		return command
	}
	dirs := r.SearchDirs
	if len(dirs) == 0 {
		dirs = theos.SearchDirs(theos.DefaultRoot)
	}
	for _, dir := range dirs {
		if candidate, ok := executableIn(dir, command); ok {
			return candidate
		}
	}
	return command
}

func (r *OSRunner) environ() []string {
	if len(r.Env) > 0 {
		return r.Env
	}
	return theos.Environment(theos.DefaultRoot)
}

// Quote wraps s in single quotes, escaping embedded single quotes as '\''.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func launchFailure(diagnostic string) Result {
	return Result{ExitCode: ExitLaunchFailure, Stderr: diagnostic}
}

func exitCode(ctx context.Context, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if ctx.Err() != nil {
		return ExitCancelled
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return ExitLaunchFailure
}

func executableIn(dir, name string) (string, bool) {
	candidate := filepath.Join(dir, name)
	fi, err := os.Stat(candidate)
	if err != nil || fi.IsDir() {
		return "", false
	}
	if fi.Mode().Perm()&0o111 == 0 {
		return "", false
	}
	return candidate, true
}
