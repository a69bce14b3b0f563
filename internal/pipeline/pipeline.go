// Package pipeline orchestrates one tweak build: descriptor check, clean,
// compile, artifact discovery. Each step's full tool output is relayed as
// log entries; only the compile step's exit code decides the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tweakforge/tweakforge/internal/config"
	"github.com/tweakforge/tweakforge/internal/project"
	"github.com/tweakforge/tweakforge/internal/runner"
)

// ErrBuildRunning is returned when a compile is requested while one is
// already running; the request is dropped, not queued.
var ErrBuildRunning = errors.New("a build is already running")

type State string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

type Pipeline struct {
	cfg    config.Config
	runner runner.Runner

	mu    sync.Mutex
	state State
}

func New(cfg config.Config, r runner.Runner) *Pipeline {
	return &Pipeline{cfg: cfg, runner: r, state: StateIdle}
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Compile runs the build steps for one project, emitting log entries through
// logf in execution order. The returned result is terminal; ErrBuildRunning
// is the only error and means the call was dropped.
func (p *Pipeline) Compile(ctx context.Context, proj *project.Project, logf LogFunc) (BuildResult, error) {
	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return BuildResult{}, ErrBuildRunning
	}
	p.state = StateRunning
	p.mu.Unlock()

	result := p.compile(ctx, proj, logf)

	p.mu.Lock()
	if result.Success {
		p.state = StateSucceeded
	} else {
		p.state = StateFailed
	}
	p.mu.Unlock()
	return result, nil
}

func (p *Pipeline) compile(ctx context.Context, proj *project.Project, logf LogFunc) BuildResult {
	emit := func(level Level, message string) {
		if logf != nil {
			logf(LogEntry{Message: message, Level: level, At: time.Now().UTC()})
		}
	}
	fail := func() BuildResult {
		return BuildResult{Success: false, ProjectID: proj.ID, At: time.Now().UTC()}
	}

	// Missing build descriptor is fatal; nothing else runs.
	if err := proj.Buildable(); err != nil {
		emit(LevelError, err.Error())
		return fail()
	}
	emit(LevelInfo, "compiling "+proj.Name)

	if p.cfg.PatchMakefiles {
		changed, err := RepairDescriptor(proj.MakefilePath())
		switch {
		case err != nil:
			emit(LevelWarning, "descriptor repair skipped: "+err.Error())
		case changed:
			emit(LevelInfo, "patched hardcoded toolchain paths in "+project.MakefileName)
		}
	}

	// The build tool usually creates this itself, so failure here only
	// warns.
	if err := os.MkdirAll(proj.PackagesPath(), 0o755); err != nil {
		emit(LevelWarning, "could not prepare packages dir: "+err.Error())
	}

	identity := runner.Identity{UID: p.cfg.BuildUID, GID: p.cfg.BuildGID}

	emit(LevelInfo, "running "+p.cfg.MakeBin+" clean")
	clean := p.runner.Execute(ctx, runner.Request{
		Command:  p.cfg.MakeBin,
		Args:     []string{"clean"},
		Dir:      proj.Root,
		Identity: identity,
	})
	relayLines(emit, clean.Stdout, LevelOutput)
	if clean.Cancelled() || ctx.Err() != nil {
		emit(LevelError, "build cancelled")
		return fail()
	}
	if !clean.OK() {
		// Nothing to clean is a normal first-build outcome.
		relayLines(emit, clean.Stderr, LevelWarning)
		emit(LevelWarning, fmt.Sprintf("%s clean exited %d (ignored)", p.cfg.MakeBin, clean.ExitCode))
	}

	emit(LevelInfo, "running "+p.cfg.MakeBin+" package")
	build := p.runner.Execute(ctx, runner.Request{
		Command:  p.cfg.MakeBin,
		Args:     []string{"package"},
		Dir:      proj.Root,
		Identity: identity,
	})
	relayLines(emit, build.Stdout, LevelOutput)
	// Build tools write informational text to stderr too; it only counts
	// as errors when the step itself failed.
	if build.OK() {
		relayLines(emit, build.Stderr, LevelWarning)
	} else {
		relayLines(emit, build.Stderr, LevelError)
	}
	if build.Cancelled() || ctx.Err() != nil {
		emit(LevelError, "build cancelled")
		return fail()
	}
	if !build.OK() {
		emit(LevelError, fmt.Sprintf("%s package exited %d", p.cfg.MakeBin, build.ExitCode))
		return fail()
	}

	artifact := LatestArtifact(proj.PackagesPath())
	if artifact == "" {
		emit(LevelWarning, "build succeeded but no package artifact was found in "+project.PackagesDir)
	} else {
		emit(LevelSuccess, "built "+filepath.Base(artifact))
	}
	return BuildResult{
		Success:      true,
		ProjectID:    proj.ID,
		ArtifactPath: artifact,
		At:           time.Now().UTC(),
	}
}

// LatestArtifact returns the most recently modified package archive in the
// output directory, or "" when the directory is empty or unreadable.
func LatestArtifact(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var newest string
	var newestAt time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), project.ArtifactExt) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || fi.ModTime().After(newestAt) {
			newest = filepath.Join(dir, entry.Name())
			newestAt = fi.ModTime()
		}
	}
	return newest
}

func relayLines(emit func(Level, string), text string, level Level) {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		emit(level, line)
	}
}
