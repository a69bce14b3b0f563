// Package installer applies built packages on-device and refreshes the app
// cache afterwards. Like the build pipeline it reports everything through
// log entries and a result value; nothing here raises.
package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tweakforge/tweakforge/internal/config"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/runner"
)

type Result struct {
	Success      bool      `json:"success"`
	ArtifactPath string    `json:"artifact_path"`
	At           time.Time `json:"at"`
}

type Installer struct {
	cfg    config.Config
	runner runner.Runner
}

func New(cfg config.Config, r runner.Runner) *Installer {
	return &Installer{cfg: cfg, runner: r}
}

// Install runs the package manager against the artifact. The cache refresh
// afterwards is best-effort: it only runs when the install succeeded and its
// exit code never changes the outcome. There is no rollback; dpkg itself has
// none.
func (i *Installer) Install(ctx context.Context, artifactPath string, logf pipeline.LogFunc) Result {
	emit := func(level pipeline.Level, message string) {
		if logf != nil {
			logf(pipeline.LogEntry{Message: message, Level: level, At: time.Now().UTC()})
		}
	}
	identity := runner.Identity{UID: i.cfg.BuildUID, GID: i.cfg.BuildGID}

	emit(pipeline.LevelInfo, "installing "+artifactPath)
	res := i.runner.Execute(ctx, runner.Request{
		Command:  i.cfg.DpkgBin,
		Args:     []string{"-i", artifactPath},
		Identity: identity,
	})
	relay(emit, res.Stdout, pipeline.LevelOutput)
	if !res.OK() {
		relay(emit, res.Stderr, pipeline.LevelError)
		emit(pipeline.LevelError, fmt.Sprintf("%s exited %d", i.cfg.DpkgBin, res.ExitCode))
		return Result{Success: false, ArtifactPath: artifactPath, At: time.Now().UTC()}
	}
	relay(emit, res.Stderr, pipeline.LevelWarning)

	emit(pipeline.LevelInfo, "refreshing application cache")
	if code := i.runner.Shell(ctx, i.cfg.UICacheBin, identity); code != 0 {
		emit(pipeline.LevelWarning, fmt.Sprintf("%s exited %d (ignored)", i.cfg.UICacheBin, code))
	}

	emit(pipeline.LevelSuccess, "installed "+artifactPath)
	return Result{Success: true, ArtifactPath: artifactPath, At: time.Now().UTC()}
}

// Extract unpacks a zip archive with the system unzip binary.
func (i *Installer) Extract(ctx context.Context, archivePath, dest string) error {
	res := i.runner.Execute(ctx, runner.Request{
		Command:  i.cfg.UnzipBin,
		Args:     []string{"-q", archivePath, "-d", dest},
		Identity: runner.Identity{UID: i.cfg.BuildUID, GID: i.cfg.BuildGID},
	})
	if !res.OK() {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("%s exited %d: %s", i.cfg.UnzipBin, res.ExitCode, detail)
	}
	return nil
}

func relay(emit func(pipeline.Level, string), text string, level pipeline.Level) {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		emit(level, line)
	}
}
