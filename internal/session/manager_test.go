package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tweakforge/tweakforge/internal/config"
	"github.com/tweakforge/tweakforge/internal/installer"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/project"
	"github.com/tweakforge/tweakforge/internal/runner"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.BuildTimeout = 5 * time.Second
	return cfg
}

func newManager(t *testing.T, cfg config.Config, fr *runner.FakeRunner) (*Manager, *project.Store) {
	t.Helper()
	st := project.NewStore(cfg)
	mgr := New(cfg, st, pipeline.New(cfg, fr), installer.New(cfg, fr))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return mgr, st
}

func waitForTerminalState(t *testing.T, mgr *Manager, id string) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := mgr.Get(id)
		if ok && rec.Terminal() {
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for terminal state: %s", id)
	return Record{}
}

func TestStartBuild_SucceedsAndRecordsHistory(t *testing.T) {
	cfg := testConfig(t)
	var proj *project.Project
	fr := &runner.FakeRunner{Hook: func(req runner.Request) runner.Result {
		if len(req.Args) > 0 && req.Args[len(req.Args)-1] == "package" {
			debPath := filepath.Join(proj.PackagesPath(), "volify_1.0.deb")
			if err := os.WriteFile(debPath, []byte("deb"), 0o644); err != nil {
				t.Error(err)
			}
		}
		return runner.Result{ExitCode: 0, Stdout: "done\n"}
	}}
	mgr, st := newManager(t, cfg, fr)

	var err error
	proj, err = st.Create("Volify", "com.example.volify", "")
	if err != nil {
		t.Fatal(err)
	}

	rec, err := mgr.StartBuild(proj.ID)
	if err != nil {
		t.Fatalf("start build failed: %v", err)
	}
	if rec.State != StateRunning || rec.Kind != KindBuild {
		t.Fatalf("unexpected initial record: %+v", rec)
	}

	final := waitForTerminalState(t, mgr, rec.ID)
	if final.State != StateSucceeded {
		t.Fatalf("expected success, got %s (%s)", final.State, final.Message)
	}
	if filepath.Base(final.ArtifactPath) != "volify_1.0.deb" {
		t.Fatalf("artifact = %q", final.ArtifactPath)
	}

	entries, ok := mgr.Log(rec.ID)
	if !ok || len(entries) == 0 {
		t.Fatalf("expected log entries, got %v ok=%v", entries, ok)
	}

	hist, err := mgr.History(proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].ID != rec.ID || hist[0].State != StateSucceeded {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestStartBuild_DropsConcurrentTriggers(t *testing.T) {
	cfg := testConfig(t)
	block := make(chan struct{})
	fr := &runner.FakeRunner{Hook: func(req runner.Request) runner.Result {
		<-block
		return runner.Result{ExitCode: 0}
	}}
	mgr, st := newManager(t, cfg, fr)

	proj, err := st.Create("Volify", "com.example.volify", "")
	if err != nil {
		t.Fatal(err)
	}

	rec, err := mgr.StartBuild(proj.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.StartBuild(proj.ID); !errors.Is(err, pipeline.ErrBuildRunning) {
		t.Fatalf("expected drop, got %v", err)
	}

	active, ok := mgr.Active()
	if !ok || active.ID != rec.ID {
		t.Fatalf("active = %+v ok=%v", active, ok)
	}

	close(block)
	waitForTerminalState(t, mgr, rec.ID)

	if _, ok := mgr.Active(); ok {
		t.Fatalf("expected idle manager after completion")
	}
}

func TestStartInstall_UsesLatestArtifact(t *testing.T) {
	cfg := testConfig(t)
	fr := &runner.FakeRunner{}
	mgr, st := newManager(t, cfg, fr)

	proj, err := st.Create("Volify", "com.example.volify", "")
	if err != nil {
		t.Fatal(err)
	}
	debPath := filepath.Join(proj.PackagesPath(), "volify_1.0.deb")
	if err := os.WriteFile(debPath, []byte("deb"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := mgr.StartInstall(proj.ID, "")
	if err != nil {
		t.Fatalf("start install failed: %v", err)
	}
	if rec.Kind != KindInstall {
		t.Fatalf("kind = %s", rec.Kind)
	}

	final := waitForTerminalState(t, mgr, rec.ID)
	if final.State != StateSucceeded {
		t.Fatalf("expected success, got %s (%s)", final.State, final.Message)
	}
	if final.ArtifactPath != debPath {
		t.Fatalf("artifact = %q, want %q", final.ArtifactPath, debPath)
	}

	if fr.CallCount() != 1 {
		t.Fatalf("expected one dpkg call, got %d", fr.CallCount())
	}
	call := fr.Calls[0]
	if call.Command != cfg.DpkgBin || call.Args[len(call.Args)-1] != debPath {
		t.Fatalf("unexpected install call: %+v", call)
	}
}

func TestStartInstall_FailsWithoutArtifact(t *testing.T) {
	cfg := testConfig(t)
	mgr, st := newManager(t, cfg, &runner.FakeRunner{})

	proj, err := st.Create("Volify", "com.example.volify", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.StartInstall(proj.ID, ""); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("expected ErrNoArtifact, got %v", err)
	}
}

func TestStartBuild_UnknownProject(t *testing.T) {
	cfg := testConfig(t)
	mgr, _ := newManager(t, cfg, &runner.FakeRunner{})

	if _, err := mgr.StartBuild("nope"); !errors.Is(err, project.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancel_OnlyActiveSession(t *testing.T) {
	cfg := testConfig(t)
	block := make(chan struct{})
	fr := &runner.FakeRunner{Hook: func(req runner.Request) runner.Result {
		<-block
		return runner.Result{ExitCode: runner.ExitCancelled}
	}}
	mgr, st := newManager(t, cfg, fr)

	proj, err := st.Create("Volify", "com.example.volify", "")
	if err != nil {
		t.Fatal(err)
	}

	rec, err := mgr.StartBuild(proj.ID)
	if err != nil {
		t.Fatal(err)
	}

	if mgr.Cancel("other") {
		t.Fatalf("cancel of unknown id should report false")
	}
	if !mgr.Cancel(rec.ID) {
		t.Fatalf("cancel of active session should report true")
	}

	close(block)
	final := waitForTerminalState(t, mgr, rec.ID)
	if final.State != StateFailed {
		t.Fatalf("expected failed after cancel, got %s", final.State)
	}
	if !strings.Contains(final.Message, "failed") {
		t.Fatalf("message = %q", final.Message)
	}
}

func TestHistory_AccumulatesRuns(t *testing.T) {
	cfg := testConfig(t)
	fr := &runner.FakeRunner{Hook: func(req runner.Request) runner.Result {
		return runner.Result{ExitCode: 1, Stderr: "error: no rule\n"}
	}}
	mgr, st := newManager(t, cfg, fr)

	proj, err := st.Create("Volify", "com.example.volify", "")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		rec, err := mgr.StartBuild(proj.ID)
		if err != nil {
			t.Fatal(err)
		}
		final := waitForTerminalState(t, mgr, rec.ID)
		if final.State != StateFailed {
			t.Fatalf("expected failed, got %s", final.State)
		}
	}

	hist, err := mgr.History(proj.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("history length = %d", len(hist))
	}
}
