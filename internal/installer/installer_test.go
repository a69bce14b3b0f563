package installer

import (
	"context"
	"strings"
	"testing"

	"github.com/tweakforge/tweakforge/internal/config"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/runner"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	return cfg
}

func collectLog() (*pipeline.LogBuffer, pipeline.LogFunc) {
	buf := &pipeline.LogBuffer{}
	return buf, buf.Append
}

func hasEntry(entries []pipeline.LogEntry, level pipeline.Level, substr string) bool {
	for _, e := range entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestInstall_SuccessRefreshesCache(t *testing.T) {
	fake := &runner.FakeRunner{
		Hook: func(req runner.Request) runner.Result {
			return runner.Result{ExitCode: 0, Stdout: "Unpacking com.example.volify ...\n"}
		},
	}
	inst := New(testConfig(t), fake)
	buf, logf := collectLog()

	res := inst.Install(context.Background(), "/tmp/pkg_v1.deb", logf)
	if !res.Success {
		t.Fatalf("expected success: %+v", buf.Entries())
	}
	if len(fake.Calls) != 1 || fake.Calls[0].Command != "dpkg" {
		t.Fatalf("calls = %+v", fake.Calls)
	}
	if fake.Calls[0].Args[0] != "-i" || fake.Calls[0].Args[1] != "/tmp/pkg_v1.deb" {
		t.Fatalf("dpkg args = %+v", fake.Calls[0].Args)
	}
	if len(fake.ShellLines) != 1 || fake.ShellLines[0] != "uicache" {
		t.Fatalf("shell lines = %+v", fake.ShellLines)
	}
	if !hasEntry(buf.Entries(), pipeline.LevelSuccess, "installed") {
		t.Fatalf("missing success entry: %+v", buf.Entries())
	}
}

func TestInstall_FailureSkipsCacheAndSurfacesStderr(t *testing.T) {
	fake := &runner.FakeRunner{
		Hook: func(req runner.Request) runner.Result {
			return runner.Result{
				ExitCode: 2,
				Stderr:   "dpkg: error: cannot access archive '/tmp/missing.deb'\n",
			}
		},
	}
	inst := New(testConfig(t), fake)
	buf, logf := collectLog()

	res := inst.Install(context.Background(), "/tmp/missing.deb", logf)
	if res.Success {
		t.Fatalf("expected failure")
	}
	if len(fake.ShellLines) != 0 {
		t.Fatalf("cache refresh must be skipped on install failure: %+v", fake.ShellLines)
	}
	entries := buf.Entries()
	if !hasEntry(entries, pipeline.LevelError, "cannot access archive") {
		t.Fatalf("stderr not surfaced verbatim: %+v", entries)
	}
	if !hasEntry(entries, pipeline.LevelError, "exited 2") {
		t.Fatalf("missing exit code entry: %+v", entries)
	}
}

func TestInstall_CacheRefreshFailureDoesNotDowngrade(t *testing.T) {
	fake := &runner.FakeRunner{
		ShellHook: func(string) int { return 1 },
	}
	inst := New(testConfig(t), fake)
	buf, logf := collectLog()

	res := inst.Install(context.Background(), "/tmp/pkg.deb", logf)
	if !res.Success {
		t.Fatalf("cache refresh failure must not fail the install")
	}
	if !hasEntry(buf.Entries(), pipeline.LevelWarning, "uicache exited 1") {
		t.Fatalf("missing refresh warning: %+v", buf.Entries())
	}
}

func TestExtract_ForwardsUnzipFailure(t *testing.T) {
	fake := &runner.FakeRunner{
		Hook: func(req runner.Request) runner.Result {
			return runner.Result{ExitCode: 9, Stderr: "End-of-central-directory signature not found\n"}
		},
	}
	inst := New(testConfig(t), fake)

	err := inst.Extract(context.Background(), "/tmp/bad.zip", t.TempDir())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "signature not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestExtract_PassesUnzipArguments(t *testing.T) {
	fake := &runner.FakeRunner{}
	inst := New(testConfig(t), fake)

	if err := inst.Extract(context.Background(), "/tmp/src.zip", "/tmp/out"); err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	call := fake.Calls[0]
	if call.Command != "unzip" {
		t.Fatalf("command = %q", call.Command)
	}
	want := []string{"-q", "/tmp/src.zip", "-d", "/tmp/out"}
	if len(call.Args) != len(want) {
		t.Fatalf("args = %+v", call.Args)
	}
	for i := range want {
		if call.Args[i] != want[i] {
			t.Fatalf("args = %+v", call.Args)
		}
	}
}
