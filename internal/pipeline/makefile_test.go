package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDescriptor(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Makefile")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readBack(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestRepairDescriptor_CommentsOutTheosAssignment(t *testing.T) {
	path := writeDescriptor(t, strings.Join([]string{
		"export THEOS = /Users/someone/theos",
		"include $(THEOS)/makefiles/common.mk",
		"TWEAK_NAME = Volify",
		"",
	}, "\n"))

	changed, err := RepairDescriptor(path)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !changed {
		t.Fatalf("expected mutation")
	}

	got := readBack(t, path)
	lines := strings.Split(got, "\n")
	if !strings.HasPrefix(lines[0], "#") {
		t.Fatalf("assignment not commented out: %q", lines[0])
	}
	if strings.Contains(got, "/Users/someone/theos") {
		t.Fatalf("foreign path survived:\n%s", got)
	}
	if !strings.Contains(got, "TWEAK_NAME = Volify") {
		t.Fatalf("unrelated lines must be preserved:\n%s", got)
	}
}

func TestRepairDescriptor_Idempotent(t *testing.T) {
	path := writeDescriptor(t, "export THEOS = /Users/someone/theos\nTWEAK_NAME = Volify\n")

	if _, err := RepairDescriptor(path); err != nil {
		t.Fatal(err)
	}
	first := readBack(t, path)

	changed, err := RepairDescriptor(path)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatalf("second repair must be a no-op")
	}
	if readBack(t, path) != first {
		t.Fatalf("file mutated on second repair")
	}
}

func TestRepairDescriptor_SubstitutesPathFragments(t *testing.T) {
	path := writeDescriptor(t, "Volify_LDFLAGS = -L/Users/dev-box/theos/lib\n")

	changed, err := RepairDescriptor(path)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatalf("expected substitution")
	}
	got := readBack(t, path)
	if !strings.Contains(got, "-L$(THEOS)/lib") {
		t.Fatalf("fragment not substituted:\n%s", got)
	}
}

func TestRepairDescriptor_CleanFileUntouched(t *testing.T) {
	content := "include $(THEOS)/makefiles/common.mk\nTWEAK_NAME = Volify\n"
	path := writeDescriptor(t, content)

	changed, err := RepairDescriptor(path)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatalf("clean file must not be rewritten")
	}
	if readBack(t, path) != content {
		t.Fatalf("clean file content changed")
	}
}

func TestRepairDescriptor_MissingFile(t *testing.T) {
	if _, err := RepairDescriptor(filepath.Join(t.TempDir(), "Makefile")); err == nil {
		t.Fatalf("expected error for missing descriptor")
	}
}
