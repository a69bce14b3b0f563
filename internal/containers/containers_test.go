package containers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeContainer(t *testing.T, root, name, bundleID string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	meta := "bplist00fake" + bundleID + "trailer"
	if err := os.WriteFile(filepath.Join(dir, metadataFile), []byte(meta), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestStore_FindsContainerByBundleID(t *testing.T) {
	root := t.TempDir()
	writeContainer(t, root, "AAAA-1111", "com.example.other")
	want := writeContainer(t, root, "BBBB-2222", "com.example.volify")

	got, err := Store{Root: root}.DataContainer("com.example.volify")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != want {
		t.Fatalf("container = %q, want %q", got, want)
	}
}

func TestStore_MissesAreErrors(t *testing.T) {
	root := t.TempDir()
	writeContainer(t, root, "AAAA-1111", "com.example.other")

	if _, err := (Store{Root: root}).DataContainer("com.example.volify"); err == nil {
		t.Fatalf("expected miss error")
	}
	if _, err := (Store{Root: filepath.Join(root, "missing")}).DataContainer("com.example.volify"); err == nil {
		t.Fatalf("expected store error")
	}
}

func TestNull_AlwaysUnavailable(t *testing.T) {
	_, err := Null{}.DataContainer("com.example.volify")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestDetect_PicksImplementationByStorePresence(t *testing.T) {
	root := t.TempDir()
	if _, ok := Detect(root).(Store); !ok {
		t.Fatalf("expected store resolver for existing root")
	}
	if _, ok := Detect(filepath.Join(root, "nope")).(Null); !ok {
		t.Fatalf("expected null resolver for missing root")
	}
}
