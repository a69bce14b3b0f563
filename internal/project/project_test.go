package project

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testProject(root string) *Project {
	return &Project{
		ID:            "test-id",
		Name:          "Volify",
		BundleID:      "com.example.volify",
		TargetProcess: "SpringBoard",
		Root:          root,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestValidate_RejectsBadFields(t *testing.T) {
	p := testProject(t.TempDir())
	if err := p.Validate(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	bad := *p
	bad.Name = "../escape"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for path-like name")
	}

	bad = *p
	bad.BundleID = "no-dots"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for non-reverse-domain bundle id")
	}

	bad = *p
	bad.TargetProcess = " "
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for empty target process")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	p := testProject(root)
	if err := p.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.ID != p.ID || loaded.Name != p.Name || loaded.BundleID != p.BundleID {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.Root != root {
		t.Fatalf("Root = %q, want load dir", loaded.Root)
	}
}

func TestLoad_FixesStaleRoot(t *testing.T) {
	root := t.TempDir()
	p := testProject(root)
	p.Root = "/somewhere/else"
	raw := `{"id":"x","name":"Volify","bundle_id":"com.example.volify","root":"/somewhere/else"}`
	if err := os.WriteFile(filepath.Join(root, MetadataFile), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(root)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Root != root {
		t.Fatalf("Root = %q", loaded.Root)
	}
	if loaded.TargetProcess != "SpringBoard" {
		t.Fatalf("expected default target process, got %q", loaded.TargetProcess)
	}
}

func TestBuildable_RequiresMakefile(t *testing.T) {
	p := testProject(t.TempDir())
	if err := p.Buildable(); err == nil {
		t.Fatalf("expected error without Makefile")
	}
	if err := os.WriteFile(p.MakefilePath(), []byte("TWEAK_NAME = Volify\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Buildable(); err != nil {
		t.Fatalf("buildable failed: %v", err)
	}
}

func TestScaffold_WritesProjectTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Volify")
	p := testProject(root)
	if err := Scaffold(p); err != nil {
		t.Fatalf("scaffold failed: %v", err)
	}

	for _, name := range []string{MakefileName, SourceFile, ControlFile, "Volify.plist", MetadataFile} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
	if fi, err := os.Stat(p.PackagesPath()); err != nil || !fi.IsDir() {
		t.Fatalf("missing packages dir: %v", err)
	}

	raw, err := os.ReadFile(p.MakefilePath())
	if err != nil {
		t.Fatal(err)
	}
	mk := string(raw)
	if !strings.Contains(mk, "TWEAK_NAME = Volify") {
		t.Fatalf("makefile missing tweak name:\n%s", mk)
	}
	if !strings.Contains(mk, "include $(THEOS)/makefiles/common.mk") {
		t.Fatalf("makefile must reference environment-supplied THEOS:\n%s", mk)
	}

	control, err := os.ReadFile(filepath.Join(root, ControlFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(control), "Package: com.example.volify") {
		t.Fatalf("control missing package id:\n%s", control)
	}

	if err := Scaffold(p); err == nil {
		t.Fatalf("expected refusal to overwrite existing tree")
	}
}
