package theos

import (
	"strings"
	"testing"
)

func TestEnvironment_FabricatesToolchainVars(t *testing.T) {
	env := Environment("/opt/theos")

	want := map[string]string{
		"THEOS":                     "/opt/theos",
		"THEOS_MAKE_PATH":           "/opt/theos/makefiles",
		"THEOS_BIN_PATH":            "/opt/theos/bin",
		"THEOS_LIBRARY_PATH":        "/opt/theos/lib",
		"THEOS_INCLUDE_PATH":        "/opt/theos/include",
		"THEOS_VENDOR_LIBRARY_PATH": "/opt/theos/vendor/lib",
		"THEOS_VENDOR_INCLUDE_PATH": "/opt/theos/vendor/include",
		"THEOS_DEVICE_IP":           "127.0.0.1",
		"THEOS_DEVICE_PORT":         "22",
		"THEOS_PACKAGE_SCHEME":      "rootless",
		"HOME":                      "/var/mobile",
		"TMPDIR":                    "/var/mobile/tmp",
	}
	got := map[string]string{}
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			t.Fatalf("malformed env entry %q", kv)
		}
		got[k] = v
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q", k, got[k], v)
		}
	}

	path, ok := got["PATH"]
	if !ok {
		t.Fatalf("PATH missing")
	}
	if !strings.HasPrefix(path, "/opt/theos/bin:") {
		t.Fatalf("PATH should lead with toolchain bin, got %q", path)
	}
	if !strings.Contains(path, "/usr/bin") {
		t.Fatalf("PATH missing system dirs: %q", path)
	}
}

func TestEnvironment_EmptyRootFallsBack(t *testing.T) {
	env := Environment("  ")
	found := false
	for _, kv := range env {
		if kv == "THEOS="+DefaultRoot {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected default root in %v", env)
	}
}

func TestSearchDirs_ToolchainFirst(t *testing.T) {
	dirs := SearchDirs("/var/theos")
	if len(dirs) == 0 || dirs[0] != "/var/theos/bin" {
		t.Fatalf("SearchDirs = %v", dirs)
	}
}
