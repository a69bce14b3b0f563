// Package theos fabricates the environment Theos toolchain processes run
// under. The daemon never passes its own environment through to children;
// everything a build needs is constructed here from the configured root.
package theos

import (
	"path/filepath"
	"strings"
)

const (
	DefaultRoot = "/var/theos"

	// Placeholders expected by stock Theos makefiles. Builds run on the
	// device itself, so the "remote" device is always loopback.
	deviceIP      = "127.0.0.1"
	devicePort    = "22"
	packageScheme = "rootless"

	homeDir = "/var/mobile"
	tmpDir  = "/var/mobile/tmp"
)

var systemBinDirs = []string{
	"/usr/bin",
	"/usr/local/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
}

// SearchDirs returns the ordered candidate directories used to resolve bare
// command names, toolchain bin dirs first.
func SearchDirs(root string) []string {
	root = cleanRoot(root)
	dirs := []string{filepath.Join(root, "bin")}
	dirs = append(dirs, systemBinDirs...)
	return dirs
}

// Environment returns the full child environment for toolchain processes:
// a restricted PATH, the build identity's home and temp dirs, the Theos root
// with its derived paths, and fixed device/packaging defaults.
func Environment(root string) []string {
	root = cleanRoot(root)
	return []string{
		"PATH=" + strings.Join(SearchDirs(root), ":"),
		"HOME=" + homeDir,
		"TMPDIR=" + tmpDir,
		"THEOS=" + root,
		"THEOS_MAKE_PATH=" + filepath.Join(root, "makefiles"),
		"THEOS_BIN_PATH=" + filepath.Join(root, "bin"),
		"THEOS_LIBRARY_PATH=" + filepath.Join(root, "lib"),
		"THEOS_INCLUDE_PATH=" + filepath.Join(root, "include"),
		"THEOS_VENDOR_LIBRARY_PATH=" + filepath.Join(root, "vendor", "lib"),
		"THEOS_VENDOR_INCLUDE_PATH=" + filepath.Join(root, "vendor", "include"),
		"THEOS_DEVICE_IP=" + deviceIP,
		"THEOS_DEVICE_PORT=" + devicePort,
		"THEOS_PACKAGE_SCHEME=" + packageScheme,
	}
}

func cleanRoot(root string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		return DefaultRoot
	}
	return filepath.Clean(root)
}
