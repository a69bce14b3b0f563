package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	theosAssignRe = regexp.MustCompile(`^\s*(export\s+)?THEOS\s*:?=`)
	userTheosRe   = regexp.MustCompile(`/Users/[A-Za-z0-9._-]+/theos`)
)

// RepairDescriptor patches a Makefile that carries hardcoded toolchain paths
// from another development machine: THEOS assignments are commented out (the
// root comes from the child environment instead) and stray /Users/<x>/theos
// fragments become $(THEOS) references. A clean file is left untouched, and
// repeated runs are no-ops.
func RepairDescriptor(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read build descriptor: %w", err)
	}

	lines := strings.Split(string(raw), "\n")
	changed := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		if userTheosRe.MatchString(line) {
			line = userTheosRe.ReplaceAllString(line, "$(THEOS)")
			changed = true
		}
		if theosAssignRe.MatchString(line) {
			line = "# " + line
			changed = true
		}
		lines[i] = line
	}
	if !changed {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return false, fmt.Errorf("write build descriptor: %w", err)
	}
	return true, nil
}
