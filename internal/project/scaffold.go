package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scaffold writes the initial project tree: Makefile, tweak source, control
// file, target filter plist, packages/ output dir, and the metadata record.
// It refuses to overwrite files that already exist.
func Scaffold(p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return fmt.Errorf("create project root: %w", err)
	}
	if err := os.MkdirAll(p.PackagesPath(), 0o755); err != nil {
		return fmt.Errorf("create packages dir: %w", err)
	}

	files := map[string]string{
		MakefileName:      makefileTemplate(p),
		SourceFile:        sourceTemplate(p),
		ControlFile:       controlTemplate(p),
		p.Name + ".plist": plistTemplate(p),
	}
	for name, content := range files {
		path := filepath.Join(p.Root, name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("refusing to overwrite existing %s", name)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return p.Save()
}

func makefileTemplate(p *Project) string {
	return strings.Join([]string{
		"TARGET := iphone:clang:latest:14.0",
		"INSTALL_TARGET_PROCESSES = " + p.TargetProcess,
		"",
		"include $(THEOS)/makefiles/common.mk",
		"",
		"TWEAK_NAME = " + p.Name,
		"",
		p.Name + "_FILES = " + SourceFile,
		p.Name + "_CFLAGS = -fobjc-arc",
		"",
		"include $(THEOS_MAKE_PATH)/tweak.mk",
		"",
	}, "\n")
}

func sourceTemplate(p *Project) string {
	return strings.Join([]string{
		"#import <Foundation/Foundation.h>",
		"",
		"%hook " + p.TargetProcess,
		"",
		"// Hooked methods for " + p.Name + " go here.",
		"",
		"%end",
		"",
	}, "\n")
}

func controlTemplate(p *Project) string {
	return strings.Join([]string{
		"Package: " + p.BundleID,
		"Name: " + p.Name,
		"Version: 0.0.1",
		"Architecture: iphoneos-arm64",
		"Description: A tweak built with tweakforge.",
		"Maintainer: tweakforge",
		"Section: Tweaks",
		"Depends: mobilesubstrate",
		"",
	}, "\n")
}

func plistTemplate(p *Project) string {
	return "{ Filter = { Executables = ( \"" + p.TargetProcess + "\" ); }; }\n"
}
