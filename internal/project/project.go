// Package project manages tweak project metadata and on-disk layout. Each
// project is a directory holding its Theos Makefile, sources, control file,
// and a packages/ output dir, with a small project.json record beside them.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	MetadataFile  = "project.json"
	MakefileName  = "Makefile"
	ControlFile   = "control"
	SourceFile    = "Tweak.x"
	PackagesDir   = "packages"
	ArtifactExt   = ".deb"
	defaultTarget = "SpringBoard"
)

var (
	nameRe     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	bundleIDRe = regexp.MustCompile(`^[a-z0-9-]+(\.[a-z0-9-]+)+$`)
)

type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BundleID      string    `json:"bundle_id"`
	TargetProcess string    `json:"target_process"`
	Root          string    `json:"root"`
	CreatedAt     time.Time `json:"created_at"`
}

func (p *Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if !nameRe.MatchString(p.Name) {
		return fmt.Errorf("invalid project name %q", p.Name)
	}
	if !bundleIDRe.MatchString(p.BundleID) {
		return fmt.Errorf("invalid bundle identifier %q", p.BundleID)
	}
	if strings.TrimSpace(p.TargetProcess) == "" {
		return errors.New("target process is required")
	}
	if strings.TrimSpace(p.Root) == "" {
		return errors.New("project root is required")
	}
	return nil
}

func (p *Project) MakefilePath() string {
	return filepath.Join(p.Root, MakefileName)
}

func (p *Project) PackagesPath() string {
	return filepath.Join(p.Root, PackagesDir)
}

func (p *Project) MetadataPath() string {
	return filepath.Join(p.Root, MetadataFile)
}

// Buildable reports whether the project has its build descriptor in place.
func (p *Project) Buildable() error {
	fi, err := os.Stat(p.MakefilePath())
	if err != nil {
		return fmt.Errorf("missing build descriptor: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("build descriptor %s is a directory", p.MakefilePath())
	}
	return nil
}

// Load reads the metadata record from a project root. Root in the returned
// record always reflects the directory it was loaded from, so moved project
// trees stay consistent.
func Load(root string) (*Project, error) {
	raw, err := os.ReadFile(filepath.Join(root, MetadataFile))
	if err != nil {
		return nil, err
	}
	var p Project
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	p.Root = root
	if p.TargetProcess == "" {
		p.TargetProcess = defaultTarget
	}
	return &p, nil
}

func (p *Project) Save() error {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal project metadata: %w", err)
	}
	if err := os.WriteFile(p.MetadataPath(), raw, 0o644); err != nil {
		return fmt.Errorf("write project metadata: %w", err)
	}
	return nil
}
