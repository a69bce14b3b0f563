package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tweakforge/tweakforge/internal/config"
)

var ErrNotFound = errors.New("project not found")

// Store manages the projects directory under the daemon's base dir.
type Store struct {
	cfg config.Config
	mu  sync.Mutex
}

func NewStore(cfg config.Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) EnsureDirs() error {
	dirs := []string{s.cfg.BaseDir, s.cfg.ProjectsDir(), s.cfg.HistoryDir(), s.cfg.TmpDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %q: %w", dir, err)
		}
	}
	return nil
}

// Create scaffolds a new project tree named after the project.
func (s *Store) Create(name, bundleID, targetProcess string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(targetProcess) == "" {
		targetProcess = defaultTarget
	}
	p := &Project{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(name),
		BundleID:      strings.TrimSpace(bundleID),
		TargetProcess: strings.TrimSpace(targetProcess),
		Root:          filepath.Join(s.cfg.ProjectsDir(), strings.TrimSpace(name)),
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(p.Root); err == nil {
		return nil, fmt.Errorf("project directory already exists: %s", p.Name)
	}
	if err := Scaffold(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Adopt registers an already-populated directory (e.g. an imported bundle)
// as a project, writing metadata beside whatever sources it carries.
func (s *Store) Adopt(root, name, bundleID, targetProcess string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(targetProcess) == "" {
		targetProcess = defaultTarget
	}
	p := &Project{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(name),
		BundleID:      strings.TrimSpace(bundleID),
		TargetProcess: strings.TrimSpace(targetProcess),
		Root:          root,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(p.PackagesPath(), 0o755); err != nil {
		return nil, fmt.Errorf("create packages dir: %w", err)
	}
	if err := p.Save(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) List() ([]*Project, error) {
	entries, err := os.ReadDir(s.cfg.ProjectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list projects: %w", err)
	}

	projects := make([]*Project, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		root := filepath.Join(s.cfg.ProjectsDir(), entry.Name())
		p, err := Load(root)
		if err != nil {
			if os.IsNotExist(err) {
				// Directory without metadata is not a project.
				continue
			}
			return nil, fmt.Errorf("load project %q: %w", entry.Name(), err)
		}
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *Store) Get(id string) (*Project, error) {
	projects, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Get(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(p.Root)
}

func (s *Store) HistoryPath(projectID string) string {
	return filepath.Join(s.cfg.HistoryDir(), projectID+".json")
}
