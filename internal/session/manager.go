package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tweakforge/tweakforge/internal/config"
	"github.com/tweakforge/tweakforge/internal/installer"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/project"
)

var ErrNoArtifact = errors.New("no package artifact to install")

// Manager runs at most one session at a time. The device has a single
// toolchain and a single dpkg database, so overlapping runs are dropped
// rather than queued.
type Manager struct {
	cfg       config.Config
	store     *project.Store
	pipe      *pipeline.Pipeline
	installer *installer.Installer

	mu       sync.Mutex
	baseCtx  context.Context
	sessions map[string]*Record
	logs     map[string]*pipeline.LogBuffer
	activeID string
	cancel   context.CancelFunc
}

func New(cfg config.Config, st *project.Store, p *pipeline.Pipeline, inst *installer.Installer) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		pipe:      p,
		installer: inst,
		baseCtx:   context.Background(),
		sessions:  map[string]*Record{},
		logs:      map[string]*pipeline.LogBuffer{},
	}
}

// Start prepares storage and pins the lifetime context that all runs derive
// from, so daemon shutdown cancels the active run.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.store.EnsureDirs(); err != nil {
		return err
	}
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
	return nil
}

// StartBuild begins a build session for the project and returns immediately.
// It returns pipeline.ErrBuildRunning when another session is active.
func (m *Manager) StartBuild(projectID string) (*Record, error) {
	proj, err := m.store.Get(projectID)
	if err != nil {
		return nil, err
	}

	rec, buf, runCtx, err := m.begin(projectID, KindBuild)
	if err != nil {
		return nil, err
	}

	go func() {
		result, err := m.pipe.Compile(runCtx, proj, buf.Append)
		if err != nil {
			m.end(rec.ID, false, err.Error(), "")
			return
		}
		message := "build succeeded"
		if !result.Success {
			message = "build failed"
		} else if result.ArtifactMissing() {
			message = "build succeeded but produced no package"
		}
		m.end(rec.ID, result.Success, message, result.ArtifactPath)
	}()

	out := *rec
	return &out, nil
}

// StartInstall begins an install session. An empty artifactPath installs the
// most recent package the project has built.
func (m *Manager) StartInstall(projectID, artifactPath string) (*Record, error) {
	proj, err := m.store.Get(projectID)
	if err != nil {
		return nil, err
	}
	if artifactPath == "" {
		artifactPath = pipeline.LatestArtifact(proj.PackagesPath())
	}
	if artifactPath == "" {
		return nil, ErrNoArtifact
	}
	if _, err := os.Stat(artifactPath); err != nil {
		return nil, fmt.Errorf("package artifact: %w", err)
	}

	rec, buf, runCtx, err := m.begin(projectID, KindInstall)
	if err != nil {
		return nil, err
	}

	go func() {
		result := m.installer.Install(runCtx, artifactPath, buf.Append)
		message := "install succeeded"
		if !result.Success {
			message = "install failed"
		}
		m.end(rec.ID, result.Success, message, result.ArtifactPath)
	}()

	out := *rec
	return &out, nil
}

// Cancel stops the active session. It reports whether id was active.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID != id || m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

func (m *Manager) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Log returns the entries emitted so far by the session.
func (m *Manager) Log(id string) ([]pipeline.LogEntry, bool) {
	m.mu.Lock()
	buf, ok := m.logs[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return buf.Entries(), true
}

// Active returns the currently running session, if any.
func (m *Manager) Active() (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == "" {
		return Record{}, false
	}
	rec, ok := m.sessions[m.activeID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// History returns the project's finished sessions, oldest first.
func (m *Manager) History(projectID string) ([]Record, error) {
	raw, err := os.ReadFile(m.store.HistoryPath(projectID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}
	return recs, nil
}

func (m *Manager) begin(projectID string, kind Kind) (*Record, *pipeline.LogBuffer, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID != "" {
		return nil, nil, nil, pipeline.ErrBuildRunning
	}

	rec := newRecord(uuid.NewString(), projectID, kind, time.Now())
	buf := &pipeline.LogBuffer{}
	runCtx, cancel := context.WithTimeout(m.baseCtx, m.cfg.BuildTimeout)

	m.sessions[rec.ID] = rec
	m.logs[rec.ID] = buf
	m.activeID = rec.ID
	m.cancel = cancel
	return rec, buf, runCtx, nil
}

func (m *Manager) end(id string, success bool, message, artifactPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if ok {
		_ = rec.finish(time.Now(), success, message, artifactPath)
		_ = m.appendHistory(*rec)
	}
	if m.activeID == id {
		m.activeID = ""
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
	}
}

func (m *Manager) appendHistory(rec Record) error {
	recs, err := m.History(rec.ProjectID)
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	raw, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(m.store.HistoryPath(rec.ProjectID), raw, 0o644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}
