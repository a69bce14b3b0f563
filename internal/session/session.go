// Package session tracks build and install runs and their logs, and keeps a
// per-project history of finished runs on disk.
package session

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindBuild   Kind = "BUILD"
	KindInstall Kind = "INSTALL"
)

type State string

const (
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Record is one build or install run. There is no queued state: triggers
// that arrive while another run is active are dropped at submission.
type Record struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      Kind   `json:"kind"`

	State   State  `json:"state"`
	Message string `json:"message,omitempty"`

	ArtifactPath string `json:"artifact_path,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func newRecord(id, projectID string, kind Kind, now time.Time) *Record {
	n := now.UTC()
	return &Record{
		ID:        id,
		ProjectID: projectID,
		Kind:      kind,
		State:     StateRunning,
		StartedAt: n,
		UpdatedAt: n,
	}
}

func (r *Record) finish(now time.Time, success bool, message, artifactPath string) error {
	if r.State != StateRunning {
		return fmt.Errorf("invalid transition %s -> terminal", r.State)
	}
	n := now.UTC()
	r.State = StateFailed
	if success {
		r.State = StateSucceeded
	}
	r.Message = message
	r.ArtifactPath = artifactPath
	r.UpdatedAt = n
	r.FinishedAt = &n
	return nil
}

func (r *Record) Terminal() bool {
	return r.State == StateSucceeded || r.State == StateFailed
}
