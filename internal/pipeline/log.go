package pipeline

import (
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "INFO"
	LevelOutput  Level = "OUTPUT"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelSuccess Level = "SUCCESS"
)

// LogEntry is one line of the build or install log, in emission order.
type LogEntry struct {
	Message string    `json:"message"`
	Level   Level     `json:"level"`
	At      time.Time `json:"at"`
}

// LogFunc receives entries as a run produces them.
type LogFunc func(entry LogEntry)

// BuildResult is the terminal outcome of one pipeline run. Success with an
// empty ArtifactPath is the distinct "built, but no package found" case.
type BuildResult struct {
	Success      bool      `json:"success"`
	ProjectID    string    `json:"project_id"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	At           time.Time `json:"at"`
}

func (r BuildResult) ArtifactMissing() bool {
	return r.Success && r.ArtifactPath == ""
}

// LogBuffer is an append-only in-memory log consumed by the API layer.
// Reset clears it at the start of each run.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (b *LogBuffer) Append(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
}

func (b *LogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

func (b *LogBuffer) Entries() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}
