package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"invcrawler/pkg/logger"
)

// FileName is the name of the run state file inside the state directory
const FileName = "last-run.json"

// Stop reasons recorded in RunState.StopReason
const (
	StopTargetReached = "target_reached"
	StopExhausted     = "candidates_exhausted"
	StopCancelled     = "cancelled"
	StopFailed        = "failed"
)

// RunState summarizes one crawl run
type RunState struct {
	RunID          uuid.UUID  `json:"run_id"`
	Target         int        `json:"target"`
	Workers        int        `json:"workers"`
	Mapped         int        `json:"mapped"`
	MappedThisRun  int        `json:"mapped_this_run"`
	Empty          int        `json:"empty"`
	Discarded      int        `json:"discarded"`
	Failed         int        `json:"failed"`
	OrphansDeleted int        `json:"orphans_deleted"`
	StopReason     string     `json:"stop_reason,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int        `json:"version"`
}

// NewRunState starts a run state with a fresh run id
func NewRunState(target, workers int) *RunState {
	now := time.Now()
	return &RunState{
		RunID:     uuid.New(),
		Target:    target,
		Workers:   workers,
		StartedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Finish marks the run as done
func (s *RunState) Finish(reason string, err error) {
	now := time.Now()
	s.FinishedAt = &now
	s.StopReason = reason
	if err != nil {
		s.Error = err.Error()
	}
}

// Finished reports whether the run completed, successfully or not
func (s *RunState) Finished() bool {
	return s.FinishedAt != nil
}

// Duration returns how long the run took, or has taken so far
func (s *RunState) Duration() time.Duration {
	if s.FinishedAt != nil {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// Manager reads and writes the run state file
type Manager struct {
	path   string
	logger logger.Logger
}

// NewManager creates a manager writing into dir. An empty dir selects the
// platform data directory.
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		var err error
		dir, err = getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &Manager{
		path:   filepath.Join(dir, FileName),
		logger: logger.OrNop(log).WithField("component", "checkpoint"),
	}, nil
}

// Path returns the state file location
func (m *Manager) Path() string {
	return m.path
}

// Load reads the last run state. It returns nil without error when no run
// was recorded yet.
func (m *Manager) Load() (*RunState, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open run state: %w", err)
	}
	defer file.Close()

	var state RunState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode run state: %w", err)
	}
	return &state, nil
}

// Save writes state atomically
func (m *Manager) Save(state *RunState) error {
	state.UpdatedAt = time.Now()

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode run state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	m.logger.DebugWithFields("Run state saved", map[string]interface{}{
		"run_id": state.RunID.String(),
		"mapped": state.Mapped,
		"stop":   state.StopReason,
	})
	return nil
}

// Delete removes the state file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete run state: %w", err)
	}
	return nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			return filepath.Join(xdgDataHome, "invcrawler"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "invcrawler"), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "invcrawler"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "invcrawler"), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}
