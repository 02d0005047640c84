package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrRunDirectoryMissing means the run directory cannot be observed at all.
// It is distinct from a pipeline that ran and failed.
var ErrRunDirectoryMissing = errors.New("run directory missing")

const (
	// StateDir holds the files nfwatch itself writes at launch.
	StateDir = ".nfwatch"

	engineStateDir = ".nextflow"
	engineLog      = ".nextflow.log"
	enginePID      = ".nextflow.pid"
)

// Workspace is a run directory and the artifacts found in it. Paths are
// advisory: the engine may not have created any of them yet.
type Workspace struct {
	Path string
}

// LaunchMetadata is written next to the run when nfwatch starts the engine,
// so a later attach can recover the command, start time and pid.
type LaunchMetadata struct {
	Command   []string  `json:"command"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version,omitempty"`
}

// Create makes the run directory and the nfwatch state directory inside it.
func Create(path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve run directory: %w", err)
	}

	w := &Workspace{Path: abs}
	if err := os.MkdirAll(w.statePath(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return w, nil
}

// Open returns the workspace at path, failing with ErrRunDirectoryMissing
// when it does not exist.
func Open(path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve run directory: %w", err)
	}
	w := &Workspace{Path: abs}
	if err := w.Check(); err != nil {
		return nil, err
	}
	return w, nil
}

// Check verifies the run directory is still there.
func (w *Workspace) Check() error {
	info, err := os.Stat(w.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", w.Path, ErrRunDirectoryMissing)
		}
		return fmt.Errorf("failed to stat run directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", w.Path, ErrRunDirectoryMissing)
	}
	return nil
}

func (w *Workspace) statePath() string { return filepath.Join(w.Path, StateDir) }

func (w *Workspace) StdoutPath() string { return filepath.Join(w.statePath(), "stdout.log") }
func (w *Workspace) StderrPath() string { return filepath.Join(w.statePath(), "stderr.log") }
func (w *Workspace) LaunchPath() string { return filepath.Join(w.statePath(), "launch.json") }
func (w *Workspace) LogPath() string { return filepath.Join(w.Path, engineLog) }
func (w *Workspace) PIDPath() string { return filepath.Join(w.Path, enginePID) }
func (w *Workspace) EngineStateDir() string { return filepath.Join(w.Path, engineStateDir) }
func (w *Workspace) WorkDir() string { return filepath.Join(w.Path, "work") }

// OwnTracePath is where a launched run is told to write its trace.
func (w *Workspace) OwnTracePath() string { return filepath.Join(w.statePath(), "trace.txt") }

// TracePath returns the trace file to read: ours when present, otherwise the
// newest engine-default trace-*.txt in the run directory.
func (w *Workspace) TracePath() string {
	own := w.OwnTracePath()
	if _, err := os.Stat(own); err == nil {
		return own
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(w.Path, "trace*.txt"))
	if err != nil || len(matches) == 0 {
		return own
	}
	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]).After(modTime(matches[j]))
	})
	return matches[0]
}

// LockArtifacts lists the engine cache lock files under .nextflow.
func (w *Workspace) LockArtifacts() []string {
	matches, err := doublestar.FilepathGlob(filepath.Join(w.EngineStateDir(), "cache", "*", "db", "LOCK"))
	if err != nil {
		return nil
	}
	return matches
}

// RotateTrace moves an existing trace out of the way so a relaunch in the
// same directory does not trip over it.
func (w *Workspace) RotateTrace() error {
	path := w.OwnTracePath()
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	rotated := fmt.Sprintf("%s.%s", path, info.ModTime().Format("20060102-150405"))
	if err := os.Rename(path, rotated); err != nil {
		return fmt.Errorf("failed to rotate trace file: %w", err)
	}
	return nil
}

func (w *Workspace) WriteLaunchMetadata(meta *LaunchMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal launch metadata: %w", err)
	}

	if err := os.WriteFile(w.LaunchPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write launch.json: %w", err)
	}

	return nil
}

// ReadLaunchMetadata returns nil, nil when the run was not launched by nfwatch.
func (w *Workspace) ReadLaunchMetadata() (*LaunchMetadata, error) {
	data, err := os.ReadFile(w.LaunchPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read launch metadata: %w", err)
	}

	var meta LaunchMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse launch metadata: %w", err)
	}
	return &meta, nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// ModTime is the last modification time of path, zero when absent.
func ModTime(path string) time.Time { return modTime(path) }
