package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Names of the bookkeeping files placed in each scratch directory.
const (
	SnapshotFileName = "context_snapshot.json"
	InputsFileName   = "inputs.json"
	ScriptFileName   = "script.py"
)

// ContextStore persists per-project variable snapshots between
// executions. Each project owns one snapshot file under the store root.
type ContextStore struct {
	rootDir string
}

// NewContextStore creates a snapshot store rooted at rootDir.
func NewContextStore(rootDir string) (*ContextStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("root dir is required")
	}
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create context store: %w", err)
	}
	return &ContextStore{rootDir: rootDir}, nil
}

// Restore copies the project's saved snapshot into scratchDir so the
// next script run starts from it. Missing snapshots are not an error.
func (s *ContextStore) Restore(projectID, scratchDir string) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	data, err := os.ReadFile(s.snapshotPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read context snapshot: %w", err)
	}
	target := filepath.Join(scratchDir, SnapshotFileName)
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("failed to restore context snapshot: %w", err)
	}
	return nil
}

// Save persists the snapshot left in scratchDir as the project's
// current state. A scratch dir without a snapshot file leaves the
// stored state untouched.
func (s *ContextStore) Save(projectID, scratchDir string) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(scratchDir, SnapshotFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read scratch snapshot: %w", err)
	}
	dir := filepath.Join(s.rootDir, projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create project dir: %w", err)
	}
	path := s.snapshotPath(projectID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write context snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize context snapshot: %w", err)
	}
	return nil
}

// Load returns the project's saved variable bindings. Missing snapshots
// return an empty map.
func (s *ContextStore) Load(projectID string) (map[string]any, error) {
	if err := validateProjectID(projectID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.snapshotPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read context snapshot: %w", err)
	}
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse context snapshot: %w", err)
	}
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	return snapshot, nil
}

// Delete removes the project's saved state.
func (s *ContextStore) Delete(projectID string) error {
	if err := validateProjectID(projectID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.rootDir, projectID)); err != nil {
		return fmt.Errorf("failed to delete project context: %w", err)
	}
	return nil
}

func (s *ContextStore) snapshotPath(projectID string) string {
	return filepath.Join(s.rootDir, projectID, SnapshotFileName)
}

func validateProjectID(projectID string) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	if strings.ContainsAny(projectID, "/\\") || strings.Contains(projectID, "..") {
		return fmt.Errorf("invalid project id: %q", projectID)
	}
	return nil
}

// readScratchSnapshot parses the snapshot a script left behind in its
// scratch dir. Absent or unparseable files yield nil.
func readScratchSnapshot(scratchDir string) map[string]any {
	data, err := os.ReadFile(filepath.Join(scratchDir, SnapshotFileName))
	if err != nil {
		return nil
	}
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil
	}
	return snapshot
}
