package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// On-disk layout, one directory per run under the output root:
//
//	<root>/<runID>/record.json       full run record
//	<root>/<runID>/decisions.json    gate decision store (owned by gate pkg)
//	<root>/<runID>/intermediate/     working artifacts
//	<root>/<runID>/final/            deliverable artifacts
//	<root>/<runID>/cancelled.marker  best-effort marker on cooperative abort
const (
	RecordFileName    = "record.json"
	DecisionsFileName = "decisions.json"
	IntermediateDir   = "intermediate"
	FinalDir          = "final"
	CancelMarkerName  = "cancelled.marker"
)

// RunDir returns the directory for a run under the given output root.
func RunDir(root, runID string) string {
	return filepath.Join(root, runID)
}

// recordPath returns the run record file path.
func recordPath(root, runID string) string {
	return filepath.Join(root, runID, RecordFileName)
}

// ensureRunDirs creates the run directory and its artifact subdirectories.
func ensureRunDirs(root, runID string) error {
	dir := RunDir(root, runID)
	for _, d := range []string{dir, filepath.Join(dir, IntermediateDir), filepath.Join(dir, FinalDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create run directory: %w", err)
		}
	}
	return nil
}

// atomicWriteFile writes data to a file atomically by writing to a temporary
// file first, then renaming. The target file is never left in a
// partially-written state.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
