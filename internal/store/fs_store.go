package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

const (
	jobsDirName    = "jobs"
	checkpointFile = "checkpoint.json"
)

var errEmptyJobID = errors.New("jobID cannot be empty")

// FSStore keeps checkpoints on disk under <baseDir>/jobs/<jobID>/.
//
// Writes go through a temp file and a rename, so concurrent readers
// never see a partial checkpoint and no locking is needed.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store, creating baseDir if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// JobDir returns the directory holding the artifacts of jobID.
func (fs *FSStore) JobDir(jobID string) string {
	return filepath.Join(fs.baseDir, jobsDirName, jobID)
}

func (fs *FSStore) checkpointPath(jobID string) string {
	return filepath.Join(fs.JobDir(jobID), checkpointFile)
}

// SaveCheckpoint atomically replaces the checkpoint of jobID.
func (fs *FSStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return errEmptyJobID
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	path := fs.checkpointPath(jobID)
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	slog.Debug("Checkpoint saved", "job_id", jobID, "index", checkpoint.Index, "path", path)
	return nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and validates the checkpoint of jobID.
func (fs *FSStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, errEmptyJobID
	}

	data, err := os.ReadFile(fs.checkpointPath(jobID))
	switch {
	case os.IsNotExist(err):
		return nil, &NotFoundError{JobID: jobID}
	case err != nil:
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	cp := new(Checkpoint)
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint %s: %w", jobID, err)
	}
	return cp, nil
}

// ListCheckpoints returns metadata for all readable checkpoints, oldest
// first. Job directories without a checkpoint are ignored.
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	paths, err := filepath.Glob(filepath.Join(fs.baseDir, jobsDirName, "*", checkpointFile))
	if err != nil {
		return nil, fmt.Errorf("failed to scan jobs directory: %w", err)
	}

	infos := make([]CheckpointInfo, 0, len(paths))
	for _, p := range paths {
		jobID := filepath.Base(filepath.Dir(p))
		cp, err := fs.LoadCheckpoint(jobID)
		if err != nil {
			slog.Warn("Skipping unreadable checkpoint", "job_id", jobID, "error", err)
			continue
		}
		infos = append(infos, cp.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.Before(infos[j].Timestamp)
	})
	return infos, nil
}

// DeleteCheckpoint removes the job directory with all its artifacts.
func (fs *FSStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return errEmptyJobID
	}

	dir := fs.JobDir(jobID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{JobID: jobID}
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "job_id", jobID, "path", dir)
	return nil
}
