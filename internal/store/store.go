package store

// Store persists run checkpoints.
// Implementations must be safe for concurrent use.
//
// Errors:
//   - ErrNotFound (checked with errors.Is) when a checkpoint doesn't exist
//   - wrapped I/O or serialization errors otherwise
type Store interface {
	// SaveCheckpoint atomically saves the checkpoint of a job, replacing
	// any previous one.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint of a job.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for all checkpoints. Unreadable
	// checkpoints are skipped.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint and every artifact of the
	// job (trace.jsonl, heatmap.png).
	DeleteCheckpoint(jobID string) error

	// JobDir returns the directory holding the job's artifacts.
	JobDir(jobID string) string
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint or trace.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "checkpoint not found: " + e.JobID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
