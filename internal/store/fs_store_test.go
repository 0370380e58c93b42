package store

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/gradascent/internal/vector"
)

func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}

	return store, tempDir
}

// createTestCheckpoint creates a checkpoint of a 2-D sincos run.
func createTestCheckpoint(jobID string) *Checkpoint {
	return &Checkpoint{
		JobID:        jobID,
		Index:        7,
		StepSize:     0.5,
		Current:      []float64{1.2, 0.4},
		Value:        0.83,
		GradNorm:     0.12,
		InitialValue: -0.5,
		Timestamp:    time.Now(),
		Config: JobConfig{
			Objective:          "sincos",
			Start:              []float64{0.2, -2.1},
			StepSize:           1,
			CheckpointInterval: 5,
		},
	}
}

func TestNewFSStore(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "data")

	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
	if store.BaseDir() != tempDir {
		t.Errorf("Expected base dir %s, got %s", tempDir, store.BaseDir())
	}
}

func TestSaveAndLoadCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	jobID := "test-job-123"
	original := createTestCheckpoint(jobID)

	if err := store.SaveCheckpoint(jobID, original); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "jobs", jobID, "checkpoint.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Checkpoint file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should have been renamed")
	}

	loaded, err := store.LoadCheckpoint(jobID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	if loaded.Index != original.Index {
		t.Errorf("Expected index %d, got %d", original.Index, loaded.Index)
	}
	if loaded.StepSize != original.StepSize {
		t.Errorf("Expected step size %v, got %v", original.StepSize, loaded.StepSize)
	}
	if len(loaded.Current) != 2 || loaded.Current[0] != 1.2 || loaded.Current[1] != 0.4 {
		t.Errorf("Expected current [1.2 0.4], got %v", loaded.Current)
	}
	if loaded.Config.Objective != "sincos" {
		t.Errorf("Expected objective sincos, got %s", loaded.Config.Objective)
	}
	if !loaded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Expected timestamp %v, got %v", original.Timestamp, loaded.Timestamp)
	}
}

func TestSaveCheckpointOverwrites(t *testing.T) {
	store, _ := setupTestStore(t)

	jobID := "overwrite"
	cp := createTestCheckpoint(jobID)
	if err := store.SaveCheckpoint(jobID, cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	cp.Index = 12
	cp.Done = true
	if err := store.SaveCheckpoint(jobID, cp); err != nil {
		t.Fatalf("Second SaveCheckpoint failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint(jobID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.Index != 12 || !loaded.Done {
		t.Errorf("Expected updated checkpoint, got index %d done %v", loaded.Index, loaded.Done)
	}
}

func TestSaveCheckpointInvalidArgs(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveCheckpoint("", createTestCheckpoint("x")); err == nil {
		t.Error("Expected error for empty jobID")
	}
	if err := store.SaveCheckpoint("x", nil); err == nil {
		t.Error("Expected error for nil checkpoint")
	}
}

func TestLoadCheckpointNotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadCheckpoint("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLoadCheckpointCorrupted(t *testing.T) {
	store, _ := setupTestStore(t)

	jobDir := store.JobDir("broken")
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "checkpoint.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.LoadCheckpoint("broken"); err == nil {
		t.Error("Expected error for corrupted checkpoint")
	}
}

func TestLoadCheckpointInvalid(t *testing.T) {
	store, _ := setupTestStore(t)

	cp := createTestCheckpoint("invalid")
	cp.StepSize = 0
	if err := store.SaveCheckpoint("invalid", cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	_, err := store.LoadCheckpoint("invalid")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Field != "StepSize" {
		t.Errorf("Expected StepSize field, got %s", verr.Field)
	}
}

func TestListCheckpoints(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("Expected no checkpoints, got %d", len(infos))
	}

	base := time.Now()
	for i := 0; i < 3; i++ {
		jobID := fmt.Sprintf("job-%d", i)
		cp := createTestCheckpoint(jobID)
		// Save in reverse time order to check sorting
		cp.Timestamp = base.Add(time.Duration(3-i) * time.Minute)
		cp.Index = i
		if err := store.SaveCheckpoint(jobID, cp); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
	}

	// A job directory without a checkpoint is ignored
	if err := os.MkdirAll(store.JobDir("empty"), 0755); err != nil {
		t.Fatal(err)
	}

	infos, err = store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 checkpoints, got %d", len(infos))
	}

	if infos[0].JobID != "job-2" || infos[2].JobID != "job-0" {
		t.Errorf("Expected oldest first, got %s ... %s", infos[0].JobID, infos[2].JobID)
	}
	if infos[0].Objective != "sincos" {
		t.Errorf("Expected objective in info, got %q", infos[0].Objective)
	}
}

func TestListCheckpointsSkipsCorrupted(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveCheckpoint("good", createTestCheckpoint("good")); err != nil {
		t.Fatal(err)
	}
	jobDir := store.JobDir("bad")
	os.MkdirAll(jobDir, 0755)
	os.WriteFile(filepath.Join(jobDir, "checkpoint.json"), []byte("garbage"), 0644)

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 1 || infos[0].JobID != "good" {
		t.Errorf("Expected only the good checkpoint, got %v", infos)
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	store, _ := setupTestStore(t)

	jobID := "to-delete"
	if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
		t.Fatal(err)
	}
	// Other artifacts go along with the checkpoint
	tw, err := NewTraceWriter(store.JobDir(jobID), false)
	if err != nil {
		t.Fatal(err)
	}
	tw.Close()

	if err := store.DeleteCheckpoint(jobID); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}

	if _, err := os.Stat(store.JobDir(jobID)); !os.IsNotExist(err) {
		t.Error("Job directory should be removed")
	}
	if _, err := store.LoadCheckpoint(jobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteCheckpoint(jobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestConcurrentSaves(t *testing.T) {
	store, _ := setupTestStore(t)

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			jobID := fmt.Sprintf("concurrent-%d", i)
			done <- store.SaveCheckpoint(jobID, createTestCheckpoint(jobID))
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent save failed: %v", err)
		}
	}

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 10 {
		t.Errorf("Expected 10 checkpoints, got %d", len(infos))
	}
}

func TestSaveAndLoadCheckpointNonFinite(t *testing.T) {
	store, _ := setupTestStore(t)

	cp := createTestCheckpoint("job-inf")
	cp.Value = vector.Float(math.Inf(-1))
	cp.GradNorm = vector.Float(math.NaN())
	if err := store.SaveCheckpoint("job-inf", cp); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint("job-inf")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if !math.IsInf(float64(loaded.Value), -1) || !math.IsNaN(float64(loaded.GradNorm)) {
		t.Errorf("Expected -Inf and NaN, got %v and %v", loaded.Value, loaded.GradNorm)
	}

	infos, err := store.ListCheckpoints()
	if err != nil || len(infos) != 1 {
		t.Fatalf("Expected one listed checkpoint, got %d (%v)", len(infos), err)
	}
}
