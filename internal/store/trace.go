package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/gradascent/internal/ascent"
	"github.com/cwbudde/gradascent/internal/vector"
)

// TraceEntry is one iteration of a run, stored as a JSON line in
// trace.jsonl.
type TraceEntry struct {
	Iteration int           `json:"iteration"`
	StepSize  float64       `json:"stepSize"`
	Point     vector.Floats `json:"point"`
	Value     vector.Float  `json:"value"`
	GradNorm  vector.Float  `json:"gradNorm"`
	NextValue vector.Float  `json:"nextValue"`
	TestValue vector.Float  `json:"testValue"`

	// Rule is the transition the state selects: double, keep or halve.
	Rule string `json:"rule"`

	Timestamp time.Time `json:"timestamp"`
}

// NewTraceEntry converts an iteration state into a trace entry.
func NewTraceEntry(s ascent.State) TraceEntry {
	return TraceEntry{
		Iteration: s.Index,
		StepSize:  s.StepSize,
		Point:     s.Current.Vector.Values(),
		Value:     vector.Float(s.Current.Value),
		GradNorm:  vector.Float(s.GradientNorm()),
		NextValue: vector.Float(s.Next.Value),
		TestValue: vector.Float(s.Test.Value),
		Rule:      string(s.Rule()),
		Timestamp: time.Now(),
	}
}

// TraceFile is the name of the trace inside a job directory.
const TraceFile = "trace.jsonl"

// TraceWriter writes trace entries as JSON lines. Writes are buffered
// and serialized, so one writer can be shared between goroutines.
type TraceWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder
}

// NewTraceWriter opens trace.jsonl in jobDir, creating the directory. An
// existing trace is truncated unless append is set.
func NewTraceWriter(jobDir string, append bool) (*TraceWriter, error) {
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	mode := os.O_TRUNC
	if append {
		mode = os.O_APPEND
	}
	file, err := os.OpenFile(filepath.Join(jobDir, TraceFile), os.O_CREATE|os.O_WRONLY|mode, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	buf := bufio.NewWriterSize(file, 64*1024)
	return &TraceWriter{file: file, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write buffers one entry. It reaches the file on Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Observe writes s as a trace entry. It has the shape of an
// ascent.Observer, which cannot fail, so errors are logged.
func (tw *TraceWriter) Observe(s ascent.State) {
	if err := tw.Write(NewTraceEntry(s)); err != nil {
		slog.Error("Failed to write trace entry", "path", tw.Path(), "iteration", s.Index, "error", err)
	}
}

// Flush writes buffered entries and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.flush()
}

func (tw *TraceWriter) flush() error {
	if err := tw.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	ferr := tw.flush()
	if err := tw.file.Close(); err != nil && ferr == nil {
		ferr = fmt.Errorf("failed to close trace: %w", err)
	}
	return ferr
}

// Path returns the location of the trace file.
func (tw *TraceWriter) Path() string {
	return tw.file.Name()
}

// TraceReader decodes the entries of a trace one at a time.
type TraceReader struct {
	file *os.File
	dec  *json.Decoder
}

// NewTraceReader opens the trace in jobDir. A missing trace is reported
// as a NotFoundError for the job.
func NewTraceReader(jobDir string) (*TraceReader, error) {
	file, err := os.Open(filepath.Join(jobDir, TraceFile))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{JobID: filepath.Base(jobDir)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &TraceReader{file: file, dec: json.NewDecoder(bufio.NewReader(file))}, nil
}

// Read returns the next entry, or io.EOF after the last one.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	var entry TraceEntry
	if err := tr.dec.Decode(&entry); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to decode trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads the remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

func (tr *TraceReader) Close() error {
	return tr.file.Close()
}

// ReadTrace reads the whole trace in jobDir.
func ReadTrace(jobDir string) ([]TraceEntry, error) {
	tr, err := NewTraceReader(jobDir)
	if err != nil {
		return nil, err
	}
	defer tr.Close()
	return tr.ReadAll()
}

// DeleteTrace removes the trace in jobDir. A missing trace is not an
// error.
func DeleteTrace(jobDir string) error {
	err := os.Remove(filepath.Join(jobDir, TraceFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
