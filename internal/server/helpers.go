package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/cwbudde/gradascent/internal/objective"
	"github.com/cwbudde/gradascent/internal/plot"
	"github.com/cwbudde/gradascent/internal/store"
	"github.com/cwbudde/gradascent/internal/vector"
)

const (
	heatmapResolution = 128
	heatmapScale      = 3
)

// normalizeConfig fills unset fields of a job request from the objective
// defaults and rejects what the worker cannot run.
func normalizeConfig(config *JobConfig) error {
	if config.Objective == "" {
		return fmt.Errorf("objective is required")
	}
	obj, err := objective.Lookup(config.Objective)
	if err != nil {
		return err
	}
	config.Objective = obj.Name

	if len(config.Start) == 0 {
		config.Start = append([]float64(nil), obj.Start...)
	}
	if err := obj.Check(vector.New(config.Start...)); err != nil {
		return err
	}

	if config.StepSize == 0 {
		config.StepSize = obj.StepSize
	}
	if config.StepSize < 0 || math.IsNaN(config.StepSize) || math.IsInf(config.StepSize, 0) {
		return fmt.Errorf("stepSize must be positive, got %v", config.StepSize)
	}
	if config.CheckpointInterval < 0 {
		return fmt.Errorf("checkpointInterval cannot be negative")
	}
	if config.StepDelayMs < 0 {
		return fmt.Errorf("stepDelayMs cannot be negative")
	}
	return nil
}

// objectiveHeatmap samples a 2-D objective over its search box.
func objectiveHeatmap(obj objective.Objective) (*plot.Heatmap, error) {
	mid := (obj.Lower + obj.Upper) / 2
	return plot.NewHeatmap(obj.Func, vector.New(mid, mid), heatmapResolution, obj.Upper-obj.Lower)
}

// tracePath extracts the visited points of a trace.
func tracePath(entries []store.TraceEntry) []vector.Vector {
	path := make([]vector.Vector, 0, len(entries))
	for _, e := range entries {
		if len(e.Point) == 2 {
			path = append(path, vector.New(e.Point...))
		}
	}
	return path
}

// writeJSON encodes v before writing the header, so an encoding error
// still produces a clean 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, fmt.Sprintf("Failed to encode response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}
