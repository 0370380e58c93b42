package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwbudde/gradascent/internal/vector"
	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors the fields of the job and status endpoints that are
// displayed.
type jobStatus struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Status string `json:"status"`
	Config struct {
		Objective          string    `json:"objective"`
		Start              []float64 `json:"start"`
		StepSize           float64   `json:"stepSize"`
		CheckpointInterval int       `json:"checkpointInterval"`
		StepDelayMs        int       `json:"stepDelayMs"`
	} `json:"config"`
	Best                vector.Floats `json:"best"`
	BestValue           vector.Float  `json:"bestValue"`
	InitialValue        vector.Float  `json:"initialValue"`
	Iterations          int           `json:"iterations"`
	StepSize            float64       `json:"stepSize"`
	GradNorm            vector.Float  `json:"gradNorm"`
	Elapsed             float64       `json:"elapsed"`
	IterationsPerSecond float64       `json:"iterationsPerSecond"`
	Error               string        `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listJobs(out, fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}

	jobID := args[0]
	return getJobStatus(out, fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func fetchJSON(url string, v interface{}) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, url string) error {
	var jobs []jobStatus
	if _, err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(out, "Job ID: %s\n", job.ID)
		fmt.Fprintf(out, "  State: %s\n", job.State)
		fmt.Fprintf(out, "  Objective: %s\n", job.Config.Objective)
		if job.Iterations > 0 {
			fmt.Fprintf(out, "  Value: %.6g -> %.6g (%d iterations)\n", job.InitialValue, job.BestValue, job.Iterations)
		}
		fmt.Fprintln(out)
	}

	return nil
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := fetchJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Objective: %s\n", status.Config.Objective)
	fmt.Fprintf(out, "  Start: %v\n", status.Config.Start)
	fmt.Fprintf(out, "  Step size: %g\n", status.Config.StepSize)
	if status.Config.CheckpointInterval > 0 {
		fmt.Fprintf(out, "  Checkpoint interval: %d\n", status.Config.CheckpointInterval)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Iterations: %d\n", status.Iterations)
	if status.Status != "" {
		fmt.Fprintf(out, "  Stopped: %s\n", status.Status)
	}
	if len(status.Best) > 0 {
		fmt.Fprintf(out, "  Best: %v\n", status.Best)
		fmt.Fprintf(out, "  Initial value: %.6g\n", status.InitialValue)
		fmt.Fprintf(out, "  Best value: %.6g\n", status.BestValue)
		fmt.Fprintf(out, "  Improvement: %.6g\n", status.BestValue-status.InitialValue)
	}
	fmt.Fprintf(out, "  Step size: %g\n", status.StepSize)
	fmt.Fprintf(out, "  ||grad||: %.3g\n", status.GradNorm)

	if status.Elapsed > 0 {
		elapsed := time.Duration(status.Elapsed * float64(time.Second))
		fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	}
	if status.IterationsPerSecond > 0 {
		fmt.Fprintf(out, "  Throughput: %.0f iterations/sec\n", status.IterationsPerSecond)
	}

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}

	return nil
}
