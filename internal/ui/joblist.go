// Package ui renders the server's HTML pages as templ components.
// Templates live in *.templ files; run `templ generate` after editing them.
package ui

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
)

// JobListItem is one row of the job list page.
type JobListItem struct {
	ID           string
	State        string
	Objective    string
	Best         []float64
	Iterations   int
	BestValue    float64
	InitialValue float64
	StartTime    time.Time
	EndTime      *time.Time
	Error        string
}

// Duration returns the run time so far, or the total for finished jobs.
func (j JobListItem) Duration() time.Duration {
	end := time.Now()
	if j.EndTime != nil {
		end = *j.EndTime
	}
	return end.Sub(j.StartTime).Round(time.Millisecond)
}

// Improvement is the gain of the best value over the start value.
func (j JobListItem) Improvement() float64 {
	return j.BestValue - j.InitialValue
}

func jobURL(id, suffix string) templ.SafeURL {
	return templ.SafeURL("/api/v1/jobs/" + url.PathEscape(id) + suffix)
}

func formatPoint(p []float64) string {
	if len(p) == 0 {
		return "-"
	}
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.6g", v)
}

func formatGain(v float64) string {
	return fmt.Sprintf("%+.4g", v)
}
