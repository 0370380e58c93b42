package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestJobListEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := JobList(nil).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	html := buf.String()
	if !strings.HasPrefix(html, "<!doctype html>") {
		t.Error("Expected an HTML document")
	}
	if !strings.Contains(html, "No jobs yet") {
		t.Error("Expected empty state message")
	}
}

func TestJobListRows(t *testing.T) {
	start := time.Now().Add(-2 * time.Second)
	end := start.Add(1500 * time.Millisecond)

	items := []JobListItem{
		{
			ID:           "job-1",
			State:        "completed",
			Objective:    "sincos",
			Best:         []float64{1.806, 0.674},
			Iterations:   25,
			BestValue:    2.2,
			InitialValue: -0.1,
			StartTime:    start,
			EndTime:      &end,
		},
		{
			ID:        "job-2",
			State:     "failed",
			Objective: "<script>",
			StartTime: start,
			Error:     "bad & broken",
		},
	}

	var buf bytes.Buffer
	if err := JobList(items).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	html := buf.String()

	for _, want := range []string{
		`href="/api/v1/jobs/job-1"`,
		`(1.806, 0.674)`,
		`<td>25</td>`,
		`1.5s`,
		`/api/v1/jobs/job-2/heatmap.png`,
		`bad &amp; broken`,
		`&lt;script&gt;`,
		`<td data-state="failed">`,
		`<td>+2.3</td>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("Expected page to contain %q", want)
		}
	}
	if strings.Contains(html, "<script>") {
		t.Error("Objective name should be escaped")
	}
}

func TestJobListItemHelpers(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Second)
	item := JobListItem{StartTime: start, EndTime: &end, BestValue: 3, InitialValue: 1}

	if item.Duration() != time.Second {
		t.Errorf("Expected 1s, got %v", item.Duration())
	}
	if item.Improvement() != 2 {
		t.Errorf("Expected improvement 2, got %v", item.Improvement())
	}
	if formatPoint(nil) != "-" {
		t.Errorf("Expected dash for empty point, got %q", formatPoint(nil))
	}
}

func TestJobListEscapesJobID(t *testing.T) {
	var buf bytes.Buffer
	items := []JobListItem{{ID: "a b/../c", State: "running"}}
	if err := JobList(items).Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `href="/api/v1/jobs/a%20b%2F..%2Fc/trace"`) {
		t.Errorf("Expected path-escaped job links, got:\n%s", buf.String())
	}
}

func TestJobListCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if err := JobList(nil).Render(ctx, &buf); err == nil {
		t.Error("Expected error for a cancelled context")
	}
	if buf.Len() != 0 {
		t.Errorf("Expected nothing written, got %q", buf.String())
	}
}
