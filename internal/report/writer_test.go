package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/d2crawl/internal/model"
)

// createTestReport creates a report with sample data for testing.
func createTestReport() *CrawlReport {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	return &CrawlReport{
		GeneratedAt:     started.Add(time.Hour),
		Database:        "/tmp/d2crawl.db",
		Guardians:       120,
		Activities:      30,
		ConsumedSources: 20,
		Modes: []ModeShare{
			{Mode: model.ModeControl, Name: "Control", Activities: 20},
			{Mode: model.ModeSurvival, Name: "Survival", Activities: 10},
		},
		Runs: []RunRecord{
			{
				ID:         "V1StGXR8_Z5jdHi6B-myT",
				Status:     database.RunFinished,
				StartedAt:  started,
				FinishedAt: &finished,
				Sources:    20,
				Activities: 30,
				Guardians:  119,
				Failures:   2,
			},
		},
	}
}

// fakeSource serves canned store answers.
type fakeSource struct {
	guardians, activities, sources int64
	modes                          []database.ModeCount
	runs                           []database.Run
	err                            error
}

func (f *fakeSource) CountGuardians(context.Context) (int64, error)  { return f.guardians, f.err }
func (f *fakeSource) CountActivities(context.Context) (int64, error) { return f.activities, nil }
func (f *fakeSource) CountSources(context.Context) (int64, error)    { return f.sources, nil }
func (f *fakeSource) ModeCounts(context.Context) ([]database.ModeCount, error) {
	return f.modes, nil
}
func (f *fakeSource) RecentRuns(_ context.Context, limit int) ([]database.Run, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

// TestCollect tests building a report from the store.
func TestCollect(t *testing.T) {
	t.Parallel()

	t.Run("converts store answers", func(t *testing.T) {
		t.Parallel()

		started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		src := &fakeSource{
			guardians:  10,
			activities: 4,
			sources:    3,
			modes: []database.ModeCount{
				{Mode: model.ModeClash, Count: 1},
				{Mode: model.ModeControl, Count: 3},
			},
			runs: []database.Run{
				{ID: "b", StartedAt: started.Add(time.Hour), Status: database.RunRunning},
				{ID: "a", StartedAt: started, FinishedAt: started.Add(time.Minute), Status: database.RunFinished,
					RunStats: database.RunStats{Sources: 3, Activities: 4, Guardians: 10}},
			},
		}

		r, err := Collect(context.Background(), src, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Guardians != 10 || r.Activities != 4 || r.ConsumedSources != 3 {
			t.Errorf("unexpected totals %+v", r)
		}
		if r.PendingSources() != 7 {
			t.Errorf("expected 7 pending sources, got %d", r.PendingSources())
		}
		if len(r.Modes) != 2 || r.Modes[0].Name != "Control" || r.Modes[1].Name != "Clash" {
			t.Errorf("expected modes ordered by count, got %+v", r.Modes)
		}
		if len(r.Runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(r.Runs))
		}
		if r.Runs[0].FinishedAt != nil || r.Runs[0].Duration() != 0 {
			t.Error("expected running run without finish time")
		}
		if r.Runs[1].Duration() != time.Minute {
			t.Errorf("expected 1m duration, got %s", r.Runs[1].Duration())
		}
		if r.LastRun().ID != "b" {
			t.Errorf("expected last run b, got %s", r.LastRun().ID)
		}
	})

	t.Run("limits recent runs", func(t *testing.T) {
		t.Parallel()

		src := &fakeSource{runs: []database.Run{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
		r, err := Collect(context.Background(), src, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(r.Runs) != 2 {
			t.Errorf("expected 2 runs, got %d", len(r.Runs))
		}
	})

	t.Run("returns store errors", func(t *testing.T) {
		t.Parallel()

		src := &fakeSource{err: errors.New("database is locked")}
		if _, err := Collect(context.Background(), src, 1); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("reads a real store", func(t *testing.T) {
		t.Parallel()

		db, err := database.Open(t.TempDir(), database.DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()

		ctx := context.Background()
		a := model.NewActivity("1", time.Now(), model.ModeSurvival, false, 5, 3, nil)
		if _, err := db.InsertActivity(ctx, a); err != nil {
			t.Fatalf("failed to insert activity: %v", err)
		}
		if _, err := db.StartRun(ctx); err != nil {
			t.Fatalf("failed to start run: %v", err)
		}

		r, err := Collect(ctx, db, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Activities != 1 || len(r.Modes) != 1 || r.Modes[0].Name != "Survival" {
			t.Errorf("unexpected report %+v", r)
		}
		if r.LastRun() == nil || r.LastRun().Status != database.RunRunning {
			t.Errorf("expected a running run, got %+v", r.Runs)
		}
	})
}

// TestSimpleWriter tests the human-readable report writer.
func TestSimpleWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes totals", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{"D2CRAWL REPORT", "/tmp/d2crawl.db", "Guardians:        120", "Pending sources:  100"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("writes modes and runs", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{"ACTIVITIES BY MODE", "Control:", "RECENT RUNS", "[finished] V1StGXR8_Z5jdHi6B-myT", "elapsed=1m30s"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("hides empty sections by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf).Write(&CrawlReport{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(buf.String(), "RECENT RUNS") {
			t.Error("expected empty runs section to be hidden")
		}
	})

	t.Run("shows empty sections with showEmpty", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSimpleWriter(&buf, WithShowEmpty(true)).Write(&CrawlReport{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "No activities stored") || !strings.Contains(output, "No runs recorded") {
			t.Error("expected empty sections to be shown")
		}
	})
}

// TestJSONWriter tests the JSON report writer.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("outputs valid JSON", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var got CrawlReport
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}
		if got.Guardians != 120 || len(got.Modes) != 2 || len(got.Runs) != 1 {
			t.Errorf("unexpected decoded report %+v", got)
		}
	})

	t.Run("compact output by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Count(buf.String(), "\n") != 1 {
			t.Error("expected a single line of JSON")
		}
	})

	t.Run("uses custom prefix and indent", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithIndent(">", "\t")).Write(createTestReport()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), ">\t\"guardians\"") {
			t.Errorf("expected prefixed and tab indented output, got %s", buf.String())
		}
	})
}

// TestFullJSONWriter tests the versioned JSON writer.
func TestFullJSONWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewFullJSONWriter(&buf, "v1.2.3", WithPrettyPrint()).Write(createTestReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got JSONReport
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if got.Version != "v1.2.3" || got.Report == nil || got.Report.Activities != 30 {
		t.Errorf("unexpected wrapped report %+v", got)
	}
}

// TestMarkdownWriter tests the Markdown report writer.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	write := func(t *testing.T, r *CrawlReport) string {
		t.Helper()
		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return buf.String()
	}

	t.Run("writes header and tables", func(t *testing.T) {
		t.Parallel()

		output := write(t, createTestReport())
		for _, want := range []string{"# d2crawl Report", "## Activities by Mode", "## Recent Runs", "Control", "V1StGXR8_Z5jdHi6B-myT", "1m30s"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("includes pie chart", func(t *testing.T) {
		t.Parallel()

		if !strings.Contains(write(t, createTestReport()), "pie") {
			t.Error("expected output to contain mermaid pie chart")
		}
	})

	t.Run("alerts on a failed run", func(t *testing.T) {
		t.Parallel()

		r := createTestReport()
		r.Runs[0].Status = database.RunFailed
		if !strings.Contains(write(t, r), "[!CAUTION]") {
			t.Error("expected CAUTION alert for a failed run")
		}
	})

	t.Run("flags per-entity failures", func(t *testing.T) {
		t.Parallel()

		if !strings.Contains(write(t, createTestReport()), "[!IMPORTANT]") {
			t.Error("expected IMPORTANT alert for failures")
		}
	})

	t.Run("handles empty store", func(t *testing.T) {
		t.Parallel()

		output := write(t, &CrawlReport{})
		if !strings.Contains(output, "No activities stored.") || !strings.Contains(output, "No runs recorded.") {
			t.Error("expected empty store messages")
		}
		if strings.Contains(output, "pie") {
			t.Error("expected no pie chart for an empty store")
		}
		if !strings.Contains(output, "[!NOTE]") {
			t.Error("expected NOTE alert without runs")
		}
	})
}

// TestMultiWriter tests writing one report to several writers.
func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all writers", func(t *testing.T) {
		t.Parallel()

		var text, js bytes.Buffer
		mw := NewMultiWriter(NewSimpleWriter(&text), NewJSONWriter(&js))
		n, err := mw.Write(createTestReport())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != text.Len()+js.Len() {
			t.Errorf("expected %d bytes, got %d", text.Len()+js.Len(), n)
		}
		if text.Len() == 0 || js.Len() == 0 {
			t.Error("expected both writers to receive output")
		}
	})

	t.Run("handles empty writers list", func(t *testing.T) {
		t.Parallel()

		n, err := NewMultiWriter().Write(createTestReport())
		if err != nil || n != 0 {
			t.Errorf("expected 0, nil; got %d, %v", n, err)
		}
	})
}

// TestNewWriter tests format selection.
func TestNewWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		valid  bool
	}{
		{"", true},
		{FormatText, true},
		{FormatJSON, true},
		{FormatMarkdown, true},
		{"html", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("format "+tt.format, func(t *testing.T) {
			t.Parallel()
			w := NewWriter(tt.format, &bytes.Buffer{}, "dev")
			if (w != nil) != tt.valid {
				t.Errorf("expected valid=%v for %q", tt.valid, tt.format)
			}
		})
	}
}
