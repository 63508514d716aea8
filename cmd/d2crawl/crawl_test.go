package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nao1215/d2crawl/internal/config"
	"github.com/nao1215/d2crawl/internal/database"
	"github.com/nao1215/d2crawl/internal/model"
	"github.com/nao1215/d2crawl/internal/report"
)

// fakeBungie serves one account with one character whose history holds a
// single Control match against a public and a private player.
type fakeBungie struct {
	*httptest.Server
	history, carnage, stats atomic.Int32
}

func newFakeBungie(t *testing.T) *fakeBungie {
	t.Helper()

	f := &fakeBungie{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeBungie) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	var response any
	switch {
	case strings.Contains(path, "/SearchDestinyPlayerByBungieName/"):
		response = []map[string]any{
			{"membershipId": "4611", "membershipType": 3, "bungieGlobalDisplayName": "Breeky", "bungieGlobalDisplayNameCode": 5512},
		}
	case strings.Contains(path, "/Profile/"):
		response = map[string]any{"characters": map[string]any{
			"privacy": 1,
			"data":    map[string]any{"2305": map[string]any{"membershipId": "4611", "membershipType": 3, "characterId": "2305"}},
		}}
	case strings.Contains(path, "/Stats/Activities/"):
		f.history.Add(1)
		if r.URL.Query().Get("page") != "0" {
			response = map[string]any{}
			break
		}
		response = map[string]any{"activities": []any{
			map[string]any{
				"period":          "2023-05-01T12:00:00Z",
				"activityDetails": map[string]any{"instanceId": "9001", "mode": model.ModeControl},
			},
		}}
	case strings.HasPrefix(path, "/Destiny2/Stats/PostGameCarnageReport/"):
		f.carnage.Add(1)
		response = pgcr()
	case strings.HasSuffix(path, "/Stats/"):
		f.stats.Add(1)
		response = map[string]any{"allPvP": map[string]any{"allTime": map[string]any{
			"kills":             map[string]any{"basic": map[string]any{"value": 12}},
			"activitiesEntered": map[string]any{"basic": map[string]any{"value": 3}},
		}}}
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"ErrorCode": 2101, "ErrorStatus": "ApiInvalidOrExpiredKey"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ErrorCode": 1, "ErrorStatus": "Success", "Response": response})
}

func pgcr() map[string]any {
	entry := func(membershipID, characterID string, public bool, team int) map[string]any {
		return map[string]any{
			"player": map[string]any{"destinyUserInfo": map[string]any{
				"membershipId": membershipID, "membershipType": 3, "isPublic": public,
				"bungieGlobalDisplayName": "P" + membershipID, "bungieGlobalDisplayNameCode": 1,
			}},
			"characterId": characterID,
			"values":      map[string]any{"team": map[string]any{"basic": map[string]any{"value": team}}},
		}
	}
	team := func(id, standing, score int) map[string]any {
		return map[string]any{
			"teamId":   id,
			"standing": map[string]any{"basic": map[string]any{"value": standing}},
			"score":    map[string]any{"basic": map[string]any{"value": score}},
		}
	}
	return map[string]any{
		"period":          "2023-05-01T12:00:00Z",
		"activityDetails": map[string]any{"instanceId": "9001", "mode": model.ModeControl},
		"entries": []any{
			entry("4611", "2305", true, 17),
			entry("5000", "5001", true, 18),
			entry("6000", "6001", false, 18),
		},
		"teams": []any{team(17, 0, 100), team(18, 1, 80)},
	}
}

// writeConfig writes a configuration file pointing at baseURL, with its
// database in a temporary directory, and returns its path.
func writeConfig(t *testing.T, baseURL string, extra string) string {
	t.Helper()

	dir := t.TempDir()
	content := fmt.Sprintf(`api_key: test-key
base_url: %s
window:
  from: "2023-01-01T00:00:00Z"
  to: "2024-01-01T00:00:00Z"
db_dir: %s
rate:
  capacity: 100
  per_second: 1000
retry_delay: 10ms
%s`, baseURL, filepath.Join(dir, "db"), extra)

	path := filepath.Join(dir, "d2crawl.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func openTestStore(t *testing.T, dir string) *database.CrawlDB {
	t.Helper()

	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestCrawlWorkflow tests seed, crawl, report and import against a fake API.
func TestCrawlWorkflow(t *testing.T) {
	t.Parallel()

	api := newFakeBungie(t)
	archiveDir := t.TempDir()
	cfgPath := writeConfig(t, api.URL, fmt.Sprintf("archive:\n  enabled: true\n  dir: %s\n", archiveDir))

	output, err := execute(t, "seed", "Breeky#5512", "-c", cfgPath)
	if err != nil {
		t.Fatalf("seed failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "1 new guardian(s)") {
		t.Errorf("unexpected seed output %q", output)
	}

	output, err = execute(t, "crawl", "-c", cfgPath, "--budget", "5")
	if err != nil {
		t.Fatalf("crawl failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "no unconsumed source left") {
		t.Errorf("expected the frontier to be exhausted, got %q", output)
	}
	if api.carnage.Load() != 1 {
		t.Errorf("expected 1 carnage report fetch, got %d", api.carnage.Load())
	}
	// The seed is stored already and the private player is never fetched.
	if api.stats.Load() != 1 {
		t.Errorf("expected 1 stats fetch, got %d", api.stats.Load())
	}

	var r report.JSONReport
	output, err = execute(t, "report", "-c", cfgPath, "--json")
	if err != nil {
		t.Fatalf("report failed: %v\n%s", err, output)
	}
	if err := json.Unmarshal([]byte(output), &r); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, output)
	}
	if r.Report.Guardians != 3 || r.Report.Activities != 1 {
		t.Errorf("expected 3 guardians and 1 activity, got %+v", r.Report)
	}
	// The seed and the public player were walked; the private one is skipped.
	if r.Report.ConsumedSources != 2 {
		t.Errorf("expected 2 consumed sources, got %d", r.Report.ConsumedSources)
	}
	if len(r.Report.Runs) != 1 || r.Report.Runs[0].Status != database.RunFinished {
		t.Errorf("unexpected runs %+v", r.Report.Runs)
	}

	// The archive holds what the crawl inserted, so a fresh store can be
	// rebuilt from it.
	freshDir := t.TempDir()
	output, err = execute(t, "import", archiveDir, "-c", cfgPath, "--db-dir", freshDir)
	if err != nil {
		t.Fatalf("import failed: %v\n%s", err, output)
	}
	fresh := openTestStore(t, freshDir)
	a, err := fresh.GetActivity(context.Background(), "9001")
	if err != nil {
		t.Fatalf("activity was not imported: %v", err)
	}
	if a.WinScore != 100 || a.LossScore != 80 || len(a.Players) != 3 {
		t.Errorf("unexpected imported activity %+v", a)
	}
	// The seed was inserted by the seed command, before archiving started.
	if n, _ := fresh.CountGuardians(context.Background()); n != 2 {
		t.Errorf("expected 2 imported guardians, got %d", n)
	}
}

// TestCrawlInvalidWindow tests that a malformed --from stops the crawl
// before any source is walked.
func TestCrawlInvalidWindow(t *testing.T) {
	t.Parallel()

	api := newFakeBungie(t)
	cfgPath := writeConfig(t, api.URL, "")

	if output, err := execute(t, "seed", "Breeky#5512", "-c", cfgPath); err != nil {
		t.Fatalf("seed failed: %v\n%s", err, output)
	}
	output, err := execute(t, "crawl", "-c", cfgPath, "--from", "2023-13-99", "--budget", "3")
	if err != nil {
		t.Fatalf("crawl failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "history window is invalid") {
		t.Errorf("expected the invalid window to be reported, got %q", output)
	}
	if api.history.Load() != 0 {
		t.Errorf("expected no history fetch, got %d", api.history.Load())
	}

	output, err = execute(t, "crawl", "-c", cfgPath, "--budget", "3")
	if err != nil {
		t.Fatalf("crawl failed: %v\n%s", err, output)
	}
	if api.carnage.Load() != 1 {
		t.Errorf("expected the seed to be walked by the next crawl, got %d carnage fetches", api.carnage.Load())
	}
}

// TestBuildCrawlConfig tests the precedence of flags over the file.
func TestBuildCrawlConfig(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, "http://127.0.0.1:1", "budget: 10\nmode: 84\n")

	t.Run("file values apply", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", cfgPath}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildCrawlConfig(cmd)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Budget != 10 || cfg.Mode != 84 || cfg.From != "2023-01-01T00:00:00Z" {
			t.Errorf("unexpected config %+v", cfg)
		}
		if cfg.Concurrency != config.DefaultConcurrency {
			t.Errorf("expected default concurrency, got %d", cfg.Concurrency)
		}
	})

	t.Run("flags override the file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		args := []string{"-c", cfgPath, "--budget", "3", "--from", "2023-03-01T00:00:00Z", "--rewind", "--archive", "--archive-dir", "/tmp/a"}
		if err := cmd.ParseFlags(args); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildCrawlConfig(cmd)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Budget != 3 || cfg.From != "2023-03-01T00:00:00Z" || cfg.Mode != 84 {
			t.Errorf("unexpected config %+v", cfg)
		}
		if !cfg.Rewind || !cfg.Archive.Enabled || cfg.Archive.Dir != "/tmp/a" {
			t.Errorf("expected rewind and archive flags to apply, got %+v", cfg)
		}
	})

	t.Run("missing explicit config file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
			t.Fatal(err)
		}
		if _, err := buildCrawlConfig(cmd); !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})
}

// TestCrawlRequiresAPIKey tests that a crawl without a key is refused.
func TestCrawlRequiresAPIKey(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "d2crawl.yaml")
	if err := os.WriteFile(cfgPath, []byte("db_dir: "+filepath.Join(dir, "db")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "crawl", "-c", cfgPath)
	if !errors.Is(err, config.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

// TestSeedGuardians tests the conversion of configured seeds.
func TestSeedGuardians(t *testing.T) {
	t.Parallel()

	seeds, err := seedGuardians([]config.Seed{{MembershipID: "1", MembershipType: "3", CharacterID: "2", DisplayName: "A"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seeds) != 1 || seeds[0].ID().CharacterID != "2" || seeds[0].IsPrivate {
		t.Errorf("unexpected seeds %+v", seeds)
	}

	if _, err := seedGuardians([]config.Seed{{MembershipID: "1"}}); !errors.Is(err, model.ErrIncompleteGuardianID) {
		t.Errorf("expected ErrIncompleteGuardianID, got %v", err)
	}
}
