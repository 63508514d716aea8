package bungie

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func historyJSON(periods ...string) string {
	activities := make([]map[string]any, 0, len(periods))
	for i, p := range periods {
		activities = append(activities, map[string]any{
			"period": p,
			"activityDetails": map[string]any{
				"instanceId": p + "#" + strconv.Itoa(i),
				"mode":       5,
				"modes":      []int{5, 10},
			},
		})
	}
	return ok(map[string]any{"activities": activities})
}

// TestWindow tests resolving history bounds.
func TestWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("unset bounds default to 2015 and now", func(t *testing.T) {
		t.Parallel()

		lo, hi, err := Window(DateBound{}, DateBound{}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !lo.Equal(oldestHistory) || !hi.Equal(now) {
			t.Errorf("expected %v..%v, got %v..%v", oldestHistory, now, lo, hi)
		}
	})

	t.Run("reversed bounds are swapped", func(t *testing.T) {
		t.Parallel()

		lo, hi, err := Window(DateString("2023-01-01T00:00:00Z"), DateString("2022-01-01T00:00:00Z"), now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lo.Year() != 2022 || hi.Year() != 2023 {
			t.Errorf("expected 2022..2023, got %v..%v", lo, hi)
		}
	})

	t.Run("malformed bound is an error", func(t *testing.T) {
		t.Parallel()

		if _, _, err := Window(DateString("yesterday"), DateBound{}, now); err == nil {
			t.Error("expected error for malformed date")
		}
	})
}

// TestActivityHistory tests history paging and filtering.
func TestActivityHistory(t *testing.T) {
	t.Parallel()

	from := DateString("2023-01-01T00:00:00Z")
	to := DateString("2023-02-01T00:00:00Z")

	t.Run("pages until an empty page", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(r request) (string, error) {
			switch r.Query.Get("page") {
			case "0":
				return historyJSON("2023-01-20T10:00:00Z", "2023-01-15T10:00:00Z"), nil
			case "1":
				return historyJSON("2023-01-10T10:00:00Z"), nil
			default:
				return historyJSON(), nil
			}
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		entries, err := c.ActivityHistory(context.Background(), breeky, 5, from, to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		reqs := doer.Requests()
		if len(reqs) != 3 {
			t.Fatalf("expected 3 requests, got %d", len(reqs))
		}
		for i, r := range reqs {
			if r.Query.Get("page") != strconv.Itoa(i) {
				t.Errorf("request %d: expected page %d, got %q", i, i, r.Query.Get("page"))
			}
			if r.Query.Get("count") != "250" || r.Query.Get("mode") != "5" {
				t.Errorf("request %d: unexpected query %v", i, r.Query)
			}
		}
		if entries[0].Modes[1] != 10 {
			t.Errorf("expected modes to be decoded, got %v", entries[0].Modes)
		}
	})

	t.Run("keeps only the half-open window and stops past the lower bound", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(r request) (string, error) {
			switch r.Query.Get("page") {
			case "0":
				return historyJSON(
					"2023-02-05T00:00:00Z", // after to
					"2023-02-01T00:00:00Z", // equal to "to": excluded
					"2023-01-31T23:59:59Z",
				), nil
			case "1":
				return historyJSON(
					"2023-01-01T00:00:00Z", // equal to "from": included
					"2022-12-31T00:00:00Z", // before from
				), nil
			default:
				t.Error("paging should stop once a page reaches past from")
				return historyJSON(), nil
			}
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		entries, err := c.ActivityHistory(context.Background(), breeky, 5, from, to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %+v", entries)
		}
		if !entries[0].Period.Equal(time.Date(2023, 1, 31, 23, 59, 59, 0, time.UTC)) {
			t.Errorf("unexpected first entry %v", entries[0].Period)
		}
		if !entries[1].Period.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected second entry %v", entries[1].Period)
		}
		if len(doer.Requests()) != 2 {
			t.Errorf("expected 2 requests, got %d", len(doer.Requests()))
		}
	})

	t.Run("malformed date returns nil without a request", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(request) (string, error) {
			t.Error("unexpected request")
			return historyJSON(), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		entries, err := c.ActivityHistory(context.Background(), breeky, 5, DateString("2023-13-45"), to)
		if err != nil || entries != nil {
			t.Errorf("expected nil, nil, got %v, %v", entries, err)
		}
	})

	t.Run("reversed bounds behave like ordered bounds", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(r request) (string, error) {
			if r.Query.Get("page") == "0" {
				return historyJSON("2023-01-20T10:00:00Z"), nil
			}
			return historyJSON(), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		entries, err := c.ActivityHistory(context.Background(), breeky, 5, to, from)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("expected 1 entry, got %d", len(entries))
		}
	})

	t.Run("empty history is a non-nil empty result", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(request) (string, error) {
			return historyJSON(), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		entries, err := c.ActivityHistory(context.Background(), breeky, 5, from, to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entries == nil || len(entries) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", entries)
		}
	})

	t.Run("entries with a bad period are skipped", func(t *testing.T) {
		t.Parallel()

		doer := &fakeDoer{handler: func(r request) (string, error) {
			if r.Query.Get("page") == "0" {
				return historyJSON("not-a-date", "2023-01-20T10:00:00Z"), nil
			}
			return historyJSON(), nil
		}}
		c := newTestClient(t, doer, &countingLimiter{})

		entries, err := c.ActivityHistory(context.Background(), breeky, 5, from, to)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("expected 1 entry, got %d", len(entries))
		}
	})
}
