package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// Both implementations must satisfy the same contract, so the suite runs
// against each. The check helpers take a type prefix so the integration
// backend (a shared database) can isolate each run's rows.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
}

func mustAppend(t *testing.T, s Store, e Event) {
	t.Helper()
	if err := s.Append(context.Background(), e); err != nil {
		t.Fatal(err)
	}
}

func checkAppendAssignsIdentity(t *testing.T, s Store, prefix string) {
	t.Helper()
	mustAppend(t, s, Event{Type: prefix + "feature.phase", TargetID: "042", Summary: "queued"})

	recs, err := s.Query(context.Background(), Filter{Type: prefix + "feature.phase"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d events, want 1", len(recs))
	}
	if recs[0].ID == "" {
		t.Error("event id not assigned")
	}
	if recs[0].Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}
	if recs[0].Metadata == nil {
		t.Error("metadata not defaulted")
	}
}

func checkFilterAndOrder(t *testing.T, s Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mustAppend(t, s, Event{Timestamp: base, Type: prefix + "feature.phase", TargetID: "042",
		Summary: "first", Metadata: map[string]string{"phase": "specifying"}})
	mustAppend(t, s, Event{Timestamp: base.Add(time.Second), Type: prefix + "feature.phase", TargetID: "042",
		Summary: "second", Metadata: map[string]string{"phase": "specified"}})
	mustAppend(t, s, Event{Timestamp: base.Add(2 * time.Second), Type: prefix + "feature.phase", TargetID: "099",
		Summary: "other feature", Metadata: map[string]string{"phase": "queued"}})
	mustAppend(t, s, Event{Timestamp: base.Add(3 * time.Second), Type: prefix + "agent.launched", TargetID: "042",
		Summary: "agent"})

	byTarget, err := s.Query(ctx, Filter{Type: prefix + "feature.phase", TargetID: "042"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byTarget) != 2 {
		t.Fatalf("type+target filter: got %d, want 2", len(byTarget))
	}
	if byTarget[0].Summary != "first" {
		t.Errorf("ascending order: first = %q", byTarget[0].Summary)
	}

	newest, err := s.Query(ctx, Filter{Type: prefix + "feature.phase", TargetID: "042", Order: Descending, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(newest) != 1 || newest[0].Summary != "second" {
		t.Errorf("descending limit 1: %+v", newest)
	}

	byMeta, err := s.Query(ctx, Filter{Type: prefix + "feature.phase", Metadata: map[string]string{"phase": "queued"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(byMeta) != 1 || byMeta[0].TargetID != "099" {
		t.Errorf("metadata filter: %+v", byMeta)
	}
}

func checkSearchRanksRelevance(t *testing.T, s Store, prefix string) {
	t.Helper()
	ctx := context.Background()

	mustAppend(t, s, Event{Type: prefix + "lesson.recorded", Summary: "testing: isolate databases between test packages"})
	mustAppend(t, s, Event{Type: prefix + "lesson.recorded", Summary: "api-design: version public endpoints"})
	mustAppend(t, s, Event{Type: prefix + "lesson.recorded", Summary: "testing: databases need transactional test isolation"})

	hits, err := s.Query(ctx, Filter{Type: prefix + "lesson.recorded", Search: "test databases"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) < 2 {
		t.Fatalf("search returned %d hits, want at least the two database lessons", len(hits))
	}
	for _, h := range hits[:2] {
		if h.Summary == "api-design: version public endpoints" {
			t.Errorf("irrelevant lesson ranked in the top hits: %q", h.Summary)
		}
	}

	// Punctuation in the query must not break search syntax.
	if _, err := s.Query(ctx, Filter{Type: prefix + "lesson.recorded", Search: `"quoted" (and:special-chars)`}); err != nil {
		t.Errorf("special characters broke search: %v", err)
	}
}

func checkMetadataRoundTrip(t *testing.T, s Store, prefix string) {
	t.Helper()
	meta := map[string]string{
		"phase":   "implement",
		"content": "multi\nline\ncontent with \"quotes\"",
	}
	mustAppend(t, s, Event{Type: prefix + "artifact.captured", TargetID: "042", Summary: "artifact", Metadata: meta})

	recs, err := s.Query(context.Background(), Filter{Type: prefix + "artifact.captured"})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d events", len(recs))
	}
	for k, v := range meta {
		if recs[0].Metadata[k] != v {
			t.Errorf("metadata[%s] = %q, want %q", k, recs[0].Metadata[k], v)
		}
	}
}

func TestStoreAppendAssignsIdentity(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) { checkAppendAssignsIdentity(t, s, "") })
	}
}

func TestStoreFilterAndOrder(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) { checkFilterAndOrder(t, s, "") })
	}
}

func TestStoreSearchRanksRelevance(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) { checkSearchRanksRelevance(t, s, "") })
	}
}

func TestStoreMetadataRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) { checkMetadataRoundTrip(t, s, "") })
	}
}

func TestFtsQueryQuoting(t *testing.T) {
	if got := ftsQuery("two words"); got != `"two" OR "words"` {
		t.Errorf("ftsQuery = %q", got)
	}
	if got := ftsQuery(`say "hi"`); got != `"say" OR """hi"""` {
		t.Errorf("embedded quotes: %q", got)
	}
}
