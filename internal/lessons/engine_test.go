package lessons

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/launcher"
)

type fakeLauncher struct {
	requests []launcher.Request
	result   launcher.Result
	err      error
	onLaunch func(launcher.Request)
}

func (f *fakeLauncher) Launch(_ context.Context, req launcher.Request) (launcher.Result, error) {
	f.requests = append(f.requests, req)
	if f.onLaunch != nil {
		f.onLaunch(req)
	}
	return f.result, f.err
}

func candidateJSON(constraint string) string {
	c := map[string]any{
		"phase":      "implement",
		"category":   "testing",
		"severity":   "medium",
		"symptom":    "integration tests flaked under parallel load",
		"rootCause":  "shared fixture database reused across packages",
		"resolution": "gave each package its own temp database",
		"constraint": constraint,
	}
	b, _ := json.Marshal(c)
	return string(b)
}

// resultLine builds one stream-json result message carrying the text.
func resultLine(text string) string {
	b, _ := json.Marshal(map[string]any{"type": "result", "subtype": "success", "result": text})
	return string(b) + "\n"
}

func TestGatherAssemblesHistory(t *testing.T) {
	ctx := context.Background()
	store := events.NewMemStore()
	e := NewEngine(store, &fakeLauncher{}, nil)

	appendEvent := func(typ string, meta map[string]string) {
		t.Helper()
		if err := store.Append(ctx, events.Event{Type: typ, TargetID: "042", Metadata: meta}); err != nil {
			t.Fatal(err)
		}
	}
	appendEvent(EventTypeArtifact, map[string]string{"phase": "specify", "content": "the spec text"})
	appendEvent(EventTypeArtifact, map[string]string{"phase": "plan", "content": "the plan text"})
	appendEvent(EventTypeReview, map[string]string{"findings": "first review"})
	appendEvent(EventTypeReview, map[string]string{"findings": "second review"})
	appendEvent(EventTypeRework, map[string]string{"notes": "first rework"})
	appendEvent(EventTypeRework, map[string]string{"notes": "second rework"})

	rc, err := e.Gather(ctx, "042")
	if err != nil {
		t.Fatal(err)
	}
	if rc.Spec != "the spec text" || rc.Plan != "the plan text" {
		t.Errorf("spec/plan = %q / %q", rc.Spec, rc.Plan)
	}
	// Reviews newest first, rework chronological.
	if !strings.HasPrefix(rc.Reviews, "second review") {
		t.Errorf("reviews = %q, want newest first", rc.Reviews)
	}
	if !strings.HasPrefix(rc.Rework, "first rework") {
		t.Errorf("rework = %q, want chronological", rc.Rework)
	}
	// Absent merge data yields the placeholder, not an empty hole.
	if rc.MergeDiff != missing {
		t.Errorf("merge diff = %q, want placeholder", rc.MergeDiff)
	}
}

// One invalid and one duplicate candidate in a batch of three: the batch
// reports 3 extracted, 1 deduped, 1 persisted, and extraction still succeeds.
func TestExtractValidatesAndDedupes(t *testing.T) {
	ctx := context.Background()
	store := events.NewMemStore()

	constraint := "always isolate test databases per package"
	batch := "[" + strings.Join([]string{
		candidateJSON(constraint),
		candidateJSON("wrap schema migrations in one transaction"),
		`{"phase":"deploy","category":"x","severity":"medium",` +
			`"symptom":"short","rootCause":"short","resolution":"short","constraint":"short"}`,
	}, ",") + "]"

	fl := &fakeLauncher{result: launcher.Result{ExitCode: 0, Stdout: resultLine(batch)}}
	e := NewEngine(store, fl, nil)

	// The first candidate's constraint already exists in this project.
	pre, err := e.persistBatch(ctx, "041-prior", "shop", []candidate{{
		Phase: "implement", Category: "testing", Severity: "high",
		Symptom: "flaky integration tests under load", RootCause: "shared fixture database",
		Resolution: "per-package databases everywhere", Constraint: constraint,
	}})
	if err != nil || pre.Persisted != 1 {
		t.Fatalf("seed batch: %+v, %v", pre, err)
	}

	sum, err := e.Extract(ctx, "042-user-auth", "shop", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Extracted != 3 || sum.Deduped != 1 || sum.Persisted != 1 {
		t.Errorf("summary = %+v, want 3 extracted, 1 deduped, 1 persisted", sum)
	}

	// Only the fresh valid lesson was recorded for this work item.
	recorded, err := e.Query(ctx, QueryFilter{Project: "shop", Limit: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(recorded) != 2 {
		t.Fatalf("got %d recorded lessons, want 2 (seed + new)", len(recorded))
	}

	deduped, err := store.Query(ctx, events.Filter{Type: EventTypeDeduped})
	if err != nil {
		t.Fatal(err)
	}
	if len(deduped) != 1 {
		t.Errorf("got %d dedup audit events, want 1", len(deduped))
	}
	summaries, err := store.Query(ctx, events.Filter{Type: EventTypeSummary, TargetID: "042-user-auth"})
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Errorf("got %d reflect summary events, want 1", len(summaries))
	}
}

// File mode: the side file wins over the inline result when both exist.
func TestExtractPrefersSideFile(t *testing.T) {
	ctx := context.Background()
	store := events.NewMemStore()
	dir := t.TempDir()

	fl := &fakeLauncher{result: launcher.Result{ExitCode: 0, Stdout: resultLine("[]")}}
	fl.onLaunch = func(req launcher.Request) {
		out := filepath.Join(dir, ".drover", "lessons-042.json")
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(out, []byte("["+candidateJSON("prefer context timeouts on all subprocess calls")+"]"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e := NewEngine(store, fl, nil)
	e.FileMode = true

	sum, err := e.Extract(ctx, "042", "shop", dir)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Persisted != 1 {
		t.Errorf("summary = %+v, want the side-file lesson persisted", sum)
	}
	if len(fl.requests) != 1 || !fl.requests[0].RestrictTools {
		t.Error("extraction agent must run with restricted tools")
	}
	if _, err := os.Stat(filepath.Join(dir, ".drover", "lessons-042.json")); !os.IsNotExist(err) {
		t.Error("side file not cleaned up after extraction")
	}
}

func TestExtractAgentFailureIsHard(t *testing.T) {
	store := events.NewMemStore()
	fl := &fakeLauncher{result: launcher.Result{ExitCode: 1, Stderr: "agent crashed"}}
	e := NewEngine(store, fl, nil)

	if _, err := e.Extract(context.Background(), "042", "shop", t.TempDir()); err == nil {
		t.Fatal("nonzero extraction exit must be an error")
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	store := events.NewMemStore()
	e := NewEngine(store, &fakeLauncher{}, nil)

	seed := []candidate{
		{Phase: "implement", Category: "testing", Severity: "high",
			Symptom: "flaky suite on shared state", RootCause: "global fixture reused badly",
			Resolution: "isolated fixtures per test", Constraint: "isolate all test fixtures"},
		{Phase: "review", Category: "api-design", Severity: "low",
			Symptom: "handler returned 200 on failure", RootCause: "error swallowed in middleware",
			Resolution: "propagate errors to the handler", Constraint: "never swallow middleware errors"},
	}
	if _, err := e.persistBatch(ctx, "042", "shop", seed); err != nil {
		t.Fatal(err)
	}
	if _, err := e.persistBatch(ctx, "007", "other", seed[:1]); err != nil {
		t.Fatal(err)
	}

	byProject, err := e.Query(ctx, QueryFilter{Project: "shop", Limit: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(byProject) != 2 {
		t.Errorf("project filter: got %d, want 2", len(byProject))
	}

	byCategory, err := e.Query(ctx, QueryFilter{Project: "shop", Category: "testing", Limit: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(byCategory) != 1 || byCategory[0].Category != "testing" {
		t.Errorf("category filter: %+v", byCategory)
	}

	bySeverity, err := e.Query(ctx, QueryFilter{Project: "shop", Severity: SeverityLow, Limit: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySeverity) != 1 || bySeverity[0].Severity != SeverityLow {
		t.Errorf("severity filter: %+v", bySeverity)
	}

	byText, err := e.Query(ctx, QueryFilter{Text: "middleware", Limit: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(byText) == 0 || byText[0].Category != "api-design" {
		t.Errorf("text search: %+v", byText)
	}
}

func TestRenderConstraints(t *testing.T) {
	if got := RenderConstraints(nil); got != "" {
		t.Errorf("no lessons should render nothing, got %q", got)
	}
	out := RenderConstraints([]Lesson{
		{Category: "testing", Severity: SeverityHigh, Constraint: "isolate all test fixtures"},
		{Category: "api-design", Severity: SeverityLow, Constraint: "never swallow middleware errors"},
	})
	for _, want := range []string{
		"## Known Constraints",
		"### api-design",
		"### testing",
		"- [HIGH] isolate all test fixtures",
		"- [LOW] never swallow middleware errors",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered constraints missing %q:\n%s", want, out)
		}
	}
	// Categories render in sorted order.
	if strings.Index(out, "### api-design") > strings.Index(out, "### testing") {
		t.Error("categories not sorted")
	}
}
