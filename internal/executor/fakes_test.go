package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/gitops"
	"github.com/jywlabs/drover/internal/launcher"
	"github.com/jywlabs/drover/internal/lessons"
	"github.com/jywlabs/drover/internal/spectool"
)

type fakeLauncher struct {
	requests []launcher.Request
	result   launcher.Result
	err      error
	onLaunch func() // optional side effect, simulating agent work
}

func (f *fakeLauncher) Launch(_ context.Context, req launcher.Request) (launcher.Result, error) {
	f.requests = append(f.requests, req)
	if f.onLaunch != nil {
		f.onLaunch()
	}
	return f.result, f.err
}

type fakeTool struct {
	export    spectool.Export
	exportErr error
	exports   []string // phases exported
	advanced  []string // phases whose marker was advanced
	evalScore int
	evalErr   error
}

func (f *fakeTool) Export(_ context.Context, _, phase, _ string) (spectool.Export, error) {
	f.exports = append(f.exports, phase)
	return f.export, f.exportErr
}

func (f *fakeTool) AdvancePhase(_ context.Context, _, _, phase string) error {
	f.advanced = append(f.advanced, phase)
	return nil
}

func (f *fakeTool) Eval(_ context.Context, _, _, _ string) (spectool.EvalResult, error) {
	return spectool.EvalResult{Score: f.evalScore}, f.evalErr
}

type fakeGit struct {
	commitAllMsgs   []string
	commitAllResult gitops.CommitResult
	commitAllErr    error
	pathCommits     [][]string
	branch          string
	ahead           bool
	aheadErr        error
	pushed          []string
	changed         []string
}

func (f *fakeGit) CreateWorktree(context.Context, string, string, string) error { return nil }
func (f *fakeGit) RemoveWorktree(context.Context, string, string) error { return nil }

func (f *fakeGit) CommitAll(_, message string) (gitops.CommitResult, error) {
	f.commitAllMsgs = append(f.commitAllMsgs, message)
	return f.commitAllResult, f.commitAllErr
}

func (f *fakeGit) CommitPaths(_ string, paths []string, _ string) (gitops.CommitResult, error) {
	f.pathCommits = append(f.pathCommits, paths)
	return gitops.CommitResult{Committed: true, Hash: "fedcba9876543210"}, nil
}

func (f *fakeGit) CurrentBranch(string) (string, error) { return f.branch, nil }

func (f *fakeGit) HasCommitsAhead(string, string) (bool, error) {
	return f.ahead, f.aheadErr
}
func (f *fakeGit) ChangedFiles(string, string) ([]string, error) { return f.changed, nil }
func (f *fakeGit) Push(_ context.Context, _, branch string) error {
	f.pushed = append(f.pushed, branch)
	return nil
}

type prCall struct {
	repo, title, body, base, head string
}

type fakePRs struct {
	calls []prCall
	pr    gitops.PullRequest
	err   error
}

func (f *fakePRs) Create(_ context.Context, repo, title, body, base, head string) (gitops.PullRequest, error) {
	f.calls = append(f.calls, prCall{repo, title, body, base, head})
	return f.pr, f.err
}

// testDeps builds a Deps over fakes and an in-memory store. Individual tests
// reach into the returned fakes to stage behavior and inspect calls.
func testDeps(t *testing.T) (Deps, *fakeLauncher, *fakeTool, *fakeGit, *fakePRs, *events.MemStore) {
	t.Helper()
	store := events.NewMemStore()
	fl := &fakeLauncher{result: launcher.Result{ExitCode: 0}}
	ft := &fakeTool{export: spectool.Export{Exported: true, Prompt: "do the work"}}
	fg := &fakeGit{branch: "feat/042", ahead: true}
	fp := &fakePRs{pr: gitops.PullRequest{Number: 7, URL: "https://example.com/pr/7"}}
	d := Deps{
		Launcher: fl,
		Tool:     ft,
		Store:    store,
		Git:      fg,
		PRs:      fp,
		Lessons:  lessons.NewEngine(store, fl, nil),
		Timeouts: DefaultTimeouts(),
	}
	return d, fl, ft, fg, fp, store
}

// writeSpecDir lays out a feature spec directory under workDir/specs.
func writeSpecDir(t *testing.T, workDir, featureID string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(workDir, "specs", featureID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func rmFile(t *testing.T, path string) {
	t.Helper()
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
}

// seedLesson persists one valid lesson event the way the reflect engine
// does, so lesson queries in tests have something to return.
func seedLesson(t *testing.T, d Deps, project, category, constraint string) {
	t.Helper()
	l := lessons.Lesson{
		ID:         "l-" + category,
		Project:    project,
		WorkItemID: "000-seed",
		Phase:      lessons.PhaseImplement,
		Category:   category,
		Severity:   lessons.SeverityHigh,
		Symptom:    "symptom long enough to pass validation",
		RootCause:  "root cause long enough to pass validation",
		Resolution: "resolution long enough to pass validation",
		Constraint: constraint,
	}
	payload, err := json.Marshal(l)
	if err != nil {
		t.Fatal(err)
	}
	err = d.Store.Append(context.Background(), events.Event{
		Type:       lessons.EventTypeRecorded,
		ActorID:    "reflect",
		TargetID:   l.WorkItemID,
		TargetType: "work-item",
		Summary:    l.Category + ": " + l.Constraint,
		Metadata: map[string]string{
			"lesson":   string(payload),
			"project":  l.Project,
			"category": l.Category,
			"severity": string(l.Severity),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func eventsOfType(t *testing.T, store *events.MemStore, eventType string) []events.Event {
	t.Helper()
	recs, err := store.Query(context.Background(), events.Filter{Type: eventType})
	if err != nil {
		t.Fatal(err)
	}
	return recs
}
