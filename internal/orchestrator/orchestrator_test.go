package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/executor"
	"github.com/jywlabs/drover/internal/feature"
	"github.com/jywlabs/drover/internal/gate"
	"github.com/jywlabs/drover/internal/gitops"
	"github.com/jywlabs/drover/internal/launcher"
	"github.com/jywlabs/drover/internal/lessons"
	"github.com/jywlabs/drover/internal/spectool"
)

type fakeLauncher struct {
	launches int
	result   launcher.Result
}

func (f *fakeLauncher) Launch(context.Context, launcher.Request) (launcher.Result, error) {
	f.launches++
	return f.result, nil
}

type fakeTool struct {
	evalScore int
	evalErr   error
}

func (f *fakeTool) Export(context.Context, string, string, string) (spectool.Export, error) {
	return spectool.Export{Exported: true, Prompt: "work"}, nil
}
func (f *fakeTool) AdvancePhase(context.Context, string, string, string) error { return nil }
func (f *fakeTool) Eval(context.Context, string, string, string) (spectool.EvalResult, error) {
	return spectool.EvalResult{Score: f.evalScore}, f.evalErr
}

type fakeGit struct{}

func (fakeGit) CreateWorktree(context.Context, string, string, string) error { return nil }
func (fakeGit) RemoveWorktree(context.Context, string, string) error { return nil }
func (fakeGit) CommitAll(string, string) (gitops.CommitResult, error) {
	return gitops.CommitResult{Committed: true, Hash: "abc123def4567890"}, nil
}
func (fakeGit) CommitPaths(string, []string, string) (gitops.CommitResult, error) {
	return gitops.CommitResult{Committed: true, Hash: "abc123def4567890"}, nil
}
func (fakeGit) CurrentBranch(string) (string, error) { return "feat/042", nil }
func (fakeGit) HasCommitsAhead(string, string) (bool, error) { return true, nil }
func (fakeGit) ChangedFiles(string, string) ([]string, error) { return nil, nil }
func (fakeGit) Push(context.Context, string, string) error { return nil }

type fakePRs struct{ created int }

func (f *fakePRs) Create(context.Context, string, string, string, string, string) (gitops.PullRequest, error) {
	f.created++
	return gitops.PullRequest{Number: 7, URL: "https://example.com/pr/7"}, nil
}

func fixture(t *testing.T, tool *fakeTool, fl *fakeLauncher) (*Orchestrator, *events.MemStore, executor.Options) {
	t.Helper()
	store := events.NewMemStore()
	deps := executor.Deps{
		Launcher: fl,
		Tool:     tool,
		Store:    store,
		Git:      fakeGit{},
		PRs:      &fakePRs{},
		Lessons:  lessons.NewEngine(store, fl, nil),
		Timeouts: executor.DefaultTimeouts(),
	}

	workDir := t.TempDir()
	dir := filepath.Join(workDir, "specs", "042-user-auth")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"spec.md", "plan.md", "tasks.md", "verification.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# "+name+"\n\ncontent body\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	o := New(deps, gate.New(tool, "specs", nil))
	return o, store, executor.Options{WorkDir: workDir}
}

// A feature walks the whole pipeline: five executor runs, each bracketed by
// an in-progress transition and a completion transition, ending at done.
func TestRunWalksPipelineToDone(t *testing.T) {
	ctx := context.Background()
	tool := &fakeTool{evalScore: 95}
	fl := &fakeLauncher{result: launcher.Result{ExitCode: 0}}
	o, store, opts := fixture(t, tool, fl)

	f := &feature.Feature{ID: "042-user-auth", Title: "User auth", ProjectID: "shop",
		Repo: "jywlabs/shop", Phase: feature.PhaseQueued}

	steps, err := o.Run(ctx, f, opts)
	if err != nil {
		t.Fatal(err)
	}
	if f.Phase != feature.PhaseDone {
		t.Fatalf("final phase = %s, want done", f.Phase)
	}

	wantPhases := []string{"specify", "plan", "tasks", "implement", "complete"}
	if len(steps) != len(wantPhases) {
		t.Fatalf("ran %d steps, want %d", len(steps), len(wantPhases))
	}
	for i, step := range steps {
		if step.Phase != wantPhases[i] {
			t.Errorf("step %d ran %s, want %s", i, step.Phase, wantPhases[i])
		}
		if !step.Advanced {
			t.Errorf("step %s did not advance", step.Phase)
		}
	}
	// Gated phases carry the evaluator's score on the result.
	if steps[0].Gate == nil || steps[0].Gate.Score != 95 {
		t.Errorf("specify gate = %+v", steps[0].Gate)
	}
	if steps[2].Gate != nil {
		t.Errorf("tasks must not be gated: %+v", steps[2].Gate)
	}

	// Every transition is durable: the event log replays back to done.
	reloaded := &feature.Feature{ID: "042-user-auth"}
	if err := feature.Load(ctx, store, reloaded); err != nil {
		t.Fatal(err)
	}
	if reloaded.Phase != feature.PhaseDone {
		t.Errorf("reloaded phase = %s, want done", reloaded.Phase)
	}
}

// A failed execution leaves the feature in its in-progress state so the next
// pass retries the same phase, and Step reports no error.
func TestStepFailureKeepsInProgress(t *testing.T) {
	ctx := context.Background()
	tool := &fakeTool{evalScore: 95}
	fl := &fakeLauncher{result: launcher.Result{ExitCode: 2, Stderr: "boom"}}
	o, store, opts := fixture(t, tool, fl)

	f := &feature.Feature{ID: "042-user-auth", Phase: feature.PhaseQueued}
	step, err := o.Step(ctx, f, opts)
	if err != nil {
		t.Fatal(err)
	}
	if step.Advanced {
		t.Error("failed step must not advance")
	}
	if f.Phase != feature.PhaseSpecifying {
		t.Errorf("phase = %s, want specifying", f.Phase)
	}
	if got, _ := store.Query(ctx, events.Filter{Type: "phase.failed"}); len(got) != 1 {
		t.Errorf("got %d phase.failed events, want 1", len(got))
	}

	// The agent recovers; the same phase picks up from the in-progress marker.
	fl.result = launcher.Result{ExitCode: 0}
	step, err = o.Step(ctx, f, opts)
	if err != nil {
		t.Fatal(err)
	}
	if step.Phase != "specify" || !step.Advanced {
		t.Errorf("retry step = %+v", step)
	}
	if f.Phase != feature.PhaseSpecified {
		t.Errorf("phase = %s, want specified", f.Phase)
	}
}

// A gate block behaves like a failure for scheduling: successful execution,
// no advancement, feature stays in progress.
func TestStepGateBlockKeepsInProgress(t *testing.T) {
	ctx := context.Background()
	tool := &fakeTool{evalScore: 55}
	fl := &fakeLauncher{result: launcher.Result{ExitCode: 0}}
	o, store, opts := fixture(t, tool, fl)

	f := &feature.Feature{ID: "042-user-auth", Phase: feature.PhaseQueued}
	step, err := o.Step(ctx, f, opts)
	if err != nil {
		t.Fatal(err)
	}
	if step.Result.Status != executor.StatusSucceeded {
		t.Fatalf("execution result = %+v", step.Result)
	}
	if step.Advanced {
		t.Error("gate block must not advance")
	}
	if step.Gate == nil || step.Gate.Passed || step.Gate.Score != 55 {
		t.Errorf("gate = %+v", step.Gate)
	}
	if f.Phase != feature.PhaseSpecifying {
		t.Errorf("phase = %s, want specifying", f.Phase)
	}
	if got, _ := store.Query(ctx, events.Filter{Type: "gate.failed"}); len(got) != 1 {
		t.Errorf("got %d gate.failed events, want 1", len(got))
	}
}

func TestStepTerminalIsNoop(t *testing.T) {
	tool := &fakeTool{evalScore: 95}
	fl := &fakeLauncher{}
	o, _, opts := fixture(t, tool, fl)

	f := &feature.Feature{ID: "042-user-auth", Phase: feature.PhaseDone}
	step, err := o.Step(context.Background(), f, opts)
	if err != nil {
		t.Fatal(err)
	}
	if step.Phase != "" || fl.launches != 0 {
		t.Errorf("terminal feature ran something: %+v, %d launches", step, fl.launches)
	}
}
