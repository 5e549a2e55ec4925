package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/feature"
	"github.com/jywlabs/drover/internal/launcher"
)

// maxPRBodyLen bounds the assembled pull-request body.
const maxPRBodyLen = 4000

// completeArtifacts is the fixed allow-list of paths the complete phase
// commits. Nothing outside it is ever staged, so unrelated untracked files
// cannot be swept into the completion commit.
var completeArtifacts = []string{"spec.md", "plan.md", "tasks.md", "verification.md"}

// Complete finalizes a feature: ensure the verification document exists,
// run the external complete step, commit the phase artifacts, and hand the
// branch off as a pull request unless there is nothing to merge.
type Complete struct {
	deps Deps
}

// NewComplete returns the complete-phase executor.
func NewComplete(d Deps) *Complete {
	return &Complete{deps: d}
}

func (e *Complete) Name() string { return "complete" }

func (e *Complete) CanRun(f *feature.Feature) bool {
	return f.Phase == feature.PhaseImplemented || f.Phase == feature.PhaseCompleting
}

func (e *Complete) Execute(ctx context.Context, f *feature.Feature, opts Options) Result {
	dir := specDir(opts.WorkDir, f.ID)

	if res := e.ensureVerificationDoc(ctx, f, opts, dir); res.Status == StatusFailed {
		return res
	}

	// The external complete step performs its own internal validation gate.
	if _, err := e.deps.Tool.Export(ctx, opts.WorkDir, "complete", f.ID); err != nil {
		return Failed("complete step: %v", err)
	}

	if res := e.commitArtifacts(f, opts, dir); res.Status == StatusFailed {
		return res
	}

	ahead, err := e.deps.Git.HasCommitsAhead(opts.WorkDir, f.Base())
	if err != nil {
		return Failed("check commits ahead of %s: %v", f.Base(), err)
	}
	if !ahead {
		// Nothing to merge is a valid outcome, not a failure.
		e.deps.emit(ctx, events.Event{
			Type:       "complete.skipped",
			ActorID:    "complete",
			TargetID:   f.ID,
			TargetType: "feature",
			Summary:    fmt.Sprintf("no commits ahead of %s, skipping pull request for %s", f.Base(), f.ID),
		})
		return Succeeded("verification.md").WithMeta("skippedPR", "true")
	}

	branch, err := e.deps.Git.CurrentBranch(opts.WorkDir)
	if err != nil {
		return Failed("resolve current branch: %v", err)
	}
	if err := e.deps.Git.Push(ctx, opts.WorkDir, branch); err != nil {
		return Failed("push %s: %v", branch, err)
	}

	pr, err := e.deps.PRs.Create(ctx, f.Repo,
		fmt.Sprintf("%s: %s", f.ID, f.Title),
		e.buildPRBody(f, opts, dir),
		f.Base(), branch)
	if err != nil {
		return Failed("create pull request: %v", err)
	}

	// Hand-off point: the review work item carries the PR reference to the
	// downstream review collaborator.
	e.deps.emit(ctx, events.Event{
		Type:       "review.requested",
		ActorID:    "complete",
		TargetID:   f.ID,
		TargetType: "feature",
		Summary:    fmt.Sprintf("review requested for %s (PR #%d)", f.ID, pr.Number),
		Metadata: map[string]string{
			"prNumber": fmt.Sprint(pr.Number),
			"prUrl":    pr.URL,
			"project":  f.ProjectID,
		},
	})

	return Succeeded("verification.md").
		WithMeta("prNumber", fmt.Sprint(pr.Number)).
		WithMeta("prUrl", pr.URL)
}

// ensureVerificationDoc generates the verification document through a
// narrower-scoped agent run when it is missing.
func (e *Complete) ensureVerificationDoc(ctx context.Context, f *feature.Feature, opts Options, dir string) Result {
	path := filepath.Join(dir, "verification.md")
	if _, err := os.Stat(path); err == nil {
		return Succeeded()
	}

	res, err := e.deps.Launcher.Launch(ctx, launcher.Request{
		SessionID:     fmt.Sprintf("verify-%s-%s", f.ID, uuid.NewString()[:8]),
		Prompt:        verificationPrompt(f, path),
		Dir:           opts.WorkDir,
		Timeout:       e.deps.Timeouts.Verification,
		RestrictTools: true,
	})
	if err != nil {
		return Failed("verification agent could not be launched: %v", err)
	}
	if res.ExitCode != 0 {
		return Failed("verification agent exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if _, err := os.Stat(path); err != nil {
		return Failed("verification agent finished but %s was not written", path)
	}
	return Succeeded()
}

func verificationPrompt(f *feature.Feature, path string) string {
	return fmt.Sprintf(`Produce a verification document for feature %s (%s).

Read the feature's spec.md, plan.md, and tasks.md, inspect the implementation,
and write %s: for each acceptance-relevant behavior, state how it was verified
(test name, manual check, or gap). Be factual; list unverified items plainly.`,
		f.ID, f.Title, path)
}

// commitArtifacts commits only the allow-listed phase artifacts.
func (e *Complete) commitArtifacts(f *feature.Feature, opts Options, dir string) Result {
	rel, err := filepath.Rel(opts.WorkDir, dir)
	if err != nil {
		return Failed("resolve artifact paths: %v", err)
	}
	paths := make([]string, 0, len(completeArtifacts))
	for _, a := range completeArtifacts {
		paths = append(paths, filepath.Join(rel, a))
	}
	if _, err := e.deps.Git.CommitPaths(opts.WorkDir, paths, fmt.Sprintf("drover: complete %s", f.ID)); err != nil {
		return Failed("commit phase artifacts: %v", err)
	}
	return Succeeded()
}

// buildPRBody assembles the pull-request body from the spec's problem
// statement, the plan's key decisions, and a changed-files summary,
// truncated to the body length bound.
func (e *Complete) buildPRBody(f *feature.Feature, opts Options, dir string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Automated delivery of %s: %s\n\n", f.ID, f.Title)

	if spec, err := os.ReadFile(filepath.Join(dir, "spec.md")); err == nil {
		sb.WriteString("## Problem\n\n")
		sb.WriteString(extractSection(string(spec), "Problem Statement"))
		sb.WriteString("\n\n")
	}
	if plan, err := os.ReadFile(filepath.Join(dir, "plan.md")); err == nil {
		sb.WriteString("## Key Decisions\n\n")
		sb.WriteString(extractSection(string(plan), "Key Decisions"))
		sb.WriteString("\n\n")
	}

	if files, err := e.deps.Git.ChangedFiles(opts.WorkDir, f.Base()); err == nil && len(files) > 0 {
		sb.WriteString("## Changed Files\n\n")
		for _, file := range files {
			sb.WriteString("- " + file + "\n")
		}
	}

	body := sb.String()
	if len(body) > maxPRBodyLen {
		body = body[:maxPRBodyLen-3] + "..."
	}
	return body
}

// extractSection returns the body of the named markdown section, or the
// leading portion of the document when no such heading exists.
func extractSection(content, heading string) string {
	lines := strings.Split(content, "\n")
	var (
		out       []string
		capturing bool
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if capturing {
				break
			}
			if strings.Contains(strings.ToLower(trimmed), strings.ToLower(heading)) {
				capturing = true
			}
			continue
		}
		if capturing {
			out = append(out, line)
		}
	}
	if len(out) > 0 {
		return strings.TrimSpace(strings.Join(out, "\n"))
	}
	if len(lines) > 20 {
		lines = lines[:20]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
