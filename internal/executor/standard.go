package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/feature"
	"github.com/jywlabs/drover/internal/launcher"
	"github.com/jywlabs/drover/internal/lessons"
)

// standardPhase is the shared execution shape for the prompt-driven phases:
// export a prompt from the spec tool, run the agent against it, then advance
// the tool's durable phase marker. specify/plan/tasks are thin
// configurations of this one helper.
type standardPhase struct {
	name     string        // phase name passed to the spec tool
	ready    feature.Phase // state the phase picks work up from
	running  feature.Phase // the phase's own in-progress marker
	artifact string        // file the agent is instructed to produce
}

func (sp standardPhase) canRun(f *feature.Feature) bool {
	return f.Phase == sp.ready || f.Phase == sp.running
}

// run executes the standard phase shape. extraPrompt, when non-empty, is
// injected between the system context and the task instructions.
func run(ctx context.Context, d Deps, sp standardPhase, f *feature.Feature, opts Options, extraPrompt string, timeout time.Duration) Result {
	export, err := d.Tool.Export(ctx, opts.WorkDir, sp.name, f.ID)
	if err != nil {
		return Failed("export %s prompt: %v", sp.name, err)
	}

	// No prompt file means the tool produced the artifact itself; an
	// idempotent re-run skips straight to advancing phase state.
	if !export.Exported {
		if err := d.Tool.AdvancePhase(ctx, opts.WorkDir, f.ID, sp.name); err != nil {
			return Failed("advance %s phase marker: %v", sp.name, err)
		}
		captureArtifact(ctx, d, sp, f, opts.WorkDir)
		return Succeeded(sp.artifact)
	}

	prompt := assemblePrompt(export.SystemContext, extraPrompt, export.Prompt, sp.artifact)
	sessionID := fmt.Sprintf("%s-%s-%s", sp.name, f.ID, uuid.NewString()[:8])

	d.emit(ctx, events.Event{
		Type:       "agent.launched",
		ActorID:    sp.name,
		TargetID:   f.ID,
		TargetType: "feature",
		Summary:    fmt.Sprintf("%s agent launched for %s", sp.name, f.ID),
		Metadata:   map[string]string{"session": sessionID, "phase": sp.name},
	})

	res, err := d.Launcher.Launch(ctx, launcher.Request{
		SessionID: sessionID,
		Prompt:    prompt,
		Dir:       opts.WorkDir,
		Timeout:   timeout,
	})
	if err != nil {
		return Failed("%s agent could not be launched: %v", sp.name, err)
	}
	if res.ExitCode != 0 {
		cause := strings.TrimSpace(res.Stderr)
		if res.TimedOut() {
			cause = "timed out: " + cause
		}
		d.emit(ctx, events.Event{
			Type:       "agent.failed",
			ActorID:    sp.name,
			TargetID:   f.ID,
			TargetType: "feature",
			Summary:    fmt.Sprintf("%s agent exited %d for %s", sp.name, res.ExitCode, f.ID),
			Metadata:   map[string]string{"session": sessionID, "phase": sp.name, "exitCode": fmt.Sprint(res.ExitCode)},
		})
		return Failed("%s agent exited %d: %s", sp.name, res.ExitCode, cause)
	}
	// A clean exit can still carry a failure verdict in the result message
	// (e.g. the agent ran out of turns); the stream is consulted too.
	if !launcher.Succeeded(res.Stdout) {
		cause := strings.TrimSpace(launcher.FinalResultText(res.Stdout))
		d.emit(ctx, events.Event{
			Type:       "agent.failed",
			ActorID:    sp.name,
			TargetID:   f.ID,
			TargetType: "feature",
			Summary:    fmt.Sprintf("%s agent reported failure for %s", sp.name, f.ID),
			Metadata:   map[string]string{"session": sessionID, "phase": sp.name, "exitCode": "0"},
		})
		return Failed("%s agent reported failure: %s", sp.name, cause)
	}

	if err := d.Tool.AdvancePhase(ctx, opts.WorkDir, f.ID, sp.name); err != nil {
		return Failed("advance %s phase marker: %v", sp.name, err)
	}

	d.emit(ctx, events.Event{
		Type:       "agent.completed",
		ActorID:    sp.name,
		TargetID:   f.ID,
		TargetType: "feature",
		Summary:    fmt.Sprintf("%s agent finished for %s", sp.name, f.ID),
		Metadata:   map[string]string{"session": sessionID, "phase": sp.name},
	})
	captureArtifact(ctx, d, sp, f, opts.WorkDir)

	return Succeeded(sp.artifact)
}

// assemblePrompt builds the full agent prompt: system context, any injected
// constraints, the exported task prompt, and the artifact contract.
func assemblePrompt(systemContext, extra, task, artifact string) string {
	var sb strings.Builder
	if systemContext != "" {
		sb.WriteString(systemContext)
		sb.WriteString("\n\n")
	}
	if extra != "" {
		sb.WriteString(extra)
		sb.WriteString("\n")
	}
	sb.WriteString(task)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Write the resulting %s to disk yourself. ", artifact)
	sb.WriteString("When the artifact is complete, end your final message with the line:\n")
	sb.WriteString("PHASE-COMPLETE\n")
	return sb.String()
}

// captureArtifact snapshots the produced artifact onto the blackboard so
// the reflect engine can later reconstruct the feature's history from the
// event log alone. A missing file is not a phase failure.
func captureArtifact(ctx context.Context, d Deps, sp standardPhase, f *feature.Feature, workDir string) {
	path := filepath.Join(specDir(workDir, f.ID), sp.artifact)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	d.emit(ctx, events.Event{
		Type:       lessons.EventTypeArtifact,
		ActorID:    sp.name,
		TargetID:   f.ID,
		TargetType: "feature",
		Summary:    fmt.Sprintf("%s artifact captured for %s", sp.artifact, f.ID),
		Metadata: map[string]string{
			"phase":    sp.name,
			"artifact": sp.artifact,
			"content":  string(data),
		},
	})
}

// specDir locates the feature's spec directory by case-insensitive prefix
// match under specs/, falling back to the directly constructed path.
func specDir(workDir, featureID string) string {
	root := filepath.Join(workDir, "specs")
	prefix := strings.ToLower(featureID)
	if entries, err := os.ReadDir(root); err == nil {
		for _, entry := range entries {
			if entry.IsDir() && strings.HasPrefix(strings.ToLower(entry.Name()), prefix) {
				return filepath.Join(root, entry.Name())
			}
		}
	}
	return filepath.Join(root, featureID)
}
