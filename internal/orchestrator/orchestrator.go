// Package orchestrator drives features through the pipeline state machine:
// select the applicable executor, run it, consult the quality gate, and
// advance the durable phase marker on the blackboard.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/executor"
	"github.com/jywlabs/drover/internal/feature"
	"github.com/jywlabs/drover/internal/gate"
)

// gatedPhases are consulted against the quality gate before the feature
// may advance past the phase's completed state.
var gatedPhases = map[string]bool{
	"specify": true,
	"plan":    true,
}

// StepResult reports what one scheduling step did.
type StepResult struct {
	Phase    string          // executor that ran, "" when nothing applied
	Result   executor.Result // the executor's outcome
	Gate     *gate.Decision  // set when a quality gate was consulted
	Advanced bool            // whether the durable phase moved forward
	NewPhase feature.Phase
}

// Orchestrator owns executor selection and phase advancement for features.
// One orchestrator instance processes one feature invocation at a time;
// independent features may each have their own instance sharing the store.
type Orchestrator struct {
	executors []executor.Executor
	store     events.Store
	gate      *gate.Gate
	logger    *zap.Logger
}

// New builds an orchestrator over the standard executor set.
func New(deps executor.Deps, g *gate.Gate) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		executors: executor.All(deps),
		store:     deps.Store,
		gate:      g,
		logger:    logger,
	}
}

// Step performs one scheduling pass for the feature: pick the first
// executor whose CanRun matches, mark the phase in progress, execute, gate,
// and advance. A failed result or failed gate leaves the feature in its
// in-progress state for the next pass; neither is an error.
func (o *Orchestrator) Step(ctx context.Context, f *feature.Feature, opts executor.Options) (StepResult, error) {
	if f.Phase.Terminal() {
		return StepResult{NewPhase: f.Phase}, nil
	}

	exec := o.selectExecutor(f)
	if exec == nil {
		return StepResult{NewPhase: f.Phase}, fmt.Errorf("no executor can run feature %s in phase %s", f.ID, f.Phase)
	}
	step := StepResult{Phase: exec.Name()}

	// Durably mark in-progress before launching anything, so a crash
	// leaves a resumable marker rather than a lost invocation.
	if !f.Phase.InProgress() {
		if err := feature.Advance(ctx, o.store, f, f.Phase.Next(),
			fmt.Sprintf("%s started for %s", exec.Name(), f.ID)); err != nil {
			return step, err
		}
	}

	o.logger.Info("executing phase",
		zap.String("feature", f.ID),
		zap.String("phase", exec.Name()))
	step.Result = exec.Execute(ctx, f, opts)

	if step.Result.Status == executor.StatusFailed {
		o.emit(ctx, events.Event{
			Type:       "phase.failed",
			ActorID:    "orchestrator",
			TargetID:   f.ID,
			TargetType: "feature",
			Summary:    fmt.Sprintf("%s failed for %s: %s", exec.Name(), f.ID, step.Result.Cause),
			Metadata:   map[string]string{"phase": exec.Name(), "cause": step.Result.Cause},
		})
		step.NewPhase = f.Phase
		return step, nil
	}

	if gatedPhases[exec.Name()] {
		decision := o.gate.Evaluate(ctx, opts.WorkDir, exec.Name(), f.ID)
		step.Gate = &decision
		step.Result.Score = &decision.Score
		if !decision.Passed {
			o.emit(ctx, events.Event{
				Type:       "gate.failed",
				ActorID:    "orchestrator",
				TargetID:   f.ID,
				TargetType: "feature",
				Summary:    fmt.Sprintf("quality gate blocked %s for %s: %s", exec.Name(), f.ID, decision.Reason),
				Metadata: map[string]string{
					"phase":  exec.Name(),
					"score":  fmt.Sprint(decision.Score),
					"reason": decision.Reason,
				},
			})
			step.NewPhase = f.Phase
			return step, nil
		}
	}

	if err := feature.Advance(ctx, o.store, f, f.Phase.Next(),
		fmt.Sprintf("%s completed for %s", exec.Name(), f.ID)); err != nil {
		return step, err
	}
	step.Advanced = true
	step.NewPhase = f.Phase
	return step, nil
}

// Run drives the feature forward until it reaches the terminal state or a
// step declines to advance (failure or gate block). Phase executions are
// strictly sequential; no phase starts before the previous result is fully
// interpreted and the durable marker advanced.
func (o *Orchestrator) Run(ctx context.Context, f *feature.Feature, opts executor.Options) ([]StepResult, error) {
	var steps []StepResult
	for !f.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		step, err := o.Step(ctx, f, opts)
		if err != nil {
			return steps, err
		}
		steps = append(steps, step)
		if !step.Advanced {
			break
		}
	}
	return steps, nil
}

func (o *Orchestrator) selectExecutor(f *feature.Feature) executor.Executor {
	for _, e := range o.executors {
		if e.CanRun(f) {
			return e
		}
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, e events.Event) {
	if err := o.store.Append(ctx, e); err != nil {
		o.logger.Error("emit event", zap.String("type", e.Type), zap.Error(err))
	}
}
