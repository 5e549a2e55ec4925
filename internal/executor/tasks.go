package executor

import (
	"context"

	"github.com/jywlabs/drover/internal/feature"
)

// Tasks breaks the plan down into the feature's task list artifact.
type Tasks struct {
	deps Deps
	sp   standardPhase
}

// NewTasks returns the tasks-phase executor.
func NewTasks(d Deps) *Tasks {
	return &Tasks{
		deps: d,
		sp: standardPhase{
			name:     "tasks",
			ready:    feature.PhasePlanned,
			running:  feature.PhaseTasking,
			artifact: "tasks.md",
		},
	}
}

func (e *Tasks) Name() string { return e.sp.name }

func (e *Tasks) CanRun(f *feature.Feature) bool { return e.sp.canRun(f) }

func (e *Tasks) Execute(ctx context.Context, f *feature.Feature, opts Options) Result {
	return run(ctx, e.deps, e.sp, f, opts, "", e.deps.Timeouts.Standard)
}
