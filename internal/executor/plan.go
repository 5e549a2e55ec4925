package executor

import (
	"context"

	"github.com/jywlabs/drover/internal/feature"
)

// Plan produces the feature's implementation plan artifact.
type Plan struct {
	deps Deps
	sp   standardPhase
}

// NewPlan returns the plan-phase executor.
func NewPlan(d Deps) *Plan {
	return &Plan{
		deps: d,
		sp: standardPhase{
			name:     "plan",
			ready:    feature.PhaseSpecified,
			running:  feature.PhasePlanning,
			artifact: "plan.md",
		},
	}
}

func (e *Plan) Name() string { return e.sp.name }

func (e *Plan) CanRun(f *feature.Feature) bool { return e.sp.canRun(f) }

func (e *Plan) Execute(ctx context.Context, f *feature.Feature, opts Options) Result {
	return run(ctx, e.deps, e.sp, f, opts, "", e.deps.Timeouts.Standard)
}
