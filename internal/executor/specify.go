package executor

import (
	"context"

	"github.com/jywlabs/drover/internal/feature"
)

// Specify produces the feature's specification artifact.
type Specify struct {
	deps Deps
	sp   standardPhase
}

// NewSpecify returns the specify-phase executor.
func NewSpecify(d Deps) *Specify {
	return &Specify{
		deps: d,
		sp: standardPhase{
			name:     "specify",
			ready:    feature.PhaseQueued,
			running:  feature.PhaseSpecifying,
			artifact: "spec.md",
		},
	}
}

func (e *Specify) Name() string { return e.sp.name }

func (e *Specify) CanRun(f *feature.Feature) bool { return e.sp.canRun(f) }

func (e *Specify) Execute(ctx context.Context, f *feature.Feature, opts Options) Result {
	return run(ctx, e.deps, e.sp, f, opts, "", e.deps.Timeouts.Standard)
}
