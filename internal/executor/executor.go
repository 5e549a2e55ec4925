// Package executor implements the per-phase pipeline units. Every executor
// shares one contract: CanRun says which states it acts on, Execute never
// returns an error - all failure comes back as a typed failed result.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/feature"
	"github.com/jywlabs/drover/internal/gitops"
	"github.com/jywlabs/drover/internal/launcher"
	"github.com/jywlabs/drover/internal/lessons"
	"github.com/jywlabs/drover/internal/spectool"
)

// Status is the outcome kind of one executor invocation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result is the outcome of one executor invocation. A failed result always
// carries a cause; a succeeded result never does.
type Result struct {
	Status      Status
	Cause       string
	Artifacts   []string
	Score       *int
	Metadata    map[string]string
	TreeChanged bool
}

// Succeeded builds a successful result reporting the produced artifacts.
func Succeeded(artifacts ...string) Result {
	return Result{Status: StatusSucceeded, Artifacts: artifacts}
}

// Failed builds a failed result with a human-readable cause.
func Failed(format string, args ...any) Result {
	return Result{Status: StatusFailed, Cause: fmt.Sprintf(format, args...)}
}

// WithMeta attaches side-channel metadata to a result.
func (r Result) WithMeta(key, value string) Result {
	if r.Metadata == nil {
		r.Metadata = map[string]string{}
	}
	r.Metadata[key] = value
	return r
}

// Options carries per-invocation settings into an executor.
type Options struct {
	WorkDir string // the feature's exclusively-owned worktree
}

// Executor is the common contract every phase implements.
type Executor interface {
	// Name is the phase name, e.g. "specify".
	Name() string
	// CanRun reports whether the executor acts on the feature's current
	// state: its ready state or its own in-progress state, nothing else.
	CanRun(f *feature.Feature) bool
	// Execute runs the phase. It never returns an error; every failure is
	// a failed Result the orchestrator can act on.
	Execute(ctx context.Context, f *feature.Feature, opts Options) Result
}

// Timeouts collects the wall-clock bounds for the phases.
type Timeouts struct {
	Standard         time.Duration // specify, plan, tasks, complete
	ImplementFloor   time.Duration
	ImplementPerTask time.Duration
	Verification     time.Duration
}

// DefaultTimeouts returns the stock timeout policy.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Standard:         30 * time.Minute,
		ImplementFloor:   30 * time.Minute,
		ImplementPerTask: 3 * time.Minute,
		Verification:     10 * time.Minute,
	}
}

// Deps is everything the executors collaborate with, injected once at
// construction. The launcher entry is the single swap point tests use.
type Deps struct {
	Launcher launcher.Launcher
	Tool     spectool.Tool
	Store    events.Store
	Git      gitops.SourceControl
	PRs      gitops.PRProvider
	Lessons  *lessons.Engine
	Logger   *zap.Logger
	Timeouts Timeouts
}

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// All returns the full executor set in pipeline order, for the
// orchestrator's first-match selection.
func All(d Deps) []Executor {
	return []Executor{
		NewSpecify(d),
		NewPlan(d),
		NewTasks(d),
		NewImplement(d),
		NewComplete(d),
	}
}

// emit appends a progress event, logging rather than failing the phase if
// the append itself fails: the primary result must not be masked.
func (d *Deps) emit(ctx context.Context, e events.Event) {
	if err := d.Store.Append(ctx, e); err != nil {
		d.logger().Error("emit event", zap.String("type", e.Type), zap.Error(err))
	}
}
