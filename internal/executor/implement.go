package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/feature"
	"github.com/jywlabs/drover/internal/lessons"
)

// Implement runs the coding agent against the feature's task list. Its
// timeout scales with the task count, its prompt carries the project's
// known constraints, and whatever the agent changed in the tree is
// committed even when the agent fails - partial work is never lost.
type Implement struct {
	deps Deps
	sp   standardPhase
}

// NewImplement returns the implement-phase executor.
func NewImplement(d Deps) *Implement {
	return &Implement{
		deps: d,
		sp: standardPhase{
			name:     "implement",
			ready:    feature.PhaseTasked,
			running:  feature.PhaseImplementing,
			artifact: "implementation",
		},
	}
}

func (e *Implement) Name() string { return e.sp.name }

func (e *Implement) CanRun(f *feature.Feature) bool { return e.sp.canRun(f) }

func (e *Implement) Execute(ctx context.Context, f *feature.Feature, opts Options) (res Result) {
	// The commit runs on every path out of this function, success or
	// failure, so a timed-out or killed agent never loses partial work.
	// A commit error is reported but never masks the agent's result.
	defer func() {
		cr, err := e.deps.Git.CommitAll(opts.WorkDir, fmt.Sprintf("drover: implement %s", f.ID))
		if err != nil {
			e.deps.logger().Error("commit after implement", zap.String("feature", f.ID), zap.Error(err))
			return
		}
		if cr.Committed {
			res.TreeChanged = true
			e.deps.emit(ctx, events.Event{
				Type:       "work.committed",
				ActorID:    e.sp.name,
				TargetID:   f.ID,
				TargetType: "feature",
				Summary:    fmt.Sprintf("implement changes committed for %s (%s)", f.ID, shortHash(cr.Hash)),
				Metadata:   map[string]string{"hash": cr.Hash, "phase": e.sp.name},
			})
		}
	}()

	taskCount := countTasks(filepath.Join(specDir(opts.WorkDir, f.ID), "tasks.md"))
	timeout := e.timeout(taskCount)
	e.deps.logger().Info("implement timeout sized",
		zap.String("feature", f.ID),
		zap.Int("tasks", taskCount),
		zap.Duration("timeout", timeout))

	return run(ctx, e.deps, e.sp, f, opts, e.knownConstraints(ctx, f), timeout)
}

// timeout returns the task-scaled wall-clock bound: a fixed floor plus a
// fixed increment per declared task, so large features are not starved.
func (e *Implement) timeout(taskCount int) time.Duration {
	return e.deps.Timeouts.ImplementFloor + time.Duration(taskCount)*e.deps.Timeouts.ImplementPerTask
}

// knownConstraints renders the project's lessons for prompt injection.
// Every recorded lesson is injected, not a capped page: the query must be
// unlimited or old constraints silently fall out of future prompts. A
// lesson query failure degrades to an un-enriched prompt; it must not
// block implementation.
func (e *Implement) knownConstraints(ctx context.Context, f *feature.Feature) string {
	ls, err := e.deps.Lessons.Query(ctx, lessons.QueryFilter{Project: f.ProjectID, Limit: 0})
	if err != nil {
		e.deps.logger().Warn("lesson query failed, continuing without constraints",
			zap.String("project", f.ProjectID), zap.Error(err))
		return ""
	}
	return lessons.RenderConstraints(ls)
}

// countTasks counts checkbox entries in a tasks.md. A missing or empty
// file counts as zero tasks and the floor timeout applies.
func countTasks(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "- [ ]") || strings.HasPrefix(line, "- [x]") || strings.HasPrefix(line, "- [X]") {
			count++
		}
	}
	return count
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
