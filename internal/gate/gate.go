// Package gate scores phase artifacts with the external rubric evaluator
// and reduces the result to a pass/fail decision. Gate failure is ordinary
// control flow: it blocks advancement but never aborts a run.
package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jywlabs/drover/internal/spectool"
)

// DefaultThreshold is the minimum passing score on the 0-100 scale.
const DefaultThreshold = 80

// rubrics maps each gated phase to its evaluator rubric name. Phases with
// no entry pass trivially.
var rubrics = map[string]string{
	"specify": "spec-quality",
	"plan":    "plan-quality",
}

// artifacts maps each gated phase to the artifact file the rubric scores.
var artifacts = map[string]string{
	"specify": "spec.md",
	"plan":    "plan.md",
}

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Passed bool
	Score  int
	Reason string
}

// Gate evaluates phase artifacts against per-phase score thresholds.
type Gate struct {
	tool       spectool.Tool
	specsRoot  string         // subdirectory of the worktree holding per-feature spec dirs
	thresholds map[string]int // per-phase overrides; DefaultThreshold otherwise
}

// New returns a Gate delegating scoring to the given tool. specsRoot is
// relative to the working directory, typically "specs".
func New(tool spectool.Tool, specsRoot string, thresholds map[string]int) *Gate {
	if specsRoot == "" {
		specsRoot = "specs"
	}
	return &Gate{tool: tool, specsRoot: specsRoot, thresholds: thresholds}
}

// Threshold returns the passing score for a phase.
func (g *Gate) Threshold(phase string) int {
	if t, ok := g.thresholds[phase]; ok {
		return t
	}
	return DefaultThreshold
}

// Evaluate scores the feature's artifact for the phase. Phases without a
// rubric mapping pass with score 100. Evaluator failure (nonzero exit or
// unparsable output) is reported as a failing decision, never an error.
func (g *Gate) Evaluate(ctx context.Context, workDir, phase, featureID string) Decision {
	rubric, ok := rubrics[phase]
	if !ok {
		return Decision{Passed: true, Score: 100, Reason: "no rubric for phase"}
	}
	artifact := artifacts[phase]

	dir := g.artifactDir(workDir, featureID)
	file := filepath.Join(dir, artifact)

	res, err := g.tool.Eval(ctx, workDir, file, rubric)
	if err != nil {
		return Decision{Passed: false, Score: 0, Reason: fmt.Sprintf("evaluator failed: %v", err)}
	}

	threshold := g.Threshold(phase)
	if res.Score < threshold {
		return Decision{
			Passed: false,
			Score:  res.Score,
			Reason: fmt.Sprintf("%s scored %d, below threshold %d", artifact, res.Score, threshold),
		}
	}
	return Decision{Passed: true, Score: res.Score}
}

// artifactDir locates the feature's spec directory by case-insensitive
// prefix match against the feature id. When nothing matches it falls back
// to the directly constructed path, even if it does not exist, so the
// evaluation step fails cleanly instead of silently skipping.
func (g *Gate) artifactDir(workDir, featureID string) string {
	root := filepath.Join(workDir, g.specsRoot)
	prefix := strings.ToLower(featureID)

	entries, err := os.ReadDir(root)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if strings.HasPrefix(strings.ToLower(entry.Name()), prefix) {
				return filepath.Join(root, entry.Name())
			}
		}
	}
	return filepath.Join(root, featureID)
}
