// Package spectool wraps the external spec-tooling binary. The tool either
// produces a phase artifact directly or exports a prompt for the coding
// agent to act on; it also owns its own durable phase marker and ships the
// rubric evaluator used by the quality gate.
package spectool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// EvalTimeout bounds one rubric evaluation, independent of agent timeouts.
const EvalTimeout = 2 * time.Minute

// Export is the outcome of running the tool in prompt-export mode.
type Export struct {
	// Exported is false when the tool produced the artifact directly and no
	// prompt file was emitted, which models an idempotent re-run.
	Exported      bool
	Prompt        string
	SystemContext string
}

// EvalResult is the parsed output of the rubric evaluator.
type EvalResult struct {
	// Score normalized to the 0-100 scale.
	Score int
}

// Tool is the spec-tooling contract the executors depend on. Tests
// substitute fakes; the production implementation shells out.
type Tool interface {
	Export(ctx context.Context, dir, phase, featureID string) (Export, error)
	AdvancePhase(ctx context.Context, dir, featureID, phase string) error
	Eval(ctx context.Context, dir, file, rubric string) (EvalResult, error)
}

// CLI runs the spec-tooling binary as a subprocess.
type CLI struct {
	Bin string
}

// NewCLI returns a Tool invoking the given binary.
func NewCLI(bin string) *CLI {
	return &CLI{Bin: bin}
}

// promptFile is the side channel the tool exports prompts through,
// relative to the working directory.
func promptFile(dir, phase string) string {
	return filepath.Join(dir, ".drover", "prompt-"+phase+".json")
}

type exportedPrompt struct {
	Prompt        string `json:"prompt"`
	SystemContext string `json:"systemContext"`
}

// Export runs `tool <phase> <featureID>` and reads the prompt the tool
// exported. A missing prompt file means the tool wrote the artifact itself.
func (c *CLI) Export(ctx context.Context, dir, phase, featureID string) (Export, error) {
	path := promptFile(dir, phase)
	// Stale prompt from an interrupted run must not be mistaken for fresh output.
	_ = os.Remove(path)

	cmd := exec.CommandContext(ctx, c.Bin, phase, featureID)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return Export{}, fmt.Errorf("spec tool %s %s: %w: %s", phase, featureID, err, strings.TrimSpace(string(out)))
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Export{Exported: false}, nil
	}
	if err != nil {
		return Export{}, fmt.Errorf("read exported prompt: %w", err)
	}
	defer os.Remove(path)

	var p exportedPrompt
	if err := json.Unmarshal(data, &p); err != nil {
		return Export{}, fmt.Errorf("parse exported prompt: %w", err)
	}
	return Export{Exported: true, Prompt: p.Prompt, SystemContext: p.SystemContext}, nil
}

// AdvancePhase runs `tool phase <featureID> <phase>` so the tool's own
// durable phase marker tracks the pipeline.
func (c *CLI) AdvancePhase(ctx context.Context, dir, featureID, phase string) error {
	cmd := exec.CommandContext(ctx, c.Bin, "phase", featureID, phase)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("spec tool phase %s %s: %w: %s", featureID, phase, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Eval runs the rubric evaluator against an artifact file with a bounded
// timeout and normalizes the reported score to 0-100.
func (c *CLI) Eval(ctx context.Context, dir, file, rubric string) (EvalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, EvalTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Bin, "eval", "run", "--file", file, "--rubric", rubric, "--json")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return EvalResult{}, fmt.Errorf("eval %s against %s: %w", file, rubric, err)
	}
	score, err := ParseScore(out)
	if err != nil {
		return EvalResult{}, fmt.Errorf("eval %s against %s: %w", file, rubric, err)
	}
	return EvalResult{Score: score}, nil
}

// ParseScore extracts the score from evaluator JSON output. Scores may be
// a 0-1 fraction or a 0-100 integer; fractions are scaled and rounded.
func ParseScore(out []byte) (int, error) {
	var payload struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return 0, fmt.Errorf("parse evaluator output: %w", err)
	}
	if payload.Score == nil {
		return 0, fmt.Errorf("evaluator output has no score field")
	}
	score := *payload.Score
	if score <= 1.0 {
		return int(math.Round(score * 100)), nil
	}
	return int(math.Round(score)), nil
}
