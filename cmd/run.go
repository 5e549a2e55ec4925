package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jywlabs/drover/internal/executor"
	"github.com/jywlabs/drover/internal/feature"
	"github.com/jywlabs/drover/internal/gate"
	"github.com/jywlabs/drover/internal/orchestrator"
	"github.com/jywlabs/drover/internal/output"
)

var (
	runTitleFlag   string
	runProjectFlag string
	runRepoFlag    string
	runBaseFlag    string
	runOnceFlag    bool
)

var runCmd = &cobra.Command{
	Use:   "run <feature-id>",
	Short: "Advance a feature through the pipeline",
	Long: `Run the pipeline for a feature. The feature's current phase is read
from the event log; the applicable executor runs, the quality gate is
consulted where required, and the durable phase marker advances.

A failed phase or a blocked gate leaves the feature in its in-progress
state; re-running resumes from there.

Examples:
  drover run 042-user-auth --title "User authentication" --project shop
  drover run 042-user-auth --once     # a single scheduling step`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTitleFlag, "title", "", "Feature title (used for commits and the PR)")
	runCmd.Flags().StringVar(&runProjectFlag, "project", "", "Project the feature belongs to")
	runCmd.Flags().StringVar(&runRepoFlag, "repo", "", "owner/name repository for the pull request")
	runCmd.Flags().StringVar(&runBaseFlag, "base", "", "Target branch (default main)")
	runCmd.Flags().BoolVar(&runOnceFlag, "once", false, "Run a single scheduling step instead of the full pipeline")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	repo := runRepoFlag
	if repo == "" {
		repo = rt.cfg.Repo
	}
	f := &feature.Feature{
		ID:           args[0],
		Title:        runTitleFlag,
		ProjectID:    runProjectFlag,
		Repo:         repo,
		TargetBranch: runBaseFlag,
	}
	if err := feature.Load(ctx, rt.store, f); err != nil {
		return err
	}

	printer := output.New(os.Stdout)
	printer.Header(f.ID, string(f.Phase))

	orch := orchestrator.New(rt.deps, gate.New(rt.deps.Tool, rt.cfg.SpecsRoot, rt.cfg.Thresholds))
	opts := executor.Options{WorkDir: dirFlag}

	var steps []orchestrator.StepResult
	if runOnceFlag {
		step, err := orch.Step(ctx, f, opts)
		if err != nil {
			return err
		}
		steps = append(steps, step)
	} else {
		steps, err = orch.Run(ctx, f, opts)
		if err != nil {
			return err
		}
	}

	for _, step := range steps {
		printStep(printer, step)
	}
	if f.Phase.Terminal() {
		printer.Success("pipeline complete: %s is %s", f.ID, f.Phase)
	} else {
		printer.Info("feature %s is now %s", f.ID, f.Phase)
	}
	return nil
}

func printStep(p *output.Printer, step orchestrator.StepResult) {
	switch {
	case step.Result.Status == executor.StatusFailed:
		p.Failure("%s failed: %s", step.Phase, step.Result.Cause)
	case step.Gate != nil && !step.Gate.Passed:
		p.Failure("%s blocked by quality gate: %s", step.Phase, step.Gate.Reason)
	default:
		if step.Gate != nil {
			p.Detail("gate score %d", step.Gate.Score)
		}
		if step.Result.Metadata["skippedPR"] == "true" {
			p.Success("%s done (nothing to merge, PR skipped)", step.Phase)
			return
		}
		if url := step.Result.Metadata["prUrl"]; url != "" {
			p.Detail("pull request: %s", url)
		}
		p.Success("%s done (%s)", step.Phase, fmt.Sprint(step.Result.Artifacts))
	}
}
