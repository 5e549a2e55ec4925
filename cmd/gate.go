package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jywlabs/drover/internal/gate"
	"github.com/jywlabs/drover/internal/output"
)

var gateCmd = &cobra.Command{
	Use:   "gate <feature-id> <phase>",
	Short: "Run the quality gate for one feature/phase",
	Long: `Evaluate a feature's phase artifact against its rubric and report
the pass/fail decision. Useful for checking an artifact before letting the
pipeline advance.

Examples:
  drover gate 042-user-auth specify
  drover gate 042-user-auth plan`,
	Args: cobra.ExactArgs(2),
	RunE: runGate,
}

func init() {
	rootCmd.AddCommand(gateCmd)
}

func runGate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	g := gate.New(rt.deps.Tool, rt.cfg.SpecsRoot, rt.cfg.Thresholds)
	decision := g.Evaluate(ctx, dirFlag, args[1], args[0])

	printer := output.New(os.Stdout)
	if decision.Passed {
		printer.Success("gate passed: score %d (threshold %d)", decision.Score, g.Threshold(args[1]))
		return nil
	}
	printer.Failure("gate failed: %s", decision.Reason)
	os.Exit(1)
	return nil
}
