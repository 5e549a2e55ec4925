package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jywlabs/drover/internal/output"
)

var reflectProjectFlag string

var reflectCmd = &cobra.Command{
	Use:   "reflect <work-item-id>",
	Short: "Extract lessons from a completed work item",
	Long: `Gather a completed work item's full history (spec, plan, reviews,
rework, merge diff) from the event log, prompt the agent to extract
structured lessons, and persist the validated, non-duplicate ones.

Examples:
  drover reflect 042-user-auth --project shop`,
	Args: cobra.ExactArgs(1),
	RunE: runReflect,
}

func init() {
	reflectCmd.Flags().StringVar(&reflectProjectFlag, "project", "", "Project the work item belongs to")
	rootCmd.AddCommand(reflectCmd)
}

func runReflect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	printer := output.New(os.Stdout)
	printer.Header(args[0], "reflect")

	summary, err := rt.engine.Extract(ctx, args[0], reflectProjectFlag, dirFlag)
	if err != nil {
		return err
	}

	printer.Success("lessons: %d extracted, %d deduped, %d persisted",
		summary.Extracted, summary.Deduped, summary.Persisted)
	if len(summary.Categories) > 0 {
		printer.Detail("categories: %s", strings.Join(summary.Categories, ", "))
	}
	return nil
}
