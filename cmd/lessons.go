package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jywlabs/drover/internal/lessons"
	"github.com/jywlabs/drover/internal/output"
)

var (
	lessonsProjectFlag  string
	lessonsCategoryFlag string
	lessonsSeverityFlag string
	lessonsSearchFlag   string
	lessonsLimitFlag    int
)

var lessonsCmd = &cobra.Command{
	Use:   "lessons",
	Short: "Query stored lessons",
	Long: `List lessons from the event log, filtered by project, category,
severity, or free-text search. Text search ranks by relevance; otherwise
newest lessons come first.

Examples:
  drover lessons --project shop
  drover lessons --project shop --severity high
  drover lessons --search "migration rollback"`,
	RunE: runLessons,
}

func init() {
	lessonsCmd.Flags().StringVar(&lessonsProjectFlag, "project", "", "Filter by project")
	lessonsCmd.Flags().StringVar(&lessonsCategoryFlag, "category", "", "Filter by category")
	lessonsCmd.Flags().StringVar(&lessonsSeverityFlag, "severity", "", "Filter by severity (low|medium|high)")
	lessonsCmd.Flags().StringVar(&lessonsSearchFlag, "search", "", "Free-text relevance search")
	lessonsCmd.Flags().IntVar(&lessonsLimitFlag, "limit", -1, "Maximum results (default 50)")
	rootCmd.AddCommand(lessonsCmd)
}

func runLessons(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	ls, err := rt.engine.Query(ctx, lessons.QueryFilter{
		Project:  lessonsProjectFlag,
		Category: lessonsCategoryFlag,
		Severity: lessons.Severity(lessonsSeverityFlag),
		Text:     lessonsSearchFlag,
		Limit:    lessonsLimitFlag,
	})
	if err != nil {
		return err
	}

	printer := output.New(os.Stdout)
	if len(ls) == 0 {
		printer.Info("no lessons found")
		return nil
	}
	for _, l := range ls {
		printer.Header(l.Category, strings.ToUpper(string(l.Severity)))
		printer.Info("%s", l.Constraint)
		printer.Detail("from %s (%s phase), %s", l.WorkItemID, l.Phase, l.CreatedAt.Format("2006-01-02"))
	}
	printer.Detail("%d lessons", len(ls))
	return nil
}
