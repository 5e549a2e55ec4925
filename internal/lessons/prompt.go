package lessons

import (
	"fmt"
	"strings"
)

// buildExtractionPrompt renders the work item's history and instructs the
// agent to return a JSON array of lesson candidates.
func buildExtractionPrompt(rc ReflectContext, fileMode bool, outFile string) string {
	var sb strings.Builder

	sb.WriteString("You are reviewing a completed unit of work to extract durable engineering lessons.\n\n")
	sb.WriteString("## Specification\n\n" + rc.Spec + "\n\n")
	sb.WriteString("## Plan\n\n" + rc.Plan + "\n\n")
	sb.WriteString("## Review findings\n\n" + rc.Reviews + "\n\n")
	sb.WriteString("## Rework notes\n\n" + rc.Rework + "\n\n")
	sb.WriteString("## Merge diff summary\n\n" + rc.MergeDiff + "\n\n")

	sb.WriteString(`## Your task

Extract every non-obvious, reusable lesson from this history. Each lesson is a JSON object:

{
  "phase": "implement" | "review" | "rework" | "merge-fix",
  "category": "<short grouping label, e.g. testing, concurrency, api-design>",
  "severity": "low" | "medium" | "high",
  "symptom": "<what was observed going wrong>",
  "rootCause": "<the underlying cause, stated distinctly from the symptom>",
  "resolution": "<what fixed it>",
  "constraint": "<imperative, actionable rule to follow next time>",
  "tags": ["<optional>", "<tags>"]
}

Rules:
- The root cause must say something the symptom does not.
- Every field must carry real content; do not pad with boilerplate.
- Return only lessons worth remembering. An empty array is a valid answer.
`)

	if fileMode {
		fmt.Fprintf(&sb, "\nWrite the JSON array to %s and reply with a one-line confirmation.\n", outFile)
	} else {
		sb.WriteString("\nReply with the JSON array only, no surrounding prose.\n")
	}
	return sb.String()
}

// RenderConstraints renders lessons as a "Known Constraints" prompt
// section: grouped by category, each as a severity-tagged imperative
// bullet. Returns "" when there is nothing to inject.
func RenderConstraints(ls []Lesson) string {
	if len(ls) == 0 {
		return ""
	}
	categories, groups := GroupByCategory(ls)

	var sb strings.Builder
	sb.WriteString("## Known Constraints\n\n")
	sb.WriteString("Lessons from previous work in this project. Follow each one.\n\n")
	for _, cat := range categories {
		fmt.Fprintf(&sb, "### %s\n\n", cat)
		for _, l := range groups[cat] {
			fmt.Fprintf(&sb, "- [%s] %s\n", strings.ToUpper(string(l.Severity)), l.Constraint)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
