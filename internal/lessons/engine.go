package lessons

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jywlabs/drover/internal/events"
	"github.com/jywlabs/drover/internal/launcher"
)

// Event types the lesson engine reads and writes on the blackboard.
const (
	EventTypeArtifact = "artifact.captured"   // phase artifacts, metadata: phase, content
	EventTypeReview   = "review.completed"    // metadata: findings
	EventTypeRework   = "rework.applied"      // metadata: notes
	EventTypeMerge    = "merge.diff"          // metadata: summary
	EventTypeRecorded = "lesson.recorded"     // metadata: lesson (JSON), project, category, severity
	EventTypeDeduped  = "lesson.deduplicated" // audit record for discarded duplicates
	EventTypeSummary  = "reflect.summary"     // batch counts
)

// missing is the placeholder for history fields with no data, so prompt
// assembly never deals with absent values.
const missing = "(not available)"

// ReflectContext is the ephemeral aggregation of one work item's history,
// assembled solely to build the extraction prompt.
type ReflectContext struct {
	WorkItemID string
	Spec       string
	Plan       string
	Reviews    string
	Rework     string
	MergeDiff  string
}

// Summary reports the outcome of one reflect batch.
type Summary struct {
	Extracted  int
	Deduped    int
	Persisted  int
	Categories []string
}

// Timeouts for the two extraction modes. File mode gives the agent room to
// write its output to disk; inline mode expects the answer in the final
// result message.
const (
	fileModeTimeout   = 10 * time.Minute
	inlineModeTimeout = 3 * time.Minute
)

// Engine extracts lessons from completed work items and answers queries
// from earlier phases.
type Engine struct {
	store    events.Store
	launcher launcher.Launcher
	logger   *zap.Logger

	// FileMode lets the agent write candidates to a side file instead of
	// the inline result message; both channels are always accepted.
	FileMode bool
}

// NewEngine wires a lesson engine to the blackboard and the launcher.
func NewEngine(store events.Store, l launcher.Launcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, launcher: l, logger: logger}
}

// Gather assembles a work item's full history from the event log. Missing
// data yields explicit placeholders, never empty holes.
func (e *Engine) Gather(ctx context.Context, workItemID string) (ReflectContext, error) {
	rc := ReflectContext{
		WorkItemID: workItemID,
		Spec:       missing,
		Plan:       missing,
		Reviews:    missing,
		Rework:     missing,
		MergeDiff:  missing,
	}

	if v, err := e.latestMeta(ctx, EventTypeArtifact, workItemID, map[string]string{"phase": "specify"}, "content"); err != nil {
		return rc, err
	} else if v != "" {
		rc.Spec = v
	}
	if v, err := e.latestMeta(ctx, EventTypeArtifact, workItemID, map[string]string{"phase": "plan"}, "content"); err != nil {
		return rc, err
	} else if v != "" {
		rc.Plan = v
	}

	// Reviews render newest first.
	reviews, err := e.store.Query(ctx, events.Filter{
		Type: EventTypeReview, TargetID: workItemID, Order: events.Descending,
	})
	if err != nil {
		return rc, fmt.Errorf("gather reviews: %w", err)
	}
	if block := joinMeta(reviews, "findings"); block != "" {
		rc.Reviews = block
	}

	// Rework notes render in chronological order.
	rework, err := e.store.Query(ctx, events.Filter{
		Type: EventTypeRework, TargetID: workItemID, Order: events.Ascending,
	})
	if err != nil {
		return rc, fmt.Errorf("gather rework: %w", err)
	}
	if block := joinMeta(rework, "notes"); block != "" {
		rc.Rework = block
	}

	if v, err := e.latestMeta(ctx, EventTypeMerge, workItemID, nil, "summary"); err != nil {
		return rc, err
	} else if v != "" {
		rc.MergeDiff = v
	}

	return rc, nil
}

func (e *Engine) latestMeta(ctx context.Context, eventType, targetID string, meta map[string]string, key string) (string, error) {
	recs, err := e.store.Query(ctx, events.Filter{
		Type: eventType, TargetID: targetID, Metadata: meta, Order: events.Descending, Limit: 1,
	})
	if err != nil {
		return "", fmt.Errorf("gather %s: %w", eventType, err)
	}
	if len(recs) == 0 {
		return "", nil
	}
	return recs[0].Metadata[key], nil
}

func joinMeta(recs []events.Event, key string) string {
	var parts []string
	for _, r := range recs {
		if v := r.Metadata[key]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// Extract runs the full reflect cycle for a work item: gather history,
// prompt the agent for candidate lessons, validate, dedupe, and persist.
// One malformed candidate never discards the rest of the batch.
func (e *Engine) Extract(ctx context.Context, workItemID, project, dir string) (Summary, error) {
	rc, err := e.Gather(ctx, workItemID)
	if err != nil {
		return Summary{}, err
	}

	outFile := filepath.Join(dir, ".drover", "lessons-"+workItemID+".json")
	_ = os.Remove(outFile)

	timeout := inlineModeTimeout
	if e.FileMode {
		timeout = fileModeTimeout
	}
	res, err := e.launcher.Launch(ctx, launcher.Request{
		SessionID:     "reflect-" + workItemID + "-" + uuid.NewString()[:8],
		Prompt:        buildExtractionPrompt(rc, e.FileMode, outFile),
		Dir:           dir,
		Timeout:       timeout,
		RestrictTools: true,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("lesson extraction: %w", err)
	}
	if res.ExitCode != 0 {
		return Summary{}, fmt.Errorf("lesson extraction: agent exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	// The agent's output channel is not guaranteed: prefer the side file
	// when present, fall back to the inline result text.
	text := ""
	if data, err := os.ReadFile(outFile); err == nil {
		text = string(data)
		defer os.Remove(outFile)
	} else {
		text = extractJSONArray(launcher.FinalResultText(res.Stdout))
	}

	cands, err := ParseCandidates(text)
	if err != nil {
		return Summary{}, err
	}

	return e.persistBatch(ctx, workItemID, project, cands)
}

// persistBatch validates, dedupes, and persists candidates in their
// original order, then records the batch summary event.
func (e *Engine) persistBatch(ctx context.Context, workItemID, project string, cands []candidate) (Summary, error) {
	existing, err := e.Query(ctx, QueryFilter{Project: project, Limit: 0})
	if err != nil {
		return Summary{}, fmt.Errorf("load existing lessons: %w", err)
	}

	summary := Summary{Extracted: len(cands)}
	categories := map[string]struct{}{}

	for i, c := range cands {
		lesson := Lesson{
			ID:         uuid.NewString(),
			Project:    project,
			WorkItemID: workItemID,
			Phase:      Phase(c.Phase),
			Category:   c.Category,
			Severity:   Severity(c.Severity),
			Symptom:    c.Symptom,
			RootCause:  c.RootCause,
			Resolution: c.Resolution,
			Constraint: c.Constraint,
			Tags:       c.Tags,
			CreatedAt:  time.Now().UTC(),
		}
		if err := lesson.Validate(); err != nil {
			e.logger.Warn("rejecting lesson candidate",
				zap.Int("index", i),
				zap.String("workItem", workItemID),
				zap.Error(err))
			continue
		}
		categories[lesson.Category] = struct{}{}

		if IsDuplicate(lesson.Constraint, existing) {
			summary.Deduped++
			if err := e.store.Append(ctx, events.Event{
				Type:       EventTypeDeduped,
				ActorID:    "reflect",
				TargetID:   workItemID,
				TargetType: "work-item",
				Summary:    "duplicate lesson discarded: " + firstLine(lesson.Constraint),
				Metadata: map[string]string{
					"project":    project,
					"category":   lesson.Category,
					"constraint": lesson.Constraint,
				},
			}); err != nil {
				return summary, fmt.Errorf("record dedup: %w", err)
			}
			continue
		}

		if err := e.persist(ctx, lesson); err != nil {
			return summary, err
		}
		summary.Persisted++
		existing = append(existing, lesson)
	}

	for c := range categories {
		summary.Categories = append(summary.Categories, c)
	}
	sort.Strings(summary.Categories)

	if err := e.store.Append(ctx, events.Event{
		Type:       EventTypeSummary,
		ActorID:    "reflect",
		TargetID:   workItemID,
		TargetType: "work-item",
		Summary: fmt.Sprintf("reflect: %d extracted, %d deduped, %d persisted",
			summary.Extracted, summary.Deduped, summary.Persisted),
		Metadata: map[string]string{
			"project":    project,
			"extracted":  strconv.Itoa(summary.Extracted),
			"deduped":    strconv.Itoa(summary.Deduped),
			"persisted":  strconv.Itoa(summary.Persisted),
			"categories": strings.Join(summary.Categories, ","),
		},
	}); err != nil {
		return summary, fmt.Errorf("record reflect summary: %w", err)
	}
	return summary, nil
}

// persist appends the lesson as an immutable event. The searchable summary
// carries the fields text search should rank on.
func (e *Engine) persist(ctx context.Context, l Lesson) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("persist lesson: %w", err)
	}
	err = e.store.Append(ctx, events.Event{
		Type:       EventTypeRecorded,
		ActorID:    "reflect",
		TargetID:   l.WorkItemID,
		TargetType: "work-item",
		Summary:    l.Category + ": " + l.Constraint + " " + l.Symptom,
		Metadata: map[string]string{
			"lesson":   string(payload),
			"project":  l.Project,
			"category": l.Category,
			"severity": string(l.Severity),
		},
	})
	if err != nil {
		return fmt.Errorf("persist lesson: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// extractJSONArray trims agent chatter around the JSON array in an inline
// result, tolerating fenced code blocks and prose before the payload.
func extractJSONArray(text string) string {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
