// Package lessons is the feedback-loop memory: structured, durable lessons
// extracted from completed work items and re-injected into future prompts.
package lessons

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity grades how strongly a lesson's constraint should be weighted.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Phase is the pipeline stage a lesson originated from.
type Phase string

const (
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
	PhaseRework    Phase = "rework"
	PhaseMergeFix  Phase = "merge-fix"
)

// minFieldLen is the minimum content length for the narrative fields. Agent
// output shorter than this is noise, not knowledge.
const minFieldLen = 10

// Lesson is one immutable piece of extracted knowledge. Once persisted it
// is never updated or deleted.
type Lesson struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	WorkItemID string    `json:"workItemId"`
	Phase      Phase     `json:"phase"`
	Category   string    `json:"category"`
	Severity   Severity  `json:"severity"`
	Symptom    string    `json:"symptom"`
	RootCause  string    `json:"rootCause"`
	Resolution string    `json:"resolution"`
	Constraint string    `json:"constraint"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate is the trust boundary for agent-produced lesson candidates. A
// candidate that fails here is rejected without aborting its batch.
func (l *Lesson) Validate() error {
	switch l.Phase {
	case PhaseImplement, PhaseReview, PhaseRework, PhaseMergeFix:
	default:
		return fmt.Errorf("invalid phase %q", l.Phase)
	}
	switch l.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return fmt.Errorf("invalid severity %q", l.Severity)
	}
	if l.Category == "" {
		return fmt.Errorf("category is required")
	}
	for name, v := range map[string]string{
		"symptom":    l.Symptom,
		"rootCause":  l.RootCause,
		"resolution": l.Resolution,
		"constraint": l.Constraint,
	} {
		if len(v) < minFieldLen {
			return fmt.Errorf("%s must be at least %d characters", name, minFieldLen)
		}
	}
	return nil
}

// candidate is the untyped shape lessons arrive in from the agent.
type candidate struct {
	Phase      string   `json:"phase"`
	Category   string   `json:"category"`
	Severity   string   `json:"severity"`
	Symptom    string   `json:"symptom"`
	RootCause  string   `json:"rootCause"`
	Resolution string   `json:"resolution"`
	Constraint string   `json:"constraint"`
	Tags       []string `json:"tags"`
}

// ParseCandidates decodes the agent's output as a JSON array of lesson
// candidates. Unparsable output is a hard failure for extraction.
func ParseCandidates(text string) ([]candidate, error) {
	var cands []candidate
	if err := json.Unmarshal([]byte(text), &cands); err != nil {
		return nil, fmt.Errorf("parse lesson candidates: %w", err)
	}
	return cands, nil
}
