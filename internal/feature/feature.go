// Package feature defines the unit of work moving through the delivery
// pipeline and its phase state machine.
package feature

import (
	"context"
	"fmt"

	"github.com/jywlabs/drover/internal/events"
)

// Phase is one durable state in the pipeline state machine.
type Phase string

// Pipeline states, in order. Each "...ing" state is the in-progress marker
// for the ready state that precedes it, so a crashed run can resume without
// losing its place.
const (
	PhaseQueued       Phase = "queued"
	PhaseSpecifying   Phase = "specifying"
	PhaseSpecified    Phase = "specified"
	PhasePlanning     Phase = "planning"
	PhasePlanned      Phase = "planned"
	PhaseTasking      Phase = "tasking"
	PhaseTasked       Phase = "tasked"
	PhaseImplementing Phase = "implementing"
	PhaseImplemented  Phase = "implemented"
	PhaseCompleting   Phase = "completing"
	PhaseDone         Phase = "done"
)

// Order lists every phase in pipeline order.
var Order = []Phase{
	PhaseQueued,
	PhaseSpecifying,
	PhaseSpecified,
	PhasePlanning,
	PhasePlanned,
	PhaseTasking,
	PhaseTasked,
	PhaseImplementing,
	PhaseImplemented,
	PhaseCompleting,
	PhaseDone,
}

// Valid reports whether p is one of the defined pipeline states.
func (p Phase) Valid() bool {
	for _, ph := range Order {
		if p == ph {
			return true
		}
	}
	return false
}

// Next returns the state that follows p in pipeline order.
// The terminal state returns itself.
func (p Phase) Next() Phase {
	for i, ph := range Order {
		if p == ph && i+1 < len(Order) {
			return Order[i+1]
		}
	}
	return p
}

// InProgress reports whether p is one of the "...ing" in-progress markers.
func (p Phase) InProgress() bool {
	switch p {
	case PhaseSpecifying, PhasePlanning, PhaseTasking, PhaseImplementing, PhaseCompleting:
		return true
	}
	return false
}

// Terminal reports whether p is the end of the pipeline.
func (p Phase) Terminal() bool {
	return p == PhaseDone
}

// Feature is a unit of work tracked through the phase pipeline.
type Feature struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Phase        Phase  `json:"phase"`
	ProjectID    string `json:"projectId"`
	Repo         string `json:"repo,omitempty"`
	TargetBranch string `json:"targetBranch,omitempty"`
}

// Base returns the branch the feature merges into, defaulting to main.
func (f *Feature) Base() string {
	if f.TargetBranch == "" {
		return "main"
	}
	return f.TargetBranch
}

// EventTypePhase is the event type under which phase transitions are
// recorded. The event log is the system of record for phase state.
const EventTypePhase = "feature.phase"

// Load reconstructs a feature's current phase from the newest phase event
// on the blackboard. A feature with no phase events is queued.
func Load(ctx context.Context, store events.Store, f *Feature) error {
	recs, err := store.Query(ctx, events.Filter{
		Type:     EventTypePhase,
		TargetID: f.ID,
		Order:    events.Descending,
		Limit:    1,
	})
	if err != nil {
		return fmt.Errorf("load feature %s: %w", f.ID, err)
	}
	if len(recs) == 0 {
		f.Phase = PhaseQueued
		return nil
	}
	phase := Phase(recs[0].Metadata["phase"])
	if !phase.Valid() {
		return fmt.Errorf("load feature %s: invalid phase %q in event log", f.ID, phase)
	}
	f.Phase = phase
	return nil
}

// Advance records a phase transition on the blackboard and updates the
// in-memory feature. Transitions are append-only; history is never rewritten.
func Advance(ctx context.Context, store events.Store, f *Feature, to Phase, summary string) error {
	if !to.Valid() {
		return fmt.Errorf("advance feature %s: invalid phase %q", f.ID, to)
	}
	err := store.Append(ctx, events.Event{
		Type:       EventTypePhase,
		ActorID:    "orchestrator",
		TargetID:   f.ID,
		TargetType: "feature",
		Summary:    summary,
		Metadata: map[string]string{
			"phase":   string(to),
			"from":    string(f.Phase),
			"project": f.ProjectID,
		},
	})
	if err != nil {
		return fmt.Errorf("advance feature %s to %s: %w", f.ID, to, err)
	}
	f.Phase = to
	return nil
}
