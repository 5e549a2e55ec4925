// Package events provides the append-only blackboard the pipeline records
// all activity on. The event log is the system of record: pipeline state is
// reconstructable from it alone.
package events

import (
	"context"
	"time"
)

// Event is one immutable record on the blackboard.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	ActorID    string            `json:"actorId"`
	TargetID   string            `json:"targetId"`
	TargetType string            `json:"targetType"`
	Summary    string            `json:"summary"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Order controls timestamp ordering of query results.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Filter selects events from the store. All set fields must match.
type Filter struct {
	Type     string            // exact event type
	TargetID string            // exact target id
	Metadata map[string]string // exact match on metadata fields
	Search   string            // full-text search over the summary; ranks by relevance
	Order    Order             // timestamp ordering, ignored when Search is set
	Limit    int               // 0 = no limit
}

// Store is the durable, append-only event log. Events are never updated or
// deleted. Implementations must be safe for concurrent readers and support
// concurrent appends from independent pipelines.
type Store interface {
	Append(ctx context.Context, e Event) error
	Query(ctx context.Context, f Filter) ([]Event, error)
	Close() error
}
