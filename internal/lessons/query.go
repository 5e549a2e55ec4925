package lessons

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jywlabs/drover/internal/events"
)

// DefaultQueryLimit caps query results when the caller does not.
const DefaultQueryLimit = 50

// QueryFilter selects lessons. Text search ranks by relevance; otherwise
// results come back newest first.
type QueryFilter struct {
	Project  string
	Category string
	Severity Severity
	Text     string
	Limit    int // <0 = default, 0 = unlimited
}

// Query returns persisted lessons matching the filter.
func (e *Engine) Query(ctx context.Context, f QueryFilter) ([]Lesson, error) {
	limit := f.Limit
	if limit < 0 {
		limit = DefaultQueryLimit
	}

	meta := map[string]string{}
	if f.Project != "" {
		meta["project"] = f.Project
	}
	if f.Category != "" {
		meta["category"] = f.Category
	}
	if f.Severity != "" {
		meta["severity"] = string(f.Severity)
	}

	recs, err := e.store.Query(ctx, events.Filter{
		Type:     EventTypeRecorded,
		Metadata: meta,
		Search:   f.Text,
		Order:    events.Descending,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}

	out := make([]Lesson, 0, len(recs))
	for _, r := range recs {
		var l Lesson
		if err := json.Unmarshal([]byte(r.Metadata["lesson"]), &l); err != nil {
			return nil, fmt.Errorf("query lessons: decode %s: %w", r.ID, err)
		}
		out = append(out, l)
	}
	return out, nil
}

// GroupByCategory buckets lessons for prompt injection, with category
// names sorted for stable rendering.
func GroupByCategory(ls []Lesson) ([]string, map[string][]Lesson) {
	groups := make(map[string][]Lesson)
	for _, l := range ls {
		groups[l.Category] = append(groups[l.Category], l)
	}
	categories := make([]string, 0, len(groups))
	for c := range groups {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return categories, groups
}
