package events

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store. It backs tests and throwaway runs; the
// durable implementations live in sqlite.go and postgres.go.
type MemStore struct {
	mu   sync.RWMutex
	recs []Event
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Append records one event.
func (s *MemStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	s.recs = append(s.recs, e)
	return nil
}

// Query filters the recorded events. Text search scores by naive term
// overlap with the summary, which is enough to exercise ranking behavior.
func (s *MemStore) Query(_ context.Context, f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		e     Event
		score int
		seq   int
	}
	var matches []scored
	terms := strings.Fields(strings.ToLower(f.Search))

	for i, e := range s.recs {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		metaOK := true
		for k, v := range f.Metadata {
			if e.Metadata[k] != v {
				metaOK = false
				break
			}
		}
		if !metaOK {
			continue
		}
		score := 0
		if len(terms) > 0 {
			summary := strings.ToLower(e.Summary)
			for _, t := range terms {
				if strings.Contains(summary, t) {
					score++
				}
			}
			if score == 0 {
				continue
			}
		}
		matches = append(matches, scored{e: e, score: score, seq: i})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if len(terms) > 0 && matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if f.Order == Descending {
			return matches[i].seq > matches[j].seq
		}
		return matches[i].seq < matches[j].seq
	})

	out := make([]Event, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }
