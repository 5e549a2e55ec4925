package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL, for deployments where
// several pipelines share one blackboard. Full-text relevance search uses
// the built-in tsvector machinery over the summary column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	ts          TIMESTAMPTZ NOT NULL,
	type        TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	target_type TEXT NOT NULL,
	summary     TEXT NOT NULL,
	metadata    JSONB NOT NULL DEFAULT '{}',
	search      TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', summary)) STORED
);
CREATE INDEX IF NOT EXISTS idx_events_type_target ON events(type, target_id, ts);
CREATE INDEX IF NOT EXISTS idx_events_search ON events USING GIN (search);
`

// OpenPostgres connects to the given database URL and ensures the schema.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init event store schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append writes one event. The ID and timestamp are assigned here if unset.
func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("append event: marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, ts, type, actor_id, target_id, target_type, summary, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Timestamp, e.Type, e.ActorID, e.TargetID, e.TargetType, e.Summary, meta)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, ranked by ts_rank when Search
// is set and by timestamp otherwise.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Event, error) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT id, ts, type, actor_id, target_id, target_type, summary, metadata FROM events WHERE TRUE`)
	if f.Search != "" {
		sb.WriteString(" AND search @@ plainto_tsquery('english', " + arg(f.Search) + ")")
	}
	if f.Type != "" {
		sb.WriteString(" AND type = " + arg(f.Type))
	}
	if f.TargetID != "" {
		sb.WriteString(" AND target_id = " + arg(f.TargetID))
	}
	for k, v := range f.Metadata {
		sb.WriteString(" AND metadata->>" + arg(k) + " = " + arg(v))
	}

	if f.Search != "" {
		sb.WriteString(" ORDER BY ts_rank(search, plainto_tsquery('english', " + arg(f.Search) + ")) DESC")
	} else if f.Order == Descending {
		sb.WriteString(" ORDER BY ts DESC, seq DESC")
	} else {
		sb.WriteString(" ORDER BY ts ASC, seq ASC")
	}
	if f.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(f.Limit))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &e.ActorID, &e.TargetID, &e.TargetType, &e.Summary, &meta); err != nil {
			return nil, fmt.Errorf("query events: scan: %w", err)
		}
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("query events: metadata for %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
