package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default Store implementation, a single-file SQLite
// database with an FTS5 index over the summary column for relevance search.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	rowid       INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	ts          INTEGER NOT NULL,
	type        TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	target_type TEXT NOT NULL,
	summary     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_type_target ON events(type, target_id, ts);
CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
	summary,
	content='events',
	content_rowid='rowid'
);
`

// OpenSQLite opens (creating if needed) the event database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	// One writer at a time keeps append ordering simple; readers share.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event store schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes one event. The ID and timestamp are assigned here if unset.
func (s *SQLiteStore) Append(ctx context.Context, e Event) error {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, ts, type, actor_id, target_id, target_type, summary, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixNano(), e.Type, e.ActorID, e.TargetID, e.TargetType, e.Summary, string(meta))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events_fts (rowid, summary) VALUES (?, ?)`, rowID, e.Summary); err != nil {
		return fmt.Errorf("append event: index summary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Query returns events matching the filter. When Search is set, results are
// ranked by bm25 relevance; otherwise by timestamp in the requested order.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]Event, error) {
	var (
		sb   strings.Builder
		args []any
	)

	if f.Search != "" {
		sb.WriteString(`SELECT e.id, e.ts, e.type, e.actor_id, e.target_id, e.target_type, e.summary, e.metadata
			FROM events e JOIN events_fts ft ON ft.rowid = e.rowid
			WHERE events_fts MATCH ?`)
		args = append(args, ftsQuery(f.Search))
	} else {
		sb.WriteString(`SELECT e.id, e.ts, e.type, e.actor_id, e.target_id, e.target_type, e.summary, e.metadata
			FROM events e WHERE 1=1`)
	}

	if f.Type != "" {
		sb.WriteString(" AND e.type = ?")
		args = append(args, f.Type)
	}
	if f.TargetID != "" {
		sb.WriteString(" AND e.target_id = ?")
		args = append(args, f.TargetID)
	}
	for k, v := range f.Metadata {
		sb.WriteString(" AND json_extract(e.metadata, '$.' || ?) = ?")
		args = append(args, k, v)
	}

	if f.Search != "" {
		sb.WriteString(" ORDER BY bm25(events_fts)")
	} else if f.Order == Descending {
		sb.WriteString(" ORDER BY e.ts DESC, e.rowid DESC")
	} else {
		sb.WriteString(" ORDER BY e.ts ASC, e.rowid ASC")
	}
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			ts   int64
			meta string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &e.ActorID, &e.TargetID, &e.TargetType, &e.Summary, &meta); err != nil {
			return nil, fmt.Errorf("query events: scan: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("query events: metadata for %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ftsQuery turns free text into an FTS5 query of quoted terms so user input
// (colons, hyphens, parentheses) can never break the MATCH syntax.
func ftsQuery(text string) string {
	fields := strings.Fields(text)
	quoted := make([]string, 0, len(fields))
	for _, w := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}
