// Package eventsink is a reference external subscriber that mirrors
// Event Stream events into SQLite, demonstrating that durability is a
// subscriber's concern and not the Coordinator core's (spec.md §6
// "Persisted state: None inside the core"). It subscribes to
// eventstream.Stream exactly like any other consumer — through
// Subscribe(filter, fromSeq) — and never touches Stream internals.
//
// Grounded on the teacher's internal/persistence/store.go (schema
// creation on open, one *sql.DB per process), generalized from the
// teacher's mattn/go-sqlite3 cgo driver to modernc.org/sqlite's
// pure-Go driver so the Coordinator and its reference sink stay
// CGO-free end to end.
package eventsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/joelfuller2016/swarmbot/internal/eventstream"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	body       TEXT NOT NULL,
	timestamp  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Sink durably records every event delivered to its subscription.
type Sink struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or reuses) a SQLite database at dsn and ensures the
// events table exists.
func Open(dsn string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventsink: open %s: %w", dsn, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventsink: create schema: %w", err)
	}
	return &Sink{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Run subscribes to stream and writes every delivered event to SQLite
// until ctx is canceled or the subscription closes.
func (s *Sink) Run(ctx context.Context, stream *eventstream.Stream, filter eventstream.Filter, fromSeq int64) {
	sub := stream.Subscribe(filter, fromSeq)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-sub.Batches():
			if !ok {
				return
			}
			for _, ev := range batch {
				if err := s.insert(ctx, ev); err != nil {
					s.logger.Error("eventsink: insert failed", "seq", ev.Seq, "err", err)
				}
			}
		case gap, ok := <-sub.Gaps():
			if !ok {
				continue
			}
			s.logger.Warn("eventsink: replay gap, events permanently lost for this subscriber",
				"from_seq", gap.FromSeq, "to_seq", gap.ToSeq)
		}
	}
}

func (s *Sink) insert(ctx context.Context, ev eventstream.Event) error {
	body, err := json.Marshal(ev.Body)
	if err != nil {
		return fmt.Errorf("marshal event body: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (seq, kind, subject, body, timestamp) VALUES (?, ?, ?, ?, ?)`,
		ev.Seq, string(ev.Kind), ev.Subject, string(body), ev.Timestamp,
	)
	return err
}

// Query returns every stored event for subject, oldest first, useful
// for a status endpoint or post-mortem inspection.
func (s *Sink) Query(ctx context.Context, subject string) ([]eventstream.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, subject, body, timestamp FROM events WHERE subject = ? ORDER BY seq ASC`, subject)
	if err != nil {
		return nil, fmt.Errorf("eventsink: query: %w", err)
	}
	defer rows.Close()

	var out []eventstream.Event
	for rows.Next() {
		var (
			ev   eventstream.Event
			kind string
			body string
		)
		if err := rows.Scan(&ev.Seq, &kind, &ev.Subject, &body, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("eventsink: scan: %w", err)
		}
		ev.Kind = eventstream.Kind(kind)
		var decoded any
		if err := json.Unmarshal([]byte(body), &decoded); err == nil {
			ev.Body = decoded
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
