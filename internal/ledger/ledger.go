// ABOUTME: SQLite audit ledger of session activity using modernc.org/sqlite.
// ABOUTME: Append-only record of messages, mode transitions, claims and evictions.

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// EventType categorizes a ledger entry.
type EventType string

const (
	EventMessage    EventType = "message"
	EventTransition EventType = "transition"
	EventClaim      EventType = "claim"
	EventEviction   EventType = "eviction"
)

// timestampLayout is fixed width so timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Event is one ledger row.
type Event struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Role      string    `json:"role,omitempty"`   // message author role
	Author    string    `json:"author,omitempty"` // operator id, or empty for visitor/assistant
	Text      string    `json:"text,omitempty"`
	FromMode  string    `json:"fromMode,omitempty"`
	ToMode    string    `json:"toMode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SQLiteLedger writes events to a SQLite database.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the ledger at path. Parent directories are created.
func Open(path string, logger *slog.Logger) (*SQLiteLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	l := &SQLiteLedger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return l, nil
}

func (l *SQLiteLedger) createSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS handoff_events (
			event_id   TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			type       TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT '',
			author     TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL DEFAULT '',
			from_mode  TEXT NOT NULL DEFAULT '',
			to_mode    TEXT NOT NULL DEFAULT '',
			timestamp  TEXT NOT NULL,

			CHECK (type IN ('message', 'transition', 'claim', 'eviction'))
		);

		CREATE INDEX IF NOT EXISTS idx_handoff_events_session
			ON handoff_events(session_id, timestamp);
	`)
	return err
}

// Record appends an event, filling in ID and Timestamp when empty.
func (l *SQLiteLedger) Record(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO handoff_events (
			event_id, session_id, type, role, author, text, from_mode, to_mode, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.SessionID,
		string(e.Type),
		e.Role,
		e.Author,
		e.Text,
		e.FromMode,
		e.ToMode,
		e.Timestamp.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	l.logger.Debug("recorded ledger event", "event_id", e.ID, "session_id", e.SessionID, "type", e.Type)
	return nil
}

// ListBySession returns up to limit events for a session, oldest first.
func (l *SQLiteLedger) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, session_id, type, role, author, text, from_mode, to_mode, timestamp
		FROM handoff_events
		WHERE session_id = ?
		ORDER BY timestamp ASC, rowid ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var eventType, ts string
		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &e.Role, &e.Author, &e.Text, &e.FromMode, &e.ToMode, &ts); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.Type = EventType(eventType)
		e.Timestamp, err = time.Parse(timestampLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
