// Package sqlite implements the journal contract on embedded SQLite via
// modernc.org/sqlite. It matches the postgres backend operation for
// operation and doubles as the integration-test backend: no server, no
// cgo, real transactions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/eventreducer/journal/pkg/journal"
)

// Journal is the SQLite-backed journal. Identifiers are stored as TEXT,
// payloads as JSON documents queried through json_extract.
type Journal struct {
	db        *sql.DB
	codec     *journal.Codec
	fetchSize int
	logger    *slog.Logger
}

// Option configures a Journal at construction.
type Option func(*Journal)

// WithFetchSize overrides the number of rows scan cursors buffer per
// read from the backing rows. Values below 1 are ignored.
func WithFetchSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.fetchSize = n
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// Open validates the library version and returns a journal backed by db.
func Open(ctx context.Context, db *sql.DB, codec *journal.Codec, opts ...Option) (*Journal, error) {
	if codec == nil {
		return nil, errors.New("nil codec")
	}
	if err := checkLibraryVersion(ctx, db); err != nil {
		return nil, err
	}
	j := &Journal{
		db:        db,
		codec:     codec,
		fetchSize: journal.DefaultFetchSize,
		logger:    slog.Default().With("component", "journal.sqlite"),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	command_id TEXT NOT NULL REFERENCES commands (id)
);

CREATE INDEX IF NOT EXISTS events_command_id_idx ON events (command_id);
`

// Init creates the journal tables if they do not exist.
func (j *Journal) Init(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Append persists cmd and every event yielded by events inside one
// transaction, command row first. Any codec or storage error rolls the
// whole batch back.
func (j *Journal) Append(ctx context.Context, cmd journal.Command, events iter.Seq[journal.Event]) (int64, error) {
	doc, err := j.codec.Encode(cmd)
	if err != nil {
		return 0, fmt.Errorf("encode command %s: %w", cmd.JournalID(), err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }() // no-op once committed

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO commands (id, payload) VALUES (?, ?)`,
		cmd.JournalID().String(), doc,
	); err != nil {
		return 0, fmt.Errorf("insert command %s: %w", cmd.JournalID(), err)
	}

	var written int64
	for ev := range events {
		evDoc, err := j.codec.Encode(ev)
		if err != nil {
			return 0, fmt.Errorf("encode event %s: %w", ev.JournalID(), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, payload, command_id) VALUES (?, ?, ?)`,
			ev.JournalID().String(), evDoc, cmd.JournalID().String(),
		); err != nil {
			return 0, fmt.Errorf("insert event %s: %w", ev.JournalID(), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	j.logger.DebugContext(ctx, "appended batch",
		"command", cmd.JournalID(), "events", written)
	return written, nil
}

// FindCommand looks up a command by identifier. Absence is reported as
// (nil, false, nil).
func (j *Journal) FindCommand(ctx context.Context, id uuid.UUID) (journal.Command, bool, error) {
	return j.findRecord(ctx, `SELECT payload FROM commands WHERE id = ?`, id)
}

// FindEvent looks up an event by identifier. Absence is reported as
// (nil, false, nil).
func (j *Journal) FindEvent(ctx context.Context, id uuid.UUID) (journal.Event, bool, error) {
	return j.findRecord(ctx, `SELECT payload FROM events WHERE id = ?`, id)
}

func (j *Journal) findRecord(ctx context.Context, query string, id uuid.UUID) (journal.Identifiable, bool, error) {
	var doc []byte
	err := j.db.QueryRowContext(ctx, query, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := j.codec.Decode(doc)
	if err != nil {
		return nil, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, true, nil
}

// Size returns the number of persisted records whose discriminator
// equals kind, summed across the event and command tables.
func (j *Journal) Size(ctx context.Context, kind string) (int64, error) {
	var events int64
	if err := j.db.QueryRowContext(ctx,
		`SELECT count(id) FROM events WHERE json_extract(payload, '$.@type') = ?`, kind,
	).Scan(&events); err != nil {
		return 0, err
	}
	var commands int64
	if err := j.db.QueryRowContext(ctx,
		`SELECT count(id) FROM commands WHERE json_extract(payload, '$.@type') = ?`, kind,
	).Scan(&commands); err != nil {
		return 0, err
	}
	return events + commands, nil
}

// ScanCommands streams every command of the given kind.
func (j *Journal) ScanCommands(ctx context.Context, kind string) (*journal.Cursor[journal.Command], error) {
	src, err := j.openSource(ctx, `SELECT payload FROM commands WHERE json_extract(payload, '$.@type') = ?`, kind)
	if err != nil {
		return nil, err
	}
	return journal.NewCursor[journal.Command](src, j.codec, j.fetchSize), nil
}

// ScanEvents streams every event of the given kind.
func (j *Journal) ScanEvents(ctx context.Context, kind string) (*journal.Cursor[journal.Event], error) {
	src, err := j.openSource(ctx, `SELECT payload FROM events WHERE json_extract(payload, '$.@type') = ?`, kind)
	if err != nil {
		return nil, err
	}
	return journal.NewCursor[journal.Event](src, j.codec, j.fetchSize), nil
}

// EventsOf streams every event owned by cmd.
func (j *Journal) EventsOf(ctx context.Context, cmd journal.Command) (*journal.Cursor[journal.Event], error) {
	src, err := j.openSource(ctx, `SELECT payload FROM events WHERE command_id = ?`, cmd.JournalID().String())
	if err != nil {
		return nil, err
	}
	return journal.NewCursor[journal.Event](src, j.codec, j.fetchSize), nil
}
