// Package postgres implements the journal contract on PostgreSQL over
// database/sql. Payloads are stored as JSONB documents; scans stream
// through server-side cursors on a dedicated pooled connection.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // Postgres driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/eventreducer/journal/pkg/journal"
)

const instrumentationName = "github.com/eventreducer/journal/pkg/journal/postgres"

// Journal is the PostgreSQL-backed journal. The *sql.DB pool stays owned
// by the caller; the journal checks out one connection per operation
// (per cursor lifetime for scans).
type Journal struct {
	db        *sql.DB
	codec     *journal.Codec
	fetchSize int
	logger    *slog.Logger
	tracer    trace.Tracer

	appendedEvents metric.Int64Counter
	openedScans    metric.Int64Counter
}

// Option configures a Journal at construction.
type Option func(*Journal)

// WithFetchSize overrides the number of rows scan cursors pull per
// round-trip. Values below 1 are ignored.
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

// Open validates the server version and returns a journal backed by db.
// Construction fails if the server is older than PostgreSQL 9.5.
func Open(ctx context.Context, db *sql.DB, codec *journal.Codec, opts ...Option) (*Journal, error) {
	if codec == nil {
		return nil, errors.New("nil codec")
	}
	if err := checkServerVersion(ctx, db); err != nil {
		return nil, err
	}

	j := &Journal{
		db:        db,
		codec:     codec,
		fetchSize: journal.DefaultFetchSize,
		logger:    slog.Default().With("component", "journal.postgres"),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(j)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	j.appendedEvents, err = meter.Int64Counter("journal.events.appended",
		metric.WithDescription("Events persisted through Append"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	j.openedScans, err = meter.Int64Counter("journal.scans.opened",
		metric.WithDescription("Scan cursors opened"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	return j, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id UUID PRIMARY KEY,
	payload JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	payload JSONB NOT NULL,
	command_id UUID NOT NULL REFERENCES commands (id)
);

CREATE INDEX IF NOT EXISTS events_command_id_idx ON events (command_id);
CREATE INDEX IF NOT EXISTS events_kind_idx ON events ((payload->>'@type'));
CREATE INDEX IF NOT EXISTS commands_kind_idx ON commands ((payload->>'@type'));
`

// Init creates the journal tables if they do not exist.
func (j *Journal) Init(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, schema)
	return err
}

// Append persists cmd and every event yielded by events inside one
// transaction. The command row is written before any event row; each
// event is written as it is consumed from the sequence. Any codec or
// storage error rolls the whole batch back.
func (j *Journal) Append(ctx context.Context, cmd journal.Command, events iter.Seq[journal.Event]) (int64, error) {
	ctx, span := j.tracer.Start(ctx, "journal.Append")
	defer span.End()

	kind, err := j.codec.KindOf(cmd)
	if err != nil {
		return 0, err
	}
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
		`INSERT INTO commands (id, payload) VALUES ($1, $2)`,
		cmd.JournalID(), doc,
	); err != nil {
		return 0, fmt.Errorf("insert command %s: %w", cmd.JournalID(), err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (id, payload, command_id) VALUES ($1, $2, $3)`,
	)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	var written int64
	for ev := range events {
		evDoc, err := j.codec.Encode(ev)
		if err != nil {
			return 0, fmt.Errorf("encode event %s: %w", ev.JournalID(), err)
		}
		if _, err := stmt.ExecContext(ctx, ev.JournalID(), evDoc, cmd.JournalID()); err != nil {
			return 0, fmt.Errorf("insert event %s: %w", ev.JournalID(), err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	j.appendedEvents.Add(ctx, written,
		metric.WithAttributes(attribute.String("journal.command.kind", kind)))
	j.logger.DebugContext(ctx, "appended batch",
		"command", cmd.JournalID(), "kind", kind, "events", written)
	return written, nil
}

// FindCommand looks up a command by identifier. Absence is reported as
// (nil, false, nil).
func (j *Journal) FindCommand(ctx context.Context, id uuid.UUID) (journal.Command, bool, error) {
	return j.findRecord(ctx, `SELECT payload FROM commands WHERE id = $1`, id)
}

// FindEvent looks up an event by identifier. Absence is reported as
// (nil, false, nil).
func (j *Journal) FindEvent(ctx context.Context, id uuid.UUID) (journal.Event, bool, error) {
	return j.findRecord(ctx, `SELECT payload FROM events WHERE id = $1`, id)
}

func (j *Journal) findRecord(ctx context.Context, query string, id uuid.UUID) (journal.Identifiable, bool, error) {
	var doc []byte
	err := j.db.QueryRowContext(ctx, query, id).Scan(&doc)
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
// equals kind. Per the journal contract this is the sum of two
// independent counts over the event and command tables.
func (j *Journal) Size(ctx context.Context, kind string) (int64, error) {
	var events int64
	if err := j.db.QueryRowContext(ctx,
		`SELECT count(id) FROM events WHERE payload->>'@type' = $1`, kind,
	).Scan(&events); err != nil {
		return 0, err
	}
	var commands int64
	if err := j.db.QueryRowContext(ctx,
		`SELECT count(id) FROM commands WHERE payload->>'@type' = $1`, kind,
	).Scan(&commands); err != nil {
		return 0, err
	}
	return events + commands, nil
}

// ScanCommands streams every command of the given kind.
func (j *Journal) ScanCommands(ctx context.Context, kind string) (*journal.Cursor[journal.Command], error) {
	src, err := j.openSource(ctx, `SELECT payload FROM commands WHERE payload->>'@type' = $1`, kind)
	if err != nil {
		return nil, err
	}
	j.openedScans.Add(ctx, 1, metric.WithAttributes(attribute.String("journal.scan", "commands")))
	return journal.NewCursor[journal.Command](src, j.codec, j.fetchSize), nil
}

// ScanEvents streams every event of the given kind.
func (j *Journal) ScanEvents(ctx context.Context, kind string) (*journal.Cursor[journal.Event], error) {
	src, err := j.openSource(ctx, `SELECT payload FROM events WHERE payload->>'@type' = $1`, kind)
	if err != nil {
		return nil, err
	}
	j.openedScans.Add(ctx, 1, metric.WithAttributes(attribute.String("journal.scan", "events")))
	return journal.NewCursor[journal.Event](src, j.codec, j.fetchSize), nil
}

// EventsOf streams every event owned by cmd.
func (j *Journal) EventsOf(ctx context.Context, cmd journal.Command) (*journal.Cursor[journal.Event], error) {
	src, err := j.openSource(ctx, `SELECT payload FROM events WHERE command_id = $1`, cmd.JournalID())
	if err != nil {
		return nil, err
	}
	j.openedScans.Add(ctx, 1, metric.WithAttributes(attribute.String("journal.scan", "events_of")))
	return journal.NewCursor[journal.Event](src, j.codec, j.fetchSize), nil
}
