// Package journal defines the durable command/event journal: immutable,
// type-tagged records, the store contract, and the lazy cursor used to
// stream scan results without materializing them.
//
// Backend implementations live in the subpackages (postgres, sqlite).
package journal

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// Identifiable is implemented by every payload persisted in the journal.
type Identifiable interface {
	JournalID() uuid.UUID
}

// Command is an immutable record of an intent submitted to the system.
type Command interface {
	Identifiable
}

// Event is an immutable record of an effect produced while applying a
// command. Every event is owned by exactly one command.
type Event interface {
	Identifiable
}

// Journal is the durable, append-only store of commands and events.
//
// Implementations must guarantee:
//   - Append is atomic: the command and every event it produced become
//     visible together or not at all.
//   - Point lookups report absence as (nil, false, nil), never as an error.
//   - Scans stream rows lazily and release their backing resources on
//     every exit path, including early abandonment.
type Journal interface {
	// Append persists cmd and every event yielded by events inside one
	// transaction, tagging each event with the command's identifier.
	// It returns the number of events written.
	Append(ctx context.Context, cmd Command, events iter.Seq[Event]) (int64, error)

	// FindCommand looks up a command by identifier.
	FindCommand(ctx context.Context, id uuid.UUID) (Command, bool, error)

	// FindEvent looks up an event by identifier.
	FindEvent(ctx context.Context, id uuid.UUID) (Event, bool, error)

	// Size returns the number of persisted records whose discriminator
	// equals kind, summed across commands and events.
	Size(ctx context.Context, kind string) (int64, error)

	// ScanCommands streams every command of the given kind. No ordering
	// is guaranteed.
	ScanCommands(ctx context.Context, kind string) (*Cursor[Command], error)

	// ScanEvents streams every event of the given kind. No ordering is
	// guaranteed.
	ScanEvents(ctx context.Context, kind string) (*Cursor[Event], error)

	// EventsOf streams every event owned by cmd.
	EventsOf(ctx context.Context, cmd Command) (*Cursor[Event], error)
}
