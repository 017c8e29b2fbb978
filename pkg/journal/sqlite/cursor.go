package sqlite

import (
	"context"
	"database/sql"

	"github.com/eventreducer/journal/pkg/journal"
)

// rowSource streams one query's rows on a dedicated pooled connection.
// SQLite has no server-side cursor protocol; the driver already streams
// rows lazily, so batching here only bounds how many documents sit in
// the cursor's buffer at once.
type rowSource struct {
	conn     *sql.Conn
	rows     *sql.Rows
	released bool
}

func (j *Journal) openSource(ctx context.Context, query string, args ...any) (journal.RowSource, error) {
	conn, err := j.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &rowSource{conn: conn, rows: rows}, nil
}

func (s *rowSource) NextBatch(n int) ([][]byte, error) {
	if s.released {
		return nil, nil
	}
	batch := make([][]byte, 0, n)
	for len(batch) < n && s.rows.Next() {
		var doc []byte
		if err := s.rows.Scan(&doc); err != nil {
			return nil, err
		}
		batch = append(batch, doc)
	}
	if len(batch) < n {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func (s *rowSource) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var first error
	if err := s.rows.Close(); err != nil {
		first = err
	}
	if err := s.conn.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
