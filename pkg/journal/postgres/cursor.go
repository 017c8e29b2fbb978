package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/eventreducer/journal/pkg/journal"
)

var cursorSeq atomic.Uint64

// rowSource streams one query's rows through a server-side cursor,
// pulling a batch per FETCH. It owns a dedicated pooled connection and
// the read-only transaction the cursor lives in; Release returns the
// connection to the pool.
type rowSource struct {
	// ctx scopes every FETCH to the scan that opened the cursor.
	ctx      context.Context
	conn     *sql.Conn
	tx       *sql.Tx
	name     string
	released bool
}

func (j *Journal) openSource(ctx context.Context, query string, args ...any) (journal.RowSource, error) {
	conn, err := j.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	name := fmt.Sprintf("journal_scan_%d", cursorSeq.Add(1))
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", name, query), args...,
	); err != nil {
		_ = tx.Rollback()
		_ = conn.Close()
		return nil, fmt.Errorf("declare cursor: %w", err)
	}

	return &rowSource{ctx: ctx, conn: conn, tx: tx, name: name}, nil
}

func (s *rowSource) NextBatch(n int) ([][]byte, error) {
	if s.released {
		return nil, nil
	}
	rows, err := s.tx.QueryContext(s.ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", n, s.name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	batch := make([][]byte, 0, n)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		batch = append(batch, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *rowSource) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var first error
	if _, err := s.tx.ExecContext(s.ctx, "CLOSE "+s.name); err != nil {
		first = err
	}
	if err := s.tx.Rollback(); err != nil && first == nil {
		first = err
	}
	if err := s.conn.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
