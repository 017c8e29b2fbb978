package journal

import (
	"errors"
	"fmt"
	"iter"
)

// DefaultFetchSize is the number of rows a cursor pulls from its row
// source per round-trip when no override is configured.
const DefaultFetchSize = 1024

// ErrCursorClosed is returned by Record once a cursor has been closed.
var ErrCursorClosed = errors.New("cursor is closed")

// ErrNoRow is returned by Record when Next has not positioned the cursor
// on a row.
var ErrNoRow = errors.New("cursor has no current row")

// RowSource supplies batches of raw stored documents to a Cursor and
// owns the server-side resources behind them (cursor, transaction,
// connection). Implementations live in the backend packages.
type RowSource interface {
	// NextBatch returns up to n raw payload documents. An empty batch
	// with a nil error signals exhaustion.
	NextBatch(n int) ([][]byte, error)

	// Release frees every resource backing the source. It must be safe
	// to call more than once.
	Release() error
}

// Cursor is a lazy, single-pass, forward-only sequence of decoded
// payloads over a server-held result set. At most one fetch batch is
// buffered in memory. The row source is released exactly once, on
// whichever comes first: natural exhaustion, Close, or a fetch/decode
// failure. There is no finalizer backstop; every exit path releases
// explicitly.
type Cursor[T Identifiable] struct {
	src       RowSource
	codec     *Codec
	fetchSize int

	batch  [][]byte
	pos    int
	cur    []byte
	closed bool
	err    error
}

// NewCursor wraps a row source. Backend packages call this; library
// users obtain cursors from the scan operations of a Journal.
func NewCursor[T Identifiable](src RowSource, codec *Codec, fetchSize int) *Cursor[T] {
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	return &Cursor[T]{src: src, codec: codec, fetchSize: fetchSize}
}

// Next advances to the next row, pulling a new batch from the row source
// when the buffered one is spent. It reports false once the sequence is
// done; resources are released before the first false is returned, and
// further calls keep returning false without error.
func (c *Cursor[T]) Next() bool {
	if c.closed {
		return false
	}
	if c.pos >= len(c.batch) {
		batch, err := c.src.NextBatch(c.fetchSize)
		if err != nil {
			c.close(fmt.Errorf("fetch batch: %w", err))
			return false
		}
		if len(batch) == 0 {
			c.close(nil)
			return false
		}
		c.batch, c.pos = batch, 0
	}
	c.cur = c.batch[c.pos]
	c.pos++
	return true
}

// Record decodes the row Next positioned the cursor on. Decoding happens
// on demand, one row at a time. A decode failure closes the cursor
// before the error is returned.
func (c *Cursor[T]) Record() (T, error) {
	var zero T
	if c.closed {
		if c.err != nil {
			return zero, c.err
		}
		return zero, ErrCursorClosed
	}
	if c.cur == nil {
		return zero, ErrNoRow
	}
	rec, err := c.codec.Decode(c.cur)
	if err != nil {
		c.close(err)
		return zero, err
	}
	typed, ok := rec.(T)
	if !ok {
		err := fmt.Errorf("decoded %T is not the scanned record kind", rec)
		c.close(err)
		return zero, err
	}
	return typed, nil
}

// Err returns the first fetch or decode failure observed, if any.
func (c *Cursor[T]) Err() error {
	return c.err
}

// Close terminates iteration early and releases the row source. It is
// idempotent and safe to call after exhaustion. It returns the first
// error the cursor observed, including any release failure.
func (c *Cursor[T]) Close() error {
	c.close(nil)
	return c.err
}

// All returns a range-over-func view of the remaining records. Breaking
// out of the loop closes the cursor; iteration also stops at the first
// decode failure, which Err reports afterwards.
func (c *Cursor[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		defer func() { _ = c.Close() }()
		for c.Next() {
			rec, err := c.Record()
			if err != nil {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}

func (c *Cursor[T]) close(cause error) {
	if c.closed {
		return
	}
	c.closed = true
	c.batch, c.cur = nil, nil
	relErr := c.src.Release()
	if c.err == nil {
		switch {
		case cause != nil:
			c.err = cause
		case relErr != nil:
			c.err = fmt.Errorf("release cursor: %w", relErr)
		}
	}
}
