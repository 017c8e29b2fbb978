package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/eventreducer/journal/pkg/journal"
)

func encodeEvent(t *testing.T, ev testEvent) []byte {
	t.Helper()
	doc, err := testCodec(t).Encode(ev)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestScanEventsBatchesAndSelfCleans(t *testing.T) {
	j, mock, _ := openMock(t, WithFetchSize(2))
	ctx := context.Background()

	e1 := encodeEvent(t, testEvent{ID: uuid.New(), Seq: 1})
	e2 := encodeEvent(t, testEvent{ID: uuid.New(), Seq: 2})
	e3 := encodeEvent(t, testEvent{ID: uuid.New(), Seq: 3})

	mock.ExpectBegin()
	mock.ExpectExec("DECLARE journal_scan_\\d+ NO SCROLL CURSOR FOR SELECT payload FROM events").
		WithArgs("test_event").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FETCH FORWARD 2 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(e1).AddRow(e2))
	mock.ExpectQuery("FETCH FORWARD 2 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(e3))
	mock.ExpectQuery("FETCH FORWARD 2 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectExec("CLOSE journal_scan_").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	cur, err := j.ScanEvents(ctx, "test_event")
	if err != nil {
		t.Fatalf("scan events: %s", err)
	}

	var seqs []int
	for cur.Next() {
		rec, err := cur.Record()
		if err != nil {
			t.Fatalf("record: %s", err)
		}
		seqs = append(seqs, rec.(*testEvent).Seq)
	}
	if cur.Err() != nil {
		t.Fatalf("cursor error: %s", cur.Err())
	}
	if len(seqs) != 3 {
		t.Errorf("expected 3 events, got %v", seqs)
	}

	// Exhaustion is self-cleaning: no explicit Close needed.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
	if cur.Next() {
		t.Error("Next after exhaustion must stay false")
	}
}

func TestScanAbandonmentReleases(t *testing.T) {
	j, mock, _ := openMock(t, WithFetchSize(2))
	ctx := context.Background()

	e1 := encodeEvent(t, testEvent{ID: uuid.New(), Seq: 1})
	e2 := encodeEvent(t, testEvent{ID: uuid.New(), Seq: 2})

	mock.ExpectBegin()
	mock.ExpectExec("DECLARE journal_scan_\\d+ NO SCROLL CURSOR FOR SELECT payload FROM events").
		WithArgs("test_event").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FETCH FORWARD 2 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(e1).AddRow(e2))
	mock.ExpectExec("CLOSE journal_scan_").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	cur, err := j.ScanEvents(ctx, "test_event")
	if err != nil {
		t.Fatalf("scan events: %s", err)
	}

	if !cur.Next() {
		t.Fatal("expected a first row")
	}
	if _, err := cur.Record(); err != nil {
		t.Fatalf("record: %s", err)
	}

	// Abandon mid-scan; the server cursor, transaction and connection
	// must still be released.
	if err := cur.Close(); err != nil {
		t.Fatalf("close: %s", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
	if err := cur.Close(); err != nil {
		t.Errorf("repeated close must be a no-op, got %s", err)
	}
}

func TestScanDecodeFailureReleases(t *testing.T) {
	j, mock, _ := openMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DECLARE journal_scan_\\d+ NO SCROLL CURSOR FOR SELECT payload FROM events").
		WithArgs("test_event").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FETCH FORWARD 1024 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{"@type":"bogus"}`)))
	mock.ExpectExec("CLOSE journal_scan_").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	cur, err := j.ScanEvents(ctx, "test_event")
	if err != nil {
		t.Fatalf("scan events: %s", err)
	}

	if !cur.Next() {
		t.Fatal("expected a row")
	}
	if _, err := cur.Record(); !errors.Is(err, journal.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("decode failure must release resources: %s", err)
	}
}

func TestEventsOfDeclaresOwnerScan(t *testing.T) {
	j, mock, _ := openMock(t, WithFetchSize(8))
	ctx := context.Background()

	cmd := testCommand{ID: uuid.New(), Name: "deposit"}
	e1 := encodeEvent(t, testEvent{ID: uuid.New(), Seq: 1})

	mock.ExpectBegin()
	mock.ExpectExec("DECLARE journal_scan_\\d+ NO SCROLL CURSOR FOR SELECT payload FROM events WHERE command_id").
		WithArgs(cmd.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FETCH FORWARD 8 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(e1))
	mock.ExpectQuery("FETCH FORWARD 8 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectExec("CLOSE journal_scan_").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	cur, err := j.EventsOf(ctx, cmd)
	if err != nil {
		t.Fatalf("events of: %s", err)
	}

	var count int
	for cur.Next() {
		if _, err := cur.Record(); err != nil {
			t.Fatalf("record: %s", err)
		}
		count++
	}
	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestScanEmptyResult(t *testing.T) {
	j, mock, _ := openMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DECLARE journal_scan_\\d+ NO SCROLL CURSOR FOR SELECT payload FROM commands").
		WithArgs("never_stored").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FETCH FORWARD 1024 FROM journal_scan_").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectExec("CLOSE journal_scan_").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	cur, err := j.ScanCommands(ctx, "never_stored")
	if err != nil {
		t.Fatalf("scan commands: %s", err)
	}
	if cur.Next() {
		t.Error("expected an empty sequence")
	}
	if cur.Err() != nil {
		t.Errorf("empty scan is not an error, got %s", cur.Err())
	}
}
