package buffer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

type appendCall struct {
	key     types.BucketKey
	records []types.Record
}

type mockSink struct {
	calls []appendCall
	err   error
}

func (m *mockSink) Append(ctx context.Context, key types.BucketKey, records []types.Record) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, appendCall{key: key, records: records})
	return nil
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func record(id string, ts time.Time) types.Record {
	lat, lon := 51.45735, -1.02826
	return types.Record{
		Kind:       types.KindReport,
		AircraftID: id,
		Timestamp:  ts,
		Latitude:   &lat,
		Longitude:  &lon,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 7, hour, minute, 0, 0, time.UTC)
}

func TestHourBuffer_Rollover(t *testing.T) {
	sink := &mockSink{}
	buf := New(sink, quietLogger())
	ctx := context.Background()

	for _, ts := range []time.Time{at(13, 58), at(13, 59), at(14, 0), at(14, 2)} {
		if err := buf.Admit(ctx, record("4CA2D6", ts)); err != nil {
			t.Fatalf("Admit() failed: %v", err)
		}
	}

	if len(sink.calls) != 1 {
		t.Fatalf("Expected exactly 1 flush, got %d", len(sink.calls))
	}
	flushed := sink.calls[0]
	want := types.BucketKey{Year: 2024, Month: 3, Day: 7, Hour: 13}
	if flushed.key != want {
		t.Errorf("Flushed key = %+v, want %+v", flushed.key, want)
	}
	if len(flushed.records) != 2 || flushed.records[0].Timestamp.Minute() != 58 || flushed.records[1].Timestamp.Minute() != 59 {
		t.Errorf("Flushed records = %v, want the 13:58 and 13:59 records", flushed.records)
	}

	remaining := buf.Records()
	if len(remaining) != 2 || !remaining[0].Timestamp.Equal(at(14, 0)) || !remaining[1].Timestamp.Equal(at(14, 2)) {
		t.Errorf("Remaining records = %v, want the 14:00 and 14:02 records", remaining)
	}
	key, started := buf.Key()
	if !started || key.Hour != 14 {
		t.Errorf("Key() = %+v, %v, want hour 14", key, started)
	}
}

func TestHourBuffer_FirstRecordDoesNotFlush(t *testing.T) {
	sink := &mockSink{}
	buf := New(sink, quietLogger())

	if err := buf.Admit(context.Background(), record("4CA2D6", at(9, 0))); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}
	if len(sink.calls) != 0 {
		t.Errorf("Expected no flush on first record, got %d", len(sink.calls))
	}
	if buf.Len() != 1 {
		t.Errorf("Len() = %d, want 1", buf.Len())
	}
}

func TestHourBuffer_DateChangeSameHour(t *testing.T) {
	sink := &mockSink{}
	buf := New(sink, quietLogger())
	ctx := context.Background()

	day1 := time.Date(2024, 3, 7, 13, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	if err := buf.Admit(ctx, record("A", day1)); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}
	if err := buf.Admit(ctx, record("A", day2)); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}

	if len(sink.calls) != 1 {
		t.Fatalf("Expected a flush across dates, got %d", len(sink.calls))
	}
	if sink.calls[0].key.Day != 7 {
		t.Errorf("Flushed day = %d, want 7", sink.calls[0].key.Day)
	}
}

func TestHourBuffer_UsesReportedTimeNotIngestTime(t *testing.T) {
	sink := &mockSink{}
	buf := New(sink, quietLogger())
	ctx := context.Background()

	late := record("A", at(13, 59))
	late.IngestedAt = at(15, 30)
	if err := buf.Admit(ctx, late); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if sink.calls[0].key.Hour != 13 {
		t.Errorf("Flushed hour = %d, want 13", sink.calls[0].key.Hour)
	}
}

func TestHourBuffer_RejectsInvalid(t *testing.T) {
	buf := New(&mockSink{}, quietLogger())
	rec := record("", at(9, 0))

	err := buf.Admit(context.Background(), rec)
	if !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("Admit() error = %v, want ErrInvalidRecord", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
	if _, started := buf.Key(); started {
		t.Error("Invalid record should not start a bucket")
	}
}

func TestHourBuffer_FlushEmptyIsNoop(t *testing.T) {
	sink := &mockSink{}
	buf := New(sink, quietLogger())

	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if len(sink.calls) != 0 {
		t.Errorf("Expected no write for empty buffer, got %d", len(sink.calls))
	}
	if buf.Flushes() != 0 {
		t.Errorf("Flushes() = %d, want 0", buf.Flushes())
	}
}

func TestHourBuffer_FlushClears(t *testing.T) {
	sink := &mockSink{}
	buf := New(sink, quietLogger())
	ctx := context.Background()

	if err := buf.Admit(ctx, record("A", at(9, 0))); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d after flush, want 0", buf.Len())
	}

	// A second flush has nothing to write.
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if len(sink.calls) != 1 {
		t.Errorf("Expected 1 write, got %d", len(sink.calls))
	}

	// Same hour continues after an explicit flush without another write.
	if err := buf.Admit(ctx, record("B", at(9, 5))); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}
	if len(sink.calls) != 1 || buf.Len() != 1 {
		t.Errorf("Expected record buffered without flush, calls=%d len=%d", len(sink.calls), buf.Len())
	}
}

func TestHourBuffer_SinkErrorKeepsRecords(t *testing.T) {
	sinkErr := errors.New("disk full")
	sink := &mockSink{}
	buf := New(sink, quietLogger())
	ctx := context.Background()

	if err := buf.Admit(ctx, record("A", at(9, 0))); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}

	sink.err = sinkErr
	err := buf.Admit(ctx, record("B", at(10, 0)))
	if !errors.Is(err, sinkErr) {
		t.Fatalf("Admit() error = %v, want %v", err, sinkErr)
	}

	records := buf.Records()
	if len(records) != 1 || records[0].AircraftID != "A" {
		t.Errorf("Records() = %v, want only A", records)
	}
	if key, _ := buf.Key(); key.Hour != 9 {
		t.Errorf("Key().Hour = %d, want 9", key.Hour)
	}
}

func TestHourBuffer_RecordsIsCopy(t *testing.T) {
	buf := New(&mockSink{}, quietLogger())
	if err := buf.Admit(context.Background(), record("A", at(9, 0))); err != nil {
		t.Fatalf("Admit() failed: %v", err)
	}
	records := buf.Records()
	records[0].AircraftID = "changed"
	if buf.Records()[0].AircraftID != "A" {
		t.Error("Records() should return a copy")
	}
}

func TestNew_NilLogger(t *testing.T) {
	buf := New(&mockSink{}, nil)
	if buf.logger == nil {
		t.Error("Expected default logger")
	}
}
