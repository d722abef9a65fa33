package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

func testRecord(id string, ts time.Time) types.Record {
	lat, lon := 51.45735, -1.02826
	alt := 36000
	return types.Record{
		Kind:         types.KindReport,
		AircraftID:   id,
		AircraftType: "1",
		FlightID:     "1",
		Timestamp:    ts,
		Altitude:     &alt,
		Latitude:     &lat,
		Longitude:    &lon,
		Callsign:     "BAW123",
		CoarseHash:   "c0ffee",
		ExactHash:    "deadbeef",
		IngestedAt:   ts.Add(time.Second),
	}
}

var key = types.BucketKey{Year: 2024, Month: 3, Day: 7, Hour: 9}

func TestNew(t *testing.T) {
	outputDir := "/test/output"
	sink := New(outputDir)

	if sink == nil {
		t.Fatal("New() returned nil")
	}
	if sink.outputDir != outputDir {
		t.Errorf("Expected outputDir to be %s, got %s", outputDir, sink.outputDir)
	}
}

func TestFileSink_PathFor(t *testing.T) {
	sink := New("/data/adsb")
	want := filepath.Join("/data/adsb", "2024", "03", "07", "9.csv.gz")
	if got := sink.PathFor(key); got != want {
		t.Errorf("PathFor() = %s, want %s", got, want)
	}
}

func TestFileSink_AppendCreatesPartition(t *testing.T) {
	tempDir := t.TempDir()
	sink := New(tempDir)
	ts := time.Date(2024, 3, 7, 9, 15, 30, 0, time.UTC)

	records := []types.Record{testRecord("AAAAAA", ts), testRecord("BBBBBB", ts.Add(time.Minute))}
	if err := sink.Append(context.Background(), key, records); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	rows, err := ReadAll(sink.PathFor(key))
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header + 2 rows, got %d", len(rows))
	}
	for i, col := range types.Columns {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %s, want %s", i, rows[0][i], col)
		}
	}
	if rows[1][0] != "AAAAAA" || rows[2][0] != "BBBBBB" {
		t.Errorf("Unexpected row order: %v", rows[1:])
	}
	if rows[1][3] != "2024-03-07T09:15:30Z" {
		t.Errorf("timestamp = %s, want 2024-03-07T09:15:30Z", rows[1][3])
	}
	if rows[1][7] != "51.45735" || rows[1][8] != "-1.02826" {
		t.Errorf("position = %s,%s", rows[1][7], rows[1][8])
	}
}

func TestFileSink_AppendToExistingPartition(t *testing.T) {
	tempDir := t.TempDir()
	sink := New(tempDir)
	ts := time.Date(2024, 3, 7, 9, 15, 30, 0, time.UTC)
	ctx := context.Background()

	if err := sink.Append(ctx, key, []types.Record{testRecord("AAAAAA", ts)}); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}
	if err := sink.Append(ctx, key, []types.Record{testRecord("BBBBBB", ts)}); err != nil {
		t.Fatalf("second Append() failed: %v", err)
	}

	// A fresh sink, as after a restart, keeps appending.
	if err := New(tempDir).Append(ctx, key, []types.Record{testRecord("CCCCCC", ts)}); err != nil {
		t.Fatalf("third Append() failed: %v", err)
	}

	rows, err := ReadAll(sink.PathFor(key))
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected one header and 3 rows, got %d rows", len(rows))
	}
	for i, id := range []string{"AAAAAA", "BBBBBB", "CCCCCC"} {
		if rows[i+1][0] != id {
			t.Errorf("row[%d] = %s, want %s", i+1, rows[i+1][0], id)
		}
	}
}

func TestFileSink_AppendEmptyWritesNothing(t *testing.T) {
	tempDir := t.TempDir()
	sink := New(tempDir)

	if err := sink.Append(context.Background(), key, nil); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if _, err := os.Stat(sink.PathFor(key)); !os.IsNotExist(err) {
		t.Errorf("Expected no partition file, stat err = %v", err)
	}
}

func TestFileSink_AppendCanceledContext(t *testing.T) {
	sink := New(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ts := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)
	if err := sink.Append(ctx, key, []types.Record{testRecord("A", ts)}); err == nil {
		t.Error("Expected error for canceled context")
	}
}

func TestFileSink_AppendInvalidDirectory(t *testing.T) {
	tempDir := t.TempDir()
	blocker := filepath.Join(tempDir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	sink := New(blocker)
	ts := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)
	if err := sink.Append(context.Background(), key, []types.Record{testRecord("A", ts)}); err == nil {
		t.Error("Expected error when output directory is a file")
	}
}

func TestRow_AbsentValues(t *testing.T) {
	rec := types.Record{AircraftID: "A"}
	row := Row(&rec)

	if len(row) != len(types.Columns) {
		t.Fatalf("Expected %d columns, got %d", len(types.Columns), len(row))
	}
	for i, v := range row[1:] {
		if v != "" {
			t.Errorf("column %s = %q, want empty", types.Columns[i+1], v)
		}
	}
}

func TestReadAll_MissingFile(t *testing.T) {
	if _, err := ReadAll(filepath.Join(t.TempDir(), "missing.csv.gz")); err == nil {
		t.Error("Expected error for missing file")
	}
}
