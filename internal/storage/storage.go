package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

// Extension of every partition file
const Extension = ".csv.gz"

// FileSink writes hour buckets as gzip-compressed CSV under outputDir/YYYY/MM/DD/H.csv.gz.
// Each Append adds a new gzip member, so a partition file is a valid multi-member stream.
type FileSink struct {
	outputDir string
}

// New creates a new FileSink rooted at outputDir
func New(outputDir string) *FileSink {
	return &FileSink{outputDir: outputDir}
}

// PathFor returns the partition file for key
func (s *FileSink) PathFor(key types.BucketKey) string {
	return filepath.Join(s.outputDir, filepath.FromSlash(key.Path())+Extension)
}

// Append writes records to the partition identified by key, creating it if needed
func (s *FileSink) Append(ctx context.Context, key types.BucketKey, records []types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	path := s.PathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}

	writeHeader := true
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		writeHeader = false
	}

	//nolint:gosec // path is derived from the bucket key
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open partition file: %w", err)
	}

	if err := writeMember(file, records, writeHeader); err != nil {
		file.Close()
		return fmt.Errorf("failed to write partition %s: %w", key, err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync partition file: %w", err)
	}
	return file.Close()
}

func writeMember(file *os.File, records []types.Record, header bool) error {
	gzipWriter := gzip.NewWriter(file)
	writer := csv.NewWriter(gzipWriter)

	if header {
		if err := writer.Write(types.Columns); err != nil {
			return err
		}
	}
	for i := range records {
		if err := writer.Write(Row(&records[i])); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return gzipWriter.Close()
}

// Row formats a record in types.Columns order; absent values are empty
func Row(r *types.Record) []string {
	return []string{
		r.AircraftID,
		r.AircraftType,
		r.FlightID,
		formatTime(r.Timestamp),
		formatInt(r.Altitude),
		formatInt(r.GroundSpeed),
		formatInt(r.Track),
		formatFloat(r.Latitude),
		formatFloat(r.Longitude),
		r.Callsign,
		r.CoarseHash,
		r.ExactHash,
		formatTime(r.IngestedAt),
	}
}

// ReadAll decodes every gzip member of a partition file and returns its CSV rows, header included
func ReadAll(path string) ([][]string, error) {
	//nolint:gosec // path is supplied by the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzipReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gzipReader.Close()

	rows, err := csv.NewReader(gzipReader).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return rows, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
