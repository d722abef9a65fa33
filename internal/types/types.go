package types

import (
	"fmt"
	"time"
)

// KindReport is the message kind carrying surveillance data
const KindReport = "MSG"

// Columns is the fixed column order used when records are written
var Columns = []string{
	"aircraft_id",
	"aircraft_type",
	"flight_id",
	"timestamp",
	"altitude",
	"ground_speed",
	"track",
	"latitude",
	"longitude",
	"callsign",
	"coarse_hash",
	"exact_hash",
	"ingested_at",
}

// Record represents one decoded surveillance report.
// Optional fields are nil (or empty/zero for strings and Timestamp) when absent.
type Record struct {
	Kind         string    `json:"kind"`
	AircraftID   string    `json:"aircraft_id"`
	AircraftType string    `json:"aircraft_type,omitempty"`
	FlightID     string    `json:"flight_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Altitude     *int      `json:"altitude,omitempty"`
	GroundSpeed  *int      `json:"ground_speed,omitempty"`
	Track        *int      `json:"track,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Callsign     string    `json:"callsign,omitempty"`
	CoarseHash   string    `json:"coarse_hash,omitempty"`
	ExactHash    string    `json:"exact_hash,omitempty"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// Valid reports whether the record may be admitted into an hour bucket
func (r *Record) Valid() bool {
	return r.Kind == KindReport &&
		r.AircraftID != "" &&
		r.Latitude != nil &&
		r.Longitude != nil &&
		!r.Timestamp.IsZero()
}

// Key returns the hour bucket the record belongs to
func (r *Record) Key() BucketKey {
	return KeyOf(r.Timestamp)
}

// BucketKey identifies one hour partition by the feed-reported timestamp
type BucketKey struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// KeyOf returns the bucket key of t
func KeyOf(t time.Time) BucketKey {
	return BucketKey{
		Year:  t.Year(),
		Month: int(t.Month()),
		Day:   t.Day(),
		Hour:  t.Hour(),
	}
}

// Date returns the key's date as YYYY-MM-DD
func (k BucketKey) Date() string {
	return fmt.Sprintf("%04d-%02d-%02d", k.Year, k.Month, k.Day)
}

// Path returns the relative partition path without extension, e.g. 2024/03/07/9
func (k BucketKey) Path() string {
	return fmt.Sprintf("%04d/%02d/%02d/%d", k.Year, k.Month, k.Day, k.Hour)
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s %02dh", k.Date(), k.Hour)
}

// PipelineStats is a point-in-time copy of the ingest counters
type PipelineStats struct {
	Time           time.Time     `json:"time"`
	Chunks         uint64        `json:"chunks"`
	Bytes          uint64        `json:"bytes"`
	Groups         uint64        `json:"groups"`
	Admitted       uint64        `json:"admitted"`
	Invalid        uint64        `json:"invalid"`
	Flushes        uint64        `json:"flushes"`
	FlushedRecords uint64        `json:"flushed_records"`
	Connects       uint64        `json:"connects"`
	Disconnects    uint64        `json:"disconnects"`
	LastRecordTime time.Time     `json:"last_record_time"`
	Uptime         time.Duration `json:"uptime"`
}
