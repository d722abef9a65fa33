package parser

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"

	"github.com/saviobatista/sbs-archiver/internal/types"
)

// Field positions within a message group
const (
	fieldKind         = 0
	fieldAircraftType = 3
	fieldAircraftID   = 4
	fieldFlightID     = 5
	fieldDateLogged   = 8
	fieldTimeLogged   = 9
	fieldCallsign     = 10
	fieldAltitude     = 11
	fieldGroundSpeed  = 12
	fieldTrack        = 13
	fieldLatitude     = 14
	fieldLongitude    = 15

	minFields = fieldLongitude + 1
)

var timestampLayouts = []string{
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
}

// Decode converts one message group into a record stamped with ingestedAt.
// It never fails: a group that cannot be decoded yields a record with every
// field absent, which Valid rejects.
func Decode(g Group, ingestedAt time.Time) types.Record {
	rec, err := decodeFields(g)
	if err != nil {
		return types.Record{IngestedAt: ingestedAt}
	}
	rec.IngestedAt = ingestedAt
	return rec
}

func decodeFields(g Group) (types.Record, error) {
	if len(g) < minFields {
		return types.Record{}, fmt.Errorf("expected at least %d fields, got %d", minFields, len(g))
	}

	rec := types.Record{
		Kind:         g[fieldKind],
		AircraftType: g[fieldAircraftType],
		AircraftID:   g[fieldAircraftID],
		FlightID:     g[fieldFlightID],
		Callsign:     strings.TrimSpace(g[fieldCallsign]),
	}

	var err error
	if rec.Timestamp, err = parseTimestamp(g[fieldDateLogged], g[fieldTimeLogged]); err != nil {
		return types.Record{}, err
	}
	if rec.Altitude, err = optionalInt(g[fieldAltitude]); err != nil {
		return types.Record{}, fmt.Errorf("invalid altitude: %w", err)
	}
	if rec.GroundSpeed, err = optionalRounded(g[fieldGroundSpeed]); err != nil {
		return types.Record{}, fmt.Errorf("invalid ground speed: %w", err)
	}
	if rec.Track, err = optionalRounded(g[fieldTrack]); err != nil {
		return types.Record{}, fmt.Errorf("invalid track: %w", err)
	}
	if rec.Latitude, err = optionalFloat(g[fieldLatitude]); err != nil {
		return types.Record{}, fmt.Errorf("invalid latitude: %w", err)
	}
	if rec.Longitude, err = optionalFloat(g[fieldLongitude]); err != nil {
		return types.Record{}, fmt.Errorf("invalid longitude: %w", err)
	}

	if rec.AircraftID != "" && rec.Latitude != nil && rec.Longitude != nil && !rec.Timestamp.IsZero() {
		rec.CoarseHash = CoarseHash(rec.AircraftID, *rec.Latitude, *rec.Longitude, rec.Timestamp)
		rec.ExactHash = ExactHash(rec.AircraftID, *rec.Latitude, *rec.Longitude, rec.Timestamp)
	}

	return rec, nil
}

// parseTimestamp composes the logged date and time fields; both empty means absent
func parseTimestamp(date, clock string) (time.Time, error) {
	if date == "" && clock == "" {
		return time.Time{}, nil
	}
	value := date + " " + clock
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

func optionalInt(field string) (*int, error) {
	if field == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// optionalRounded accepts decimal input, as some receivers report speed and track with a fraction
func optionalRounded(field string) (*int, error) {
	f, err := optionalFloat(field)
	if f == nil || err != nil {
		return nil, err
	}
	v := int(math.Round(*f))
	return &v, nil
}

func optionalFloat(field string) (*float64, error) {
	if field == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("non-finite value %q", field)
	}
	return &v, nil
}

// CoarseHash fingerprints an aircraft position at 4 decimal places and minute granularity
func CoarseHash(aircraftID string, lat, lon float64, ts time.Time) string {
	key := strings.Join([]string{
		aircraftID,
		strconv.FormatFloat(round4(lat), 'f', 4, 64),
		strconv.FormatFloat(round4(lon), 'f', 4, 64),
		ts.UTC().Truncate(time.Minute).Format("2006-01-02T15:04"),
	}, "|")
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// ExactHash fingerprints an aircraft position at full precision
func ExactHash(aircraftID string, lat, lon float64, ts time.Time) string {
	key := strings.Join([]string{
		aircraftID,
		strconv.FormatFloat(lat, 'g', -1, 64),
		strconv.FormatFloat(lon, 'g', -1, 64),
		ts.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0
	}
	return r
}
