package migrations

// InitialSchema creates the record and statistics hypertables
var InitialSchema = &Migration{
	Name: "001_initial_schema",
	UpSQL: `
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		CREATE TABLE IF NOT EXISTS surveillance_records (
			bucket_year SMALLINT NOT NULL,
			bucket_month SMALLINT NOT NULL,
			bucket_day SMALLINT NOT NULL,
			bucket_hour SMALLINT NOT NULL,
			aircraft_id TEXT NOT NULL,
			aircraft_type TEXT,
			flight_id TEXT,
			time TIMESTAMPTZ NOT NULL,
			altitude INTEGER,
			ground_speed INTEGER,
			track INTEGER,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			callsign TEXT,
			coarse_hash TEXT NOT NULL,
			exact_hash TEXT NOT NULL,
			ingested_at TIMESTAMPTZ NOT NULL
		);

		SELECT create_hypertable('surveillance_records', 'time', if_not_exists => TRUE);

		CREATE INDEX IF NOT EXISTS idx_surveillance_records_bucket
			ON surveillance_records (bucket_year, bucket_month, bucket_day, bucket_hour);
		CREATE INDEX IF NOT EXISTS idx_surveillance_records_aircraft ON surveillance_records (aircraft_id, time DESC);
		CREATE INDEX IF NOT EXISTS idx_surveillance_records_exact_hash ON surveillance_records (exact_hash);

		CREATE TABLE IF NOT EXISTS pipeline_stats (
			time TIMESTAMPTZ NOT NULL,
			chunks BIGINT NOT NULL,
			bytes BIGINT NOT NULL,
			message_groups BIGINT NOT NULL,
			admitted BIGINT NOT NULL,
			invalid BIGINT NOT NULL,
			flushes BIGINT NOT NULL,
			flushed_records BIGINT NOT NULL,
			connects BIGINT NOT NULL,
			disconnects BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		SELECT create_hypertable('pipeline_stats', 'time', if_not_exists => TRUE);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS pipeline_stats;
		DROP TABLE IF EXISTS surveillance_records;
	`,
}
