package migrations

// RetentionPolicies bounds table growth and adds an hourly rollup of record counts
var RetentionPolicies = &Migration{
	Name: "002_retention_policies",
	UpSQL: `
	SELECT add_retention_policy('surveillance_records', INTERVAL '90 days');
	SELECT add_retention_policy('pipeline_stats', INTERVAL '30 days');

	CREATE MATERIALIZED VIEW IF NOT EXISTS surveillance_records_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS hour,
		COUNT(*) AS record_count,
		COUNT(DISTINCT aircraft_id) AS aircraft_count
	FROM surveillance_records
	GROUP BY hour
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS surveillance_records_hourly;
	SELECT remove_retention_policy('pipeline_stats');
	SELECT remove_retention_policy('surveillance_records');
	`,
}
