/*
Logic:  SQLite DDL for every table the ingest core persists to.
        Issued as idempotent CREATE TABLE/INDEX IF NOT EXISTS
        statements once at startup — this is schema creation, not a
        migration runner (that remains an external collaborator).
*/

package store

// ProjectsSchema is read-only from the core's perspective; it backs
// the project-key cache.
const ProjectsSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	project_key  TEXT NOT NULL UNIQUE,
	hmac_secret  TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
`

const RawEventsSchema = `
CREATE TABLE IF NOT EXISTS raw_events (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id          TEXT NOT NULL,
	fingerprint         TEXT NOT NULL,
	timestamp_ms        INTEGER NOT NULL,
	source              TEXT NOT NULL,
	environment         TEXT NOT NULL,
	release             TEXT NOT NULL,
	app_version         TEXT,
	build_number        TEXT,
	route_or_procedure  TEXT,
	screen              TEXT,
	error_type          TEXT NOT NULL,
	message             TEXT NOT NULL,
	stack               TEXT,
	http_status         INTEGER,
	request_id          TEXT,
	user_id_hash        TEXT,
	device_id_hash      TEXT,
	metadata            TEXT,
	received_at_ms      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_events_project_fp ON raw_events(project_id, fingerprint);
`

const ErrorAggregatesSchema = `
CREATE TABLE IF NOT EXISTS error_aggregates (
	project_id          TEXT NOT NULL,
	fingerprint         TEXT NOT NULL,
	release             TEXT NOT NULL,
	environment         TEXT NOT NULL,
	total_count         INTEGER NOT NULL DEFAULT 0,
	first_seen_ms       INTEGER NOT NULL,
	last_seen_ms        INTEGER NOT NULL,
	error_type          TEXT NOT NULL,
	message             TEXT NOT NULL,
	source              TEXT NOT NULL,
	route_or_procedure  TEXT,
	screen              TEXT,
	status              TEXT NOT NULL DEFAULT 'unresolved',
	PRIMARY KEY (project_id, fingerprint, release, environment)
);
`

const SampleOccurrencesSchema = `
CREATE TABLE IF NOT EXISTS sample_occurrences (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id      TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	captured_at_ms  INTEGER NOT NULL,
	event_json      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_project_fp_captured
	ON sample_occurrences(project_id, fingerprint, captured_at_ms DESC);
`

const EventCountsHourlySchema = `
CREATE TABLE IF NOT EXISTS event_counts_hourly (
	project_id    TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	hour_bucket   INTEGER NOT NULL,
	environment   TEXT NOT NULL,
	source        TEXT NOT NULL,
	count         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, fingerprint, hour_bucket, environment, source)
);
`

const AlertCooldownsSchema = `
CREATE TABLE IF NOT EXISTS alert_cooldowns (
	project_id    TEXT NOT NULL,
	rule_id       TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	last_fired_ms INTEGER NOT NULL,
	PRIMARY KEY (project_id, rule_id, fingerprint)
);
`

const LLMTracesSchema = `
CREATE TABLE IF NOT EXISTS llm_traces (
	project_id      TEXT NOT NULL,
	id              TEXT NOT NULL,
	name            TEXT NOT NULL,
	status          TEXT NOT NULL,
	session_id      TEXT,
	user_id         TEXT,
	prompt_name     TEXT,
	prompt_version  TEXT,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	total_tokens    INTEGER NOT NULL DEFAULT 0,
	cost_micros     INTEGER NOT NULL DEFAULT 0,
	input           TEXT,
	output          TEXT,
	metadata        TEXT,
	started_at_ms   INTEGER NOT NULL,
	ended_at_ms     INTEGER,
	created_at_ms   INTEGER NOT NULL,
	PRIMARY KEY (project_id, id)
);
`

const LLMSpansSchema = `
CREATE TABLE IF NOT EXISTS llm_spans (
	project_id              TEXT NOT NULL,
	id                      TEXT NOT NULL,
	trace_id                TEXT NOT NULL,
	parent_span_id          TEXT,
	span_type               TEXT NOT NULL,
	model                   TEXT,
	provider                TEXT,
	input_tokens            INTEGER NOT NULL DEFAULT 0,
	output_tokens           INTEGER NOT NULL DEFAULT 0,
	total_tokens            INTEGER NOT NULL DEFAULT 0,
	cost_micros             INTEGER NOT NULL DEFAULT 0,
	latency_ms              INTEGER,
	time_to_first_token_ms  INTEGER,
	status                  TEXT NOT NULL,
	error_message           TEXT,
	input                   TEXT,
	output                  TEXT,
	metadata                TEXT,
	started_at_ms           INTEGER NOT NULL,
	PRIMARY KEY (project_id, id)
);
CREATE INDEX IF NOT EXISTS idx_spans_project_trace ON llm_spans(project_id, trace_id);
`

const LLMUsageHourlySchema = `
CREATE TABLE IF NOT EXISTS llm_usage_hourly (
	project_id         TEXT NOT NULL,
	hour_bucket        INTEGER NOT NULL,
	model              TEXT NOT NULL,
	provider           TEXT NOT NULL,
	span_count         INTEGER NOT NULL DEFAULT 0,
	input_tokens       INTEGER NOT NULL DEFAULT 0,
	output_tokens      INTEGER NOT NULL DEFAULT 0,
	total_tokens       INTEGER NOT NULL DEFAULT 0,
	cost_micros        INTEGER NOT NULL DEFAULT 0,
	error_count        INTEGER NOT NULL DEFAULT 0,
	total_latency_ms   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, hour_bucket, model, provider)
);
`

const LLMProjectSettingsSchema = `
CREATE TABLE IF NOT EXISTS llm_project_settings (
	project_id              TEXT PRIMARY KEY,
	content_storage_policy  TEXT NOT NULL DEFAULT 'metadata_only'
);
`

const LLMAlertCooldownsSchema = `
CREATE TABLE IF NOT EXISTS llm_alert_cooldowns (
	project_id    TEXT NOT NULL,
	rule_id       TEXT NOT NULL,
	metric_key    TEXT NOT NULL,
	last_fired_ms INTEGER NOT NULL,
	PRIMARY KEY (project_id, rule_id, metric_key)
);
`

// AllSchemas returns every DDL statement in dependency order.
func AllSchemas() []string {
	return []string{
		ProjectsSchema,
		RawEventsSchema,
		ErrorAggregatesSchema,
		SampleOccurrencesSchema,
		EventCountsHourlySchema,
		AlertCooldownsSchema,
		LLMTracesSchema,
		LLMSpansSchema,
		LLMUsageHourlySchema,
		LLMProjectSettingsSchema,
		LLMAlertCooldownsSchema,
	}
}
