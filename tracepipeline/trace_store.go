/*
Logic:  The durable-store writes a flush performs: insert-or-replace
        trace/span rows and the per-span hourly usage delta upsert.
        PUT updates (pt.IsPartial) are resolved against the currently
        stored row before the replace, since a blind INSERT OR REPLACE
        would otherwise clobber fields the partial payload omitted.
*/

package tracepipeline

import (
	"context"
	"database/sql"
	"encoding/json"
)

// traceKey identifies a trace row across (possibly several) entries
// buffered in the same flush.
type traceKey struct {
	projectID string
	traceID   string
}

// mergeLastWriteWins collapses multiple buffered entries for the same
// (project_id, trace_id) into one: the last entry for a key wins
// wholesale (its IsPartial flag included), per the documented
// resolution for concurrent updates within a single flush window.
// Hourly usage deltas are still derived from every original entry by
// the caller — this merge only affects what gets written to
// llm_traces/llm_spans.
func mergeLastWriteWins(buf []ProcessedTrace) []ProcessedTrace {
	order := make([]traceKey, 0, len(buf))
	latest := make(map[traceKey]ProcessedTrace, len(buf))
	for _, pt := range buf {
		k := traceKey{pt.ProjectID, pt.Trace.ID}
		if _, exists := latest[k]; !exists {
			order = append(order, k)
		}
		latest[k] = pt
	}
	merged := make([]ProcessedTrace, 0, len(order))
	for _, k := range order {
		merged = append(merged, latest[k])
	}
	return merged
}

// mergePartialTrace overlays a partial (PUT) trace onto the
// previously stored row: non-empty scalar fields replace the stored
// value, token/cost rollups are additive (a PUT's spans are new spans
// completed since the trace started running, not a restatement of the
// whole trace), and the resulting Spans are the incoming spans only
// (already-persisted spans from an earlier flush are left untouched).
func mergePartialTrace(existing, incoming Trace) Trace {
	merged := existing
	if incoming.Name != "" {
		merged.Name = incoming.Name
	}
	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	if incoming.SessionID != "" {
		merged.SessionID = incoming.SessionID
	}
	if incoming.UserID != "" {
		merged.UserID = incoming.UserID
	}
	if incoming.PromptName != "" {
		merged.PromptName = incoming.PromptName
	}
	if incoming.PromptVersion != "" {
		merged.PromptVersion = incoming.PromptVersion
	}
	if incoming.Input != nil {
		merged.Input = incoming.Input
	}
	if incoming.Output != nil {
		merged.Output = incoming.Output
	}
	if incoming.Metadata != nil {
		merged.Metadata = incoming.Metadata
	}
	if incoming.EndedAt != nil {
		merged.EndedAt = incoming.EndedAt
	}
	merged.InputTokens += incoming.InputTokens
	merged.OutputTokens += incoming.OutputTokens
	merged.TotalTokens += incoming.TotalTokens
	merged.CostMicros += incoming.CostMicros
	merged.Spans = incoming.Spans
	return merged
}

const loadTraceSQL = `
SELECT name, status, session_id, user_id, prompt_name, prompt_version,
       input_tokens, output_tokens, total_tokens, cost_micros,
       input, output, metadata, started_at_ms, ended_at_ms, created_at_ms
FROM llm_traces WHERE project_id = ? AND id = ?
`

func loadTrace(ctx context.Context, tx *sql.Tx, projectID, id string) (Trace, int64, error) {
	var (
		t                                             Trace
		sessionID, userID, promptName, promptVersion  sql.NullString
		inputRaw, outputRaw, metadataRaw               sql.NullString
		endedAt                                        sql.NullInt64
		createdAt                                      int64
	)
	err := tx.QueryRowContext(ctx, loadTraceSQL, projectID, id).Scan(
		&t.Name, &t.Status, &sessionID, &userID, &promptName, &promptVersion,
		&t.InputTokens, &t.OutputTokens, &t.TotalTokens, &t.CostMicros,
		&inputRaw, &outputRaw, &metadataRaw, &t.StartedAt, &endedAt, &createdAt,
	)
	if err != nil {
		return Trace{}, 0, err
	}
	t.ID = id
	t.SessionID = sessionID.String
	t.UserID = userID.String
	t.PromptName = promptName.String
	t.PromptVersion = promptVersion.String
	if inputRaw.Valid && inputRaw.String != "" {
		t.Input = json.RawMessage(inputRaw.String)
	}
	if outputRaw.Valid && outputRaw.String != "" {
		t.Output = json.RawMessage(outputRaw.String)
	}
	if metadataRaw.Valid && metadataRaw.String != "" {
		t.Metadata = json.RawMessage(metadataRaw.String)
	}
	if endedAt.Valid {
		v := endedAt.Int64
		t.EndedAt = &v
	}
	return t, createdAt, nil
}

const upsertTraceSQL = `
INSERT OR REPLACE INTO llm_traces (
	project_id, id, name, status, session_id, user_id, prompt_name, prompt_version,
	input_tokens, output_tokens, total_tokens, cost_micros,
	input, output, metadata, started_at_ms, ended_at_ms, created_at_ms
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`

func upsertTrace(ctx context.Context, tx *sql.Tx, pt ProcessedTrace) error {
	t := pt.Trace
	createdAt := pt.ReceivedAtMs

	if pt.IsPartial {
		existing, existingCreatedAt, err := loadTrace(ctx, tx, pt.ProjectID, t.ID)
		switch err {
		case nil:
			t = mergePartialTrace(existing, t)
			createdAt = existingCreatedAt
		case sql.ErrNoRows:
			// no prior row: a PUT arriving before its POST (or after the
			// original trace aged out) is stored as-is.
		default:
			return err
		}
	}

	var endedAt sql.NullInt64
	if t.EndedAt != nil {
		endedAt = sql.NullInt64{Int64: *t.EndedAt, Valid: true}
	}

	_, err := tx.ExecContext(ctx, upsertTraceSQL,
		pt.ProjectID, t.ID, t.Name, t.Status, t.SessionID, t.UserID, t.PromptName, t.PromptVersion,
		t.InputTokens, t.OutputTokens, t.TotalTokens, t.CostMicros,
		string(t.Input), string(t.Output), string(t.Metadata),
		t.StartedAt, endedAt, createdAt,
	)
	return err
}

const upsertSpanSQL = `
INSERT OR REPLACE INTO llm_spans (
	project_id, id, trace_id, parent_span_id, span_type, model, provider,
	input_tokens, output_tokens, total_tokens, cost_micros,
	latency_ms, time_to_first_token_ms, status, error_message,
	input, output, metadata, started_at_ms
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`

func upsertSpan(ctx context.Context, tx *sql.Tx, projectID, traceID string, s Span) error {
	var latency, ttft sql.NullInt64
	if s.LatencyMs != nil {
		latency = sql.NullInt64{Int64: int64(*s.LatencyMs), Valid: true}
	}
	if s.TimeToFirstTokenMs != nil {
		ttft = sql.NullInt64{Int64: int64(*s.TimeToFirstTokenMs), Valid: true}
	}
	_, err := tx.ExecContext(ctx, upsertSpanSQL,
		projectID, s.ID, traceID, s.ParentSpanID, s.SpanType, s.Model, s.Provider,
		s.InputTokens, s.OutputTokens, s.TotalTokens, s.CostMicros,
		latency, ttft, s.Status, s.ErrorMessage,
		string(s.Input), string(s.Output), string(s.Metadata), s.StartedAt,
	)
	return err
}

const upsertHourlyUsageSQL = `
INSERT INTO llm_usage_hourly (
	project_id, hour_bucket, model, provider,
	span_count, input_tokens, output_tokens, total_tokens, cost_micros, error_count, total_latency_ms
) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
ON CONFLICT(project_id, hour_bucket, model, provider) DO UPDATE SET
	span_count       = llm_usage_hourly.span_count + 1,
	input_tokens     = llm_usage_hourly.input_tokens + excluded.input_tokens,
	output_tokens    = llm_usage_hourly.output_tokens + excluded.output_tokens,
	total_tokens     = llm_usage_hourly.total_tokens + excluded.total_tokens,
	cost_micros      = llm_usage_hourly.cost_micros + excluded.cost_micros,
	error_count      = llm_usage_hourly.error_count + excluded.error_count,
	total_latency_ms = llm_usage_hourly.total_latency_ms + excluded.total_latency_ms
`

func upsertHourlyUsage(ctx context.Context, tx *sql.Tx, projectID string, s Span) error {
	hourBucket := s.StartedAt / 3_600_000
	errorCount := 0
	if s.Status == "error" {
		errorCount = 1
	}
	latency := 0
	if s.LatencyMs != nil {
		latency = *s.LatencyMs
	}
	_, err := tx.ExecContext(ctx, upsertHourlyUsageSQL,
		projectID, hourBucket, s.Model, s.Provider,
		s.InputTokens, s.OutputTokens, s.TotalTokens, s.CostMicros, errorCount, latency,
	)
	return err
}
