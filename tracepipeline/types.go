package tracepipeline

import "encoding/json"

const maxTraceIDLen = 128

// ContentPolicy controls which textual fields of a trace/span survive
// ingest into durable storage.
type ContentPolicy string

const (
	PolicyNone         ContentPolicy = "none"
	PolicyMetadataOnly ContentPolicy = "metadata_only"
	PolicyFull         ContentPolicy = "full"
)

// Span is the wire shape of one LLM operation within a trace.
type Span struct {
	ID                 string          `json:"id"`
	ParentSpanID       string          `json:"parent_span_id,omitempty"`
	SpanType           string          `json:"span_type"`
	Model              string          `json:"model,omitempty"`
	Provider           string          `json:"provider,omitempty"`
	InputTokens        int             `json:"input_tokens"`
	OutputTokens       int             `json:"output_tokens"`
	TotalTokens        int             `json:"total_tokens"`
	Cost               *float64        `json:"cost,omitempty"`
	CostMicros         int64           `json:"-"`
	LatencyMs          *int            `json:"latency_ms,omitempty"`
	TimeToFirstTokenMs *int            `json:"time_to_first_token_ms,omitempty"`
	Status             string          `json:"status"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	Input              json.RawMessage `json:"input,omitempty"`
	Output             json.RawMessage `json:"output,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	StartedAt          int64           `json:"started_at"`
}

// Trace is the wire shape of a top-level LLM interaction grouping.
type Trace struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Status        string          `json:"status,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	PromptName    string          `json:"prompt_name,omitempty"`
	PromptVersion string          `json:"prompt_version,omitempty"`
	InputTokens   int             `json:"input_tokens"`
	OutputTokens  int             `json:"output_tokens"`
	TotalTokens   int             `json:"total_tokens"`
	CostMicros    int64           `json:"cost_micros"`
	Input         json.RawMessage `json:"input,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	StartedAt     int64           `json:"started_at"`
	EndedAt       *int64          `json:"ended_at,omitempty"`
	Spans         []Span          `json:"spans,omitempty"`
}

// BatchRequest is the wire shape of POST /v1/traces/batch.
type BatchRequest struct {
	Traces []Trace `json:"traces"`
}

// ProcessedTrace is a Trace after content-policy projection and cost
// rollup, stamped with its receive time and whether it originated from
// a PUT (partial update of a running trace) rather than a POST.
type ProcessedTrace struct {
	ProjectID    string
	ReceivedAtMs int64
	Trace        Trace
	IsPartial    bool
}
