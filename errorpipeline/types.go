package errorpipeline

import "encoding/json"

const (
	maxMessageBytes  = 2 * 1024
	maxStackBytes    = 8 * 1024
	maxMetadataBytes = 4 * 1024
	maxPayloadBytes  = 32 * 1024
	maxBatchEntries  = 50
)

// RawEvent is the wire shape of one error event submitted by a client
// SDK.
type RawEvent struct {
	Timestamp        int64           `json:"timestamp"`
	Source           string          `json:"source"`
	Environment      string          `json:"environment"`
	Release          string          `json:"release"`
	AppVersion       string          `json:"app_version,omitempty"`
	BuildNumber      string          `json:"build_number,omitempty"`
	RouteOrProcedure string          `json:"route_or_procedure,omitempty"`
	Screen           string          `json:"screen,omitempty"`
	ErrorType        string          `json:"error_type"`
	Message          string          `json:"message"`
	Stack            string          `json:"stack,omitempty"`
	HTTPStatus       *int            `json:"http_status,omitempty"`
	RequestID        string          `json:"request_id,omitempty"`
	UserIDHash       string          `json:"user_id_hash,omitempty"`
	DeviceIDHash     string          `json:"device_id_hash,omitempty"`
	Fingerprint      string          `json:"fingerprint,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// BatchRequest is the wire shape of POST /v1/ingest/batch.
type BatchRequest struct {
	Events []RawEvent `json:"events"`
}

// ProcessedEvent is a RawEvent plus its derived fingerprint and
// receive timestamp. Immutable once enqueued; owned exclusively by
// the worker after dequeue.
type ProcessedEvent struct {
	ProjectID    string
	Fingerprint  string
	ReceivedAtMs int64
	Raw          RawEvent
}

// NewFingerprintEvent is emitted to the alert channel when a flush
// inserts a brand-new error_aggregates row (as opposed to updating an
// existing one).
type NewFingerprintEvent struct {
	ProjectID   string
	Fingerprint string
	Event       RawEvent
}

// topFrame extracts the first non-empty line of a stack trace, or ""
// if the stack is empty.
func topFrame(stack string) string {
	for _, line := range splitLines(stack) {
		if line != "" {
			return line
		}
	}
	return ""
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, trimCR(s[start:i]))
			start = i + 1
		}
	}
	lines = append(lines, trimCR(s[start:]))
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}
