/*
Logic:  HTTP surface for error ingest. Parses the body the verifier
        already authenticated, validates size/required-field
        invariants, derives the fingerprint, and performs a
        non-blocking enqueue. Backpressure is never surfaced as an
        error status: a full queue still responds 200, matching the
        ACK-and-drop contract.
*/

package errorpipeline

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/fingerprint"
	"github.com/lumenwatch/ingestd/reqsign"
	"github.com/lumenwatch/ingestd/store"
)

// Handler implements POST /v1/ingest and POST /v1/ingest/batch.
type Handler struct {
	queue  *Queue
	logger zerolog.Logger
}

// NewHandler constructs a Handler backed by queue.
func NewHandler(queue *Queue, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:  queue,
		logger: logger.With().Str("component", "error-ingest-handler").Logger(),
	}
}

type acceptedResponse struct {
	Status string `json:"status"`
}

type batchResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Ingest handles POST /v1/ingest: a single raw event per request.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	projectID := reqsign.ProjectID(r.Context())
	body := reqsign.Body(r.Context())

	var raw RawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		writeBadRequest(w, "malformed json body")
		return
	}
	if err := Validate(raw); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	pe := processEvent(projectID, raw, store.NowMillis())
	if !h.queue.Enqueue(pe) {
		h.logger.Warn().Str("project_id", projectID).Str("fingerprint", pe.Fingerprint).
			Msg("ingest queue full, dropping event")
	}
	writeAccepted(w)
}

// IngestBatch handles POST /v1/ingest/batch. Malformed JSON, an
// oversized batch, or any entry failing per-event validation rejects
// the whole request with no enqueue at all. Once accepted for
// processing, each entry is enqueued independently and a queue-full
// drop is counted rather than aborting the rest of the batch.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	projectID := reqsign.ProjectID(r.Context())
	body := reqsign.Body(r.Context())

	var batch BatchRequest
	if err := json.Unmarshal(body, &batch); err != nil {
		writeBadRequest(w, "malformed json body")
		return
	}
	if err := ValidateBatch(batch); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	for _, raw := range batch.Events {
		if err := Validate(raw); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	now := store.NowMillis()
	var accepted, dropped int
	for _, raw := range batch.Events {
		pe := processEvent(projectID, raw, now)
		if h.queue.Enqueue(pe) {
			accepted++
		} else {
			dropped++
		}
	}
	writeJSON(w, http.StatusOK, batchResponse{Accepted: accepted, Dropped: dropped})
}

func processEvent(projectID string, raw RawEvent, receivedAtMs int64) ProcessedEvent {
	derived := fingerprint.Derive(raw.Source, raw.ErrorType, raw.RouteOrProcedure, raw.Message, topFrame(raw.Stack))
	raw.Fingerprint = fingerprint.ResolveOverride(raw.Fingerprint, derived)
	return ProcessedEvent{
		ProjectID:    projectID,
		Fingerprint:  raw.Fingerprint,
		ReceivedAtMs: receivedAtMs,
		Raw:          raw,
	}
}

func writeAccepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, acceptedResponse{Status: "accepted"})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
