/*
Logic:  HTTP surface for LLM-trace ingest: POST /v1/traces, POST
        /v1/traces/batch, PUT /v1/traces/{id}. Applies content-storage
        policy and cost rollup before enqueue so stripped bytes and
        microdollar costs are what the worker ever sees.
*/

package tracepipeline

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/pricing"
	"github.com/lumenwatch/ingestd/reqsign"
	"github.com/lumenwatch/ingestd/store"
)

// Handler implements the trace-ingest HTTP surface.
type Handler struct {
	queue     *Queue
	policies  *PolicyCache
	prices    *pricing.Table
	limits    Limits
	logger    zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(queue *Queue, policies *PolicyCache, prices *pricing.Table, limits Limits, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:    queue,
		policies: policies,
		prices:   prices,
		limits:   limits,
		logger:   logger.With().Str("component", "trace-ingest-handler").Logger(),
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

// Ingest handles POST /v1/traces.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	projectID := reqsign.ProjectID(r.Context())
	body := reqsign.Body(r.Context())

	var t Trace
	if err := json.Unmarshal(body, &t); err != nil {
		writeBadRequest(w, "malformed json body")
		return
	}
	if err := h.limits.ValidateTrace(t); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	pt, err := h.process(r.Context(), projectID, t, false)
	if err != nil {
		writeServerError(w)
		return
	}
	if !h.queue.Enqueue(pt) {
		h.logger.Warn().Str("project_id", projectID).Str("trace_id", t.ID).Msg("trace queue full, dropping")
	}
	writeAccepted(w)
}

// IngestBatch handles POST /v1/traces/batch.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	projectID := reqsign.ProjectID(r.Context())
	body := reqsign.Body(r.Context())

	var batch BatchRequest
	if err := json.Unmarshal(body, &batch); err != nil {
		writeBadRequest(w, "malformed json body")
		return
	}
	if err := h.limits.ValidateBatch(batch); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	for _, t := range batch.Traces {
		if err := h.limits.ValidateTrace(t); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	var accepted, dropped int
	for _, t := range batch.Traces {
		pt, err := h.process(r.Context(), projectID, t, false)
		if err != nil {
			writeServerError(w)
			return
		}
		if h.queue.Enqueue(pt) {
			accepted++
		} else {
			dropped++
		}
	}
	writeJSON(w, http.StatusOK, batchResponse{Accepted: accepted, Dropped: dropped})
}

// Update handles PUT /v1/traces/{id}: a partial update of a running
// trace.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	projectID := reqsign.ProjectID(r.Context())
	body := reqsign.Body(r.Context())
	id := chi.URLParam(r, "id")

	var t Trace
	if err := json.Unmarshal(body, &t); err != nil {
		writeBadRequest(w, "malformed json body")
		return
	}
	t.ID = id
	if err := h.limits.ValidateTrace(t); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	pt, err := h.process(r.Context(), projectID, t, true)
	if err != nil {
		writeServerError(w)
		return
	}
	if !h.queue.Enqueue(pt) {
		h.logger.Warn().Str("project_id", projectID).Str("trace_id", id).Msg("trace queue full, dropping")
	}
	writeAccepted(w)
}

func (h *Handler) process(ctx context.Context, projectID string, t Trace, partial bool) (ProcessedTrace, error) {
	policy, err := h.policies.Resolve(ctx, projectID)
	if err != nil {
		return ProcessedTrace{}, err
	}
	t = ApplyContentPolicy(t, policy)
	t = ApplyCostAndRollup(t, h.prices)
	return ProcessedTrace{
		ProjectID:    projectID,
		ReceivedAtMs: store.NowMillis(),
		Trace:        t,
		IsPartial:    partial,
	}, nil
}

func writeAccepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, acceptedResponse{Status: "accepted"})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Message: message})
}

func writeServerError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Kind: "server_error", Message: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
