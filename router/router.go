/*
Logic:  Mounts the ingest HTTP surface: RequestID → Recoverer →
        structured request logger, then the error and trace handlers
        behind the HMAC request verifier, which also enforces the
        body-size cap before any signature work. Health checks
        stay outside the verifier so a load balancer can probe without
        a signed body.
*/

package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/errorpipeline"
	"github.com/lumenwatch/ingestd/reqsign"
	"github.com/lumenwatch/ingestd/tracepipeline"
)

// New returns a configured chi Router with the full middleware chain
// and every ingest route mounted.
func New(appLogger zerolog.Logger, verifier *reqsign.Verifier, errHandler *errorpipeline.Handler, traceHandler *tracepipeline.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(appLogger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"ingestd"}`))
	})

	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)

		r.Post("/v1/ingest", errHandler.Ingest)
		r.Post("/v1/ingest/batch", errHandler.IngestBatch)

		r.Post("/v1/traces", traceHandler.Ingest)
		r.Post("/v1/traces/batch", traceHandler.IngestBatch)
		r.Put("/v1/traces/{id}", traceHandler.Update)
	})

	return r
}

func requestLogger(appLogger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			appLogger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
