/*
Logic:  Entry point: wires config → logger → store → auth caches →
        the error and trace pipelines → the alert evaluator → the
        HTTP router, then blocks on an OS signal for a graceful
        shutdown that drains both ingest queues before the process
        exits.
*/

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/alerts"
	"github.com/lumenwatch/ingestd/config"
	"github.com/lumenwatch/ingestd/errorpipeline"
	"github.com/lumenwatch/ingestd/logger"
	"github.com/lumenwatch/ingestd/pricing"
	"github.com/lumenwatch/ingestd/projectkey"
	"github.com/lumenwatch/ingestd/reqsign"
	"github.com/lumenwatch/ingestd/router"
	"github.com/lumenwatch/ingestd/store"
	"github.com/lumenwatch/ingestd/tracepipeline"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Msg("ingestd starting")

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer db.Close()

	if err := projectkey.EnsureDefaultProject(context.Background(), db.DB, cfg.DefaultHMACSecret); err != nil {
		log.Fatal().Err(err).Msg("ensure default project failed")
	}

	keyCache := projectkey.New(projectkey.StoreLoader(db.DB), 0)
	verifier := reqsign.New(keyCache, cfg.MaxBodyBytes, log)

	// Error pipeline (C1-C5).
	errQueue := errorpipeline.NewQueue(cfg.ErrorChannelCapacity)
	agg, err := errorpipeline.NewAggregator()
	if err != nil {
		log.Fatal().Err(err).Msg("aggregator init failed")
	}
	defer agg.Close()

	alertCh := make(chan errorpipeline.NewFingerprintEvent, cfg.AlertChannelCapacity)
	errWorker := errorpipeline.NewWorker(errQueue, db, agg, alertCh, errorpipeline.WorkerConfig{
		FlushBatchSize: cfg.ErrorFlushBatchSize,
		FlushInterval:  cfg.ErrorFlushInterval,
		ReservoirSize:  cfg.SampleReservoirSize,
	}, log)
	errHandler := errorpipeline.NewHandler(errQueue, log)

	// Alert evaluator (C8). Rule management has no admin surface in
	// this core, so the fleet of rules it evaluates against is the
	// single default new_issue rule with no filters.
	dispatchSink := alerts.NewLogDispatchSink(log)
	evaluator := alerts.NewEvaluator(alertCh, db, []alerts.Rule{
		{ID: "default-new-issue", Type: alerts.NewIssueRule, Cooldown: 15 * time.Minute},
	}, dispatchSink, log)

	// LLM trace pipeline (C6-C7).
	traceQueue := tracepipeline.NewQueue(cfg.LLMChannelCapacity)
	priceTable := pricing.NewTable()
	policyCache := tracepipeline.NewPolicyCache(
		tracepipeline.StorePolicyLoader(db.DB, tracepipeline.ContentPolicy(cfg.LLMDefaultContentStorage)), 0)
	traceWorker := tracepipeline.NewWorker(traceQueue, db, tracepipeline.WorkerConfig{
		FlushBatchSize: cfg.LLMFlushBatchSize,
		FlushInterval:  cfg.LLMFlushInterval,
	}, log)
	traceHandler := tracepipeline.NewHandler(traceQueue, policyCache, priceTable, tracepipeline.Limits{
		MaxSpansPerTrace: cfg.LLMMaxSpansPerTrace,
		MaxBatchSize:     cfg.LLMMaxBatchSize,
	}, log)

	var errWorkerDone, evaluatorDone, traceWorkerDone sync.WaitGroup

	errWorkerDone.Add(1)
	go func() {
		defer errWorkerDone.Done()
		errWorker.Run()
		// alertCh has exactly one sender (errWorker); closing it here,
		// once that sender is guaranteed done, lets the evaluator's
		// range loop terminate without racing a send-after-close.
		close(alertCh)
	}()

	evaluatorDone.Add(1)
	go func() { defer evaluatorDone.Done(); evaluator.Run() }()

	if cfg.LLMTracingEnabled {
		traceWorkerDone.Add(1)
		go func() { defer traceWorkerDone.Done(); traceWorker.Run() }()
	}

	handler := router.New(log, verifier, errHandler, traceHandler)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("ingestd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}

	// Closing the ingest queues lets each worker's final flush run and
	// return from Run(); closing alertCh only after the error worker
	// has stopped means no new-fingerprint send can race the close.
	errQueue.Close()
	traceQueue.Close()

	drained := make(chan struct{})
	go func() {
		errWorkerDone.Wait()
		evaluatorDone.Wait()
		traceWorkerDone.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info().Msg("ingestd stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timed out waiting for pipeline drain")
	}
}
