/*
Logic:  Drains the trace queue with the same count-or-timer-or-closed
        batching shape as the error pipeline worker, then commits one
        transaction per flush: insert-or-replace traces, insert-or-
        replace spans, and a per-span hourly usage upsert. Multiple
        buffered entries for the same trace collapse to one
        last-write-wins row before the trace/span writes, but every
        entry still contributes its own spans' hourly deltas.
*/

package tracepipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/store"
)

// WorkerConfig bundles the worker's tunables, sourced from
// config.Config's llm_tracing.* keys.
type WorkerConfig struct {
	FlushBatchSize int
	FlushInterval  time.Duration
}

// Worker is the single long-running trace-pipeline task.
type Worker struct {
	queue  *Queue
	store  *store.Store
	cfg    WorkerConfig
	logger zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(queue *Queue, st *store.Store, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:  queue,
		store:  st,
		cfg:    cfg,
		logger: logger.With().Str("component", "trace-pipeline-worker").Logger(),
	}
}

// Run drains the queue until it is closed and drained, performing one
// final flush of any remaining buffer before returning.
func (w *Worker) Run() {
	buf := make([]ProcessedTrace, 0, w.cfg.FlushBatchSize)
	var timer *time.Timer
	var timerC <-chan time.Time

	armTimer := func() {
		if timer == nil {
			timer = time.NewTimer(w.cfg.FlushInterval)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.cfg.FlushInterval)
		}
		timerC = timer.C
	}

	for {
		select {
		case pt, ok := <-w.queue.C():
			if !ok {
				if len(buf) > 0 {
					w.flush(buf)
				}
				return
			}
			if len(buf) == 0 {
				armTimer()
			}
			buf = append(buf, pt)
			if len(buf) >= w.cfg.FlushBatchSize {
				w.flush(buf)
				buf = buf[:0]
				timerC = nil
			}

		case <-timerC:
			if len(buf) > 0 {
				w.flush(buf)
				buf = buf[:0]
			}
			timerC = nil
		}
	}
}

func (w *Worker) flush(buf []ProcessedTrace) {
	tx, err := w.store.BeginTx(context.Background())
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		tx, err = w.store.BeginTx(context.Background())
		if err != nil {
			w.logger.Warn().Err(err).Int("batch_size", len(buf)).Msg("begin tx failed twice, dropping batch")
			return
		}
	}

	ctx := context.Background()

	if err := w.writeTracesAndSpans(ctx, tx, buf); err != nil {
		w.logger.Warn().Err(err).Msg("trace/span write failed, dropping batch")
		_ = tx.Rollback()
		return
	}
	if err := w.writeHourlyDeltas(ctx, tx, buf); err != nil {
		w.logger.Warn().Err(err).Msg("hourly usage upsert failed, dropping batch")
		_ = tx.Rollback()
		return
	}

	if err := tx.Commit(); err != nil {
		w.logger.Warn().Err(err).Int("batch_size", len(buf)).Msg("commit failed, dropping batch")
	}
}

func (w *Worker) writeTracesAndSpans(ctx context.Context, tx *sql.Tx, buf []ProcessedTrace) error {
	for _, pt := range mergeLastWriteWins(buf) {
		if err := upsertTrace(ctx, tx, pt); err != nil {
			return err
		}
		for _, s := range pt.Trace.Spans {
			if err := upsertSpan(ctx, tx, pt.ProjectID, pt.Trace.ID, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeHourlyDeltas runs over every original buffered entry (not the
// merged set) so that spans from every PUT/POST contribute exactly
// once to the hourly rollup, independent of which trace row the
// last-write-wins merge ultimately persisted.
func (w *Worker) writeHourlyDeltas(ctx context.Context, tx *sql.Tx, buf []ProcessedTrace) error {
	for _, pt := range buf {
		for _, s := range pt.Trace.Spans {
			if err := upsertHourlyUsage(ctx, tx, pt.ProjectID, s); err != nil {
				return err
			}
		}
	}
	return nil
}
