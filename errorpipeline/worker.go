/*
Logic:  Drains the error queue, batching processed events until one of
        three triggers fires — buffered count, elapsed time since the
        first buffered event, or queue closure — then commits the whole
        batch in a single transaction (raw insert, aggregate upsert,
        hourly counter, sample-occurrence reservoir) and fans out
        new-fingerprint notifications to the alert channel. Generalizes
        the count-or-ticker-or-done select loop shape to a per-batch
        timer that only runs while a batch is open.
*/

package errorpipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/store"
)

// WorkerConfig bundles the worker's tunables, sourced from
// config.Config's pipeline.* keys.
type WorkerConfig struct {
	FlushBatchSize int
	FlushInterval  time.Duration
	ReservoirSize  int
}

// Worker is the single long-running error-pipeline task.
type Worker struct {
	queue   *Queue
	store   *store.Store
	agg     *Aggregator
	alertCh chan<- NewFingerprintEvent
	cfg     WorkerConfig
	logger  zerolog.Logger
}

// NewWorker constructs a Worker. alertCh may be nil, in which case
// new-fingerprint notifications are silently skipped (tests exercising
// the flush path without an alert evaluator).
func NewWorker(queue *Queue, st *store.Store, agg *Aggregator, alertCh chan<- NewFingerprintEvent, cfg WorkerConfig, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:   queue,
		store:   st,
		agg:     agg,
		alertCh: alertCh,
		cfg:     cfg,
		logger:  logger.With().Str("component", "error-pipeline-worker").Logger(),
	}
}

// Run drains the queue until it is closed and drained. It performs one
// final flush of any remaining buffer before returning, which is what
// lets the shutdown coordinator rely on Run's return to mean "fully
// drained".
func (w *Worker) Run() {
	buf := make([]ProcessedEvent, 0, w.cfg.FlushBatchSize)
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
		case pe, ok := <-w.queue.C():
			if !ok {
				if len(buf) > 0 {
					w.flush(buf)
				}
				return
			}
			if len(buf) == 0 {
				armTimer()
			}
			buf = append(buf, pe)
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

type newAggregate struct {
	projectID   string
	fingerprint string
	event       RawEvent
}

// flush commits one batch in a single transaction per spec's five
// numbered steps. Any failure (begin, after one retry, or mid-batch)
// drops the whole buffer and logs a warning; there is no retry loop
// across the batch itself, trading event loss under storage faults for
// a bounded memory footprint.
func (w *Worker) flush(buf []ProcessedEvent) {
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
	var newlyInserted []newAggregate

	for _, pe := range buf {
		if err := insertRawEvent(ctx, tx, pe); err != nil {
			w.logger.Warn().Err(err).Msg("raw event insert failed, dropping batch")
			_ = tx.Rollback()
			return
		}

		inserted, err := upsertAggregate(ctx, tx, pe)
		if err != nil {
			w.logger.Warn().Err(err).Msg("aggregate upsert failed, dropping batch")
			_ = tx.Rollback()
			return
		}
		if inserted {
			newlyInserted = append(newlyInserted, newAggregate{pe.ProjectID, pe.Fingerprint, pe.Raw})
		}

		if err := incrementHourlyCount(ctx, tx, pe); err != nil {
			w.logger.Warn().Err(err).Msg("hourly counter increment failed, dropping batch")
			_ = tx.Rollback()
			return
		}

		if !w.agg.Seen(pe.ProjectID, pe.Fingerprint) {
			if err := insertSample(ctx, tx, pe); err != nil {
				w.logger.Warn().Err(err).Msg("sample insert failed, dropping batch")
				_ = tx.Rollback()
				return
			}
			if err := pruneSamples(ctx, tx, pe, w.cfg.ReservoirSize); err != nil {
				w.logger.Warn().Err(err).Msg("sample prune failed, dropping batch")
				_ = tx.Rollback()
				return
			}
		}
	}

	if err := tx.Commit(); err != nil {
		w.logger.Warn().Err(err).Int("batch_size", len(buf)).Msg("commit failed, dropping batch")
		return
	}

	for _, pe := range buf {
		w.agg.MarkSeen(pe.ProjectID, pe.Fingerprint)
	}

	for _, na := range newlyInserted {
		w.emitNewFingerprint(na.projectID, na.fingerprint, na.event)
	}
}

func (w *Worker) emitNewFingerprint(projectID, fingerprint string, raw RawEvent) {
	if w.alertCh == nil {
		return
	}
	select {
	case w.alertCh <- NewFingerprintEvent{ProjectID: projectID, Fingerprint: fingerprint, Event: raw}:
	default:
		w.logger.Warn().Str("project_id", projectID).Str("fingerprint", fingerprint).
			Msg("alert channel full, dropping new-fingerprint notification")
	}
}

const insertRawEventSQL = `
INSERT INTO raw_events (
	project_id, fingerprint, timestamp_ms, source, environment, release,
	app_version, build_number, route_or_procedure, screen,
	error_type, message, stack, http_status, request_id,
	user_id_hash, device_id_hash, metadata, received_at_ms
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`

func insertRawEvent(ctx context.Context, tx *sql.Tx, pe ProcessedEvent) error {
	r := pe.Raw
	var httpStatus sql.NullInt64
	if r.HTTPStatus != nil {
		httpStatus = sql.NullInt64{Int64: int64(*r.HTTPStatus), Valid: true}
	}
	_, err := tx.ExecContext(ctx, insertRawEventSQL,
		pe.ProjectID, pe.Fingerprint, r.Timestamp, r.Source, r.Environment, r.Release,
		r.AppVersion, r.BuildNumber, r.RouteOrProcedure, r.Screen,
		r.ErrorType, r.Message, r.Stack, httpStatus, r.RequestID,
		r.UserIDHash, r.DeviceIDHash, string(r.Metadata), pe.ReceivedAtMs,
	)
	return err
}

// total_count is 1 only on the branch that just inserted the row: the
// insert literal sets it to 1, and the conflict branch always adds 1 to
// an existing value of at least 1. RETURNING lets one statement do both
// the upsert and the novelty check without a prior SELECT.
const upsertAggregateSQL = `
INSERT INTO error_aggregates (
	project_id, fingerprint, release, environment,
	total_count, first_seen_ms, last_seen_ms,
	error_type, message, source, route_or_procedure, screen, status
) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, 'unresolved')
ON CONFLICT(project_id, fingerprint, release, environment) DO UPDATE SET
	total_count  = error_aggregates.total_count + 1,
	last_seen_ms = MAX(error_aggregates.last_seen_ms, excluded.last_seen_ms),
	status       = CASE WHEN error_aggregates.status = 'resolved' THEN 'unresolved' ELSE error_aggregates.status END
RETURNING total_count
`

func upsertAggregate(ctx context.Context, tx *sql.Tx, pe ProcessedEvent) (inserted bool, err error) {
	r := pe.Raw
	var totalCount int64
	err = tx.QueryRowContext(ctx, upsertAggregateSQL,
		pe.ProjectID, pe.Fingerprint, r.Release, r.Environment,
		r.Timestamp, r.Timestamp,
		r.ErrorType, r.Message, r.Source, r.RouteOrProcedure, r.Screen,
	).Scan(&totalCount)
	if err != nil {
		return false, err
	}
	return totalCount == 1, nil
}

const incrementHourlyCountSQL = `
INSERT INTO event_counts_hourly (project_id, fingerprint, hour_bucket, environment, source, count)
VALUES (?, ?, ?, ?, ?, 1)
ON CONFLICT(project_id, fingerprint, hour_bucket, environment, source) DO UPDATE SET
	count = event_counts_hourly.count + 1
`

func incrementHourlyCount(ctx context.Context, tx *sql.Tx, pe ProcessedEvent) error {
	hourBucket := pe.Raw.Timestamp / 3_600_000
	_, err := tx.ExecContext(ctx, incrementHourlyCountSQL,
		pe.ProjectID, pe.Fingerprint, hourBucket, pe.Raw.Environment, pe.Raw.Source,
	)
	return err
}

const insertSampleSQL = `
INSERT INTO sample_occurrences (project_id, fingerprint, captured_at_ms, event_json)
VALUES (?, ?, ?, ?)
`

func insertSample(ctx context.Context, tx *sql.Tx, pe ProcessedEvent) error {
	body, err := json.Marshal(pe.Raw)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, insertSampleSQL, pe.ProjectID, pe.Fingerprint, pe.ReceivedAtMs, body)
	return err
}

const pruneSamplesSQL = `
DELETE FROM sample_occurrences
WHERE project_id = ? AND fingerprint = ?
AND id NOT IN (
	SELECT id FROM sample_occurrences
	WHERE project_id = ? AND fingerprint = ?
	ORDER BY captured_at_ms DESC
	LIMIT ?
)
`

func pruneSamples(ctx context.Context, tx *sql.Tx, pe ProcessedEvent, reservoirSize int) error {
	_, err := tx.ExecContext(ctx, pruneSamplesSQL,
		pe.ProjectID, pe.Fingerprint, pe.ProjectID, pe.Fingerprint, reservoirSize,
	)
	return err
}
