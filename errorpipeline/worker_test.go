package errorpipeline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/errorpipeline"
	"github.com/lumenwatch/ingestd/fingerprint"
	"github.com/lumenwatch/ingestd/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func buildEvent(projectID string, raw errorpipeline.RawEvent) errorpipeline.ProcessedEvent {
	fp := fingerprint.Derive(raw.Source, raw.ErrorType, raw.RouteOrProcedure, raw.Message, "")
	raw.Fingerprint = fingerprint.ResolveOverride(raw.Fingerprint, fp)
	return errorpipeline.ProcessedEvent{
		ProjectID:    projectID,
		Fingerprint:  raw.Fingerprint,
		ReceivedAtMs: raw.Timestamp,
		Raw:          raw,
	}
}

func testWorkerConfig(reservoirSize int) errorpipeline.WorkerConfig {
	return errorpipeline.WorkerConfig{
		FlushBatchSize: 500,
		FlushInterval:  2 * time.Second,
		ReservoirSize:  reservoirSize,
	}
}

func TestWorkerFlushDedupsNumericDrift(t *testing.T) {
	st := newTestStore(t)
	agg, err := errorpipeline.NewAggregator()
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	defer agg.Close()

	queue := errorpipeline.NewQueue(10)
	alertCh := make(chan errorpipeline.NewFingerprintEvent, 10)
	worker := errorpipeline.NewWorker(queue, st, agg, alertCh, testWorkerConfig(5), zerolog.Nop())

	eventA := buildEvent("proj1", errorpipeline.RawEvent{
		Timestamp: 1700000000000, Source: "api", Environment: "prod", Release: "1.0.0",
		ErrorType: "TimeoutError", Message: "Timeout after 5000ms",
	})
	eventB := buildEvent("proj1", errorpipeline.RawEvent{
		Timestamp: 1700000000100, Source: "api", Environment: "prod", Release: "1.0.0",
		ErrorType: "TimeoutError", Message: "Timeout after 3000ms",
	})

	if eventA.Fingerprint != eventB.Fingerprint {
		t.Fatalf("expected equal fingerprints for numeric drift, got %s vs %s", eventA.Fingerprint, eventB.Fingerprint)
	}

	queue.Enqueue(eventA)
	queue.Enqueue(eventB)
	queue.Close()

	worker.Run()

	var totalCount int
	err = st.DB.QueryRowContext(context.Background(),
		`SELECT total_count FROM error_aggregates WHERE project_id = ? AND fingerprint = ? AND release = ? AND environment = ?`,
		"proj1", eventA.Fingerprint, "1.0.0", "prod",
	).Scan(&totalCount)
	if err != nil {
		t.Fatalf("query aggregate: %v", err)
	}
	if totalCount != 2 {
		t.Fatalf("expected total_count=2, got %d", totalCount)
	}

	select {
	case ev := <-alertCh:
		if ev.Fingerprint != eventA.Fingerprint {
			t.Fatalf("unexpected fingerprint in alert event: %s", ev.Fingerprint)
		}
	default:
		t.Fatalf("expected a new-fingerprint alert to be emitted")
	}

	var sampleCount int
	err = st.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sample_occurrences WHERE project_id = ? AND fingerprint = ?`,
		"proj1", eventA.Fingerprint,
	).Scan(&sampleCount)
	if err != nil {
		t.Fatalf("query samples: %v", err)
	}
	if sampleCount == 0 {
		t.Fatalf("expected at least one sample occurrence")
	}
}

func TestWorkerResolvedAggregateTransitionsToUnresolved(t *testing.T) {
	st := newTestStore(t)
	agg, err := errorpipeline.NewAggregator()
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	defer agg.Close()

	event := buildEvent("proj1", errorpipeline.RawEvent{
		Timestamp: 1700000000000, Source: "api", Environment: "prod", Release: "1.0.0",
		ErrorType: "TypeError", Message: "Cannot read property id of undefined",
	})

	_, err = st.DB.Exec(
		`INSERT INTO error_aggregates (project_id, fingerprint, release, environment, total_count, first_seen_ms, last_seen_ms, error_type, message, source, route_or_procedure, screen, status)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, '', '', 'resolved')`,
		"proj1", event.Fingerprint, "1.0.0", "prod", event.Raw.Timestamp, event.Raw.Timestamp, event.Raw.ErrorType, event.Raw.Message, event.Raw.Source,
	)
	if err != nil {
		t.Fatalf("seed resolved aggregate: %v", err)
	}

	queue := errorpipeline.NewQueue(10)
	worker := errorpipeline.NewWorker(queue, st, agg, nil, testWorkerConfig(5), zerolog.Nop())

	queue.Enqueue(event)
	queue.Close()
	worker.Run()

	var status string
	var totalCount int
	err = st.DB.QueryRowContext(context.Background(),
		`SELECT status, total_count FROM error_aggregates WHERE project_id = ? AND fingerprint = ? AND release = ? AND environment = ?`,
		"proj1", event.Fingerprint, "1.0.0", "prod",
	).Scan(&status, &totalCount)
	if err != nil {
		t.Fatalf("query aggregate: %v", err)
	}
	if status != "unresolved" {
		t.Fatalf("expected status=unresolved after recurrence, got %s", status)
	}
	if totalCount != 2 {
		t.Fatalf("expected total_count=2, got %d", totalCount)
	}
}

func TestWorkerReservoirNeverExceedsConfiguredSize(t *testing.T) {
	st := newTestStore(t)
	agg, err := errorpipeline.NewAggregator()
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	defer agg.Close()

	queue := errorpipeline.NewQueue(10)
	worker := errorpipeline.NewWorker(queue, st, agg, nil, testWorkerConfig(2), zerolog.Nop())

	for i := 0; i < 5; i++ {
		ev := buildEvent("proj1", errorpipeline.RawEvent{
			Timestamp: 1700000000000 + int64(i), Source: "api", Environment: "prod", Release: "1.0.0",
			ErrorType: "TypeError", Message: "boom",
		})
		queue.Enqueue(ev)
	}
	queue.Close()
	worker.Run()

	fp := fingerprint.Derive("api", "TypeError", "", "boom", "")
	var count int
	err = st.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sample_occurrences WHERE project_id = ? AND fingerprint = ?`,
		"proj1", fp,
	).Scan(&count)
	if err != nil {
		t.Fatalf("query samples: %v", err)
	}
	if count > 2 {
		t.Fatalf("expected at most 2 sample rows, got %d", count)
	}
}
